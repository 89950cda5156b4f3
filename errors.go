package later

import "github.com/jdziat/simple-delayed-requests/pkg/core"

// Error variables
var (
	ErrInvalidRequest     = core.ErrInvalidRequest
	ErrInvalidQueueName   = core.ErrInvalidQueueName
	ErrQueueNameTooLong   = core.ErrQueueNameTooLong
	ErrRequestTooLarge    = core.ErrRequestTooLarge
	ErrContention         = core.ErrContention
	ErrStorageUnavailable = core.ErrStorageUnavailable
)
