package dispatch

import (
	"context"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds one outbound request.
const DefaultTimeout = 30 * time.Second

// drainLimit caps how much of a response body is read before closing.
const drainLimit = 1 << 20

// Sender performs an outbound request.
type Sender interface {
	Send(ctx context.Context, req *http.Request) (*http.Response, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f SenderFunc) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// HTTPSender sends with an *http.Client.
type HTTPSender struct {
	Client *http.Client
}

// NewHTTPSender returns a sender using a dedicated client that does not
// follow redirects. The stored request is sent as-is; a redirect is the
// target's answer, not a new request to schedule.
func NewHTTPSender() *HTTPSender {
	return &HTTPSender{Client: &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (s *HTTPSender) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req.WithContext(ctx))
}

// drain reads and closes the response body so the connection can be reused.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	_ = resp.Body.Close()
}
