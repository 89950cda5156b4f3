package registry

import "github.com/jdziat/simple-delayed-requests/pkg/core"

const (
	jobsNamespace     = "jobs"
	countersNamespace = "counters"
	jobIDCounter      = "job_id"
)

// JobKey is the key of a job record.
func JobKey(queue string, id uint64) core.Key {
	return core.NewKey(jobsNamespace, queue, id)
}

// QueuePrefix selects every job in queue.
func QueuePrefix(queue string) core.Key {
	return core.NewKey(jobsNamespace, queue)
}

// JobsPrefix selects every job in every queue.
func JobsPrefix() core.Key {
	return core.NewKey(jobsNamespace)
}

// CounterKey holds the last allocated job id.
func CounterKey() core.Key {
	return core.NewKey(countersNamespace, jobIDCounter)
}

// splitJobKey extracts queue and id from a job key.
func splitJobKey(k core.Key) (string, uint64, bool) {
	if len(k) != 3 || k[0] != jobsNamespace {
		return "", 0, false
	}
	queue, ok := k[1].(string)
	if !ok {
		return "", 0, false
	}
	id, ok := k[2].(uint64)
	if !ok {
		return "", 0, false
	}
	return queue, id, true
}
