package redis

// Redis key naming conventions for conductor data.
// All keys are prefixed with "conductor:" to avoid collisions.

const keyPrefix = "conductor:"

// jobKey returns the key for a job hash: conductor:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// statusKey returns the Set tracking job IDs in a status:
// conductor:jobs:status:{status}
func statusKey(status string) string { return keyPrefix + "jobs:status:" + status }
