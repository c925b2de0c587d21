package redis

// Redis key naming conventions for work data.
// All keys are prefixed with "jobmanager:" to avoid collisions.

const keyPrefix = "jobmanager:"

// workKey returns the key for a work item: jobmanager:work:{id}
func workKey(id string) string { return keyPrefix + "work:" + id }

// groupKey returns the List key of a group's pending chain: jobmanager:group:{name}
func groupKey(name string) string { return keyPrefix + "group:" + name }

// groupSeqKey returns the counter key of a group: jobmanager:group_seq:{name}
func groupSeqKey(name string) string { return keyPrefix + "group_seq:" + name }

// readyKey is the Sorted Set of enqueued work IDs scored by run_at millis.
const readyKey = keyPrefix + "ready"

// workIDsKey is the Set tracking all work IDs for enumeration.
const workIDsKey = keyPrefix + "work_ids"
