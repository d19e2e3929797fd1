package redis

// Redis key naming conventions for timeli data.
// All keys are prefixed with "timeli:" to avoid collisions.

const keyPrefix = "timeli:"

// ── Job keys ──

// jobKey returns the key for a job hash: timeli:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// delayedKey returns the Sorted Set of a queue's eligible jobs scored by
// run time in milliseconds: timeli:queue:{name}:delayed
func delayedKey(queue string) string { return keyPrefix + "queue:" + queue + ":delayed" }

// waitingKey returns the Sorted Set of a queue's due jobs scored by
// priority then run time: timeli:queue:{name}:waiting
func waitingKey(queue string) string { return keyPrefix + "queue:" + queue + ":waiting" }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// queuesKey is the Set of every queue name that has seen a job.
const queuesKey = keyPrefix + "queues"

// ── Session keys ──

// kvKey returns the key of an ephemeral value: timeli:kv:{key}
func kvKey(key string) string { return keyPrefix + "kv:" + key }

const kvPrefix = keyPrefix + "kv:"
