// Package job defines the job entity, its two payload shapes, the payload
// codecs and the queue backend contract.
//
// # Job Entity
//
// A [Job] is a unit of deferred work. Every job has a kind:
//
//   - [KindApp]: targets one connected app instance. The payload names the
//     app and an operation type with its typed data.
//   - [KindHook]: targets every app registered for a capability scope. The
//     payload names the scope, the method and its arguments.
//
// Jobs progress through a small state machine:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed
//
// A cancelled job is removed from the backend.
//
// # Identity and deduplication
//
// A job ID supplied by the caller is the backend's dedup key: while a job
// with that ID is live (pending, retrying or running) a second enqueue is
// rejected with timeli.ErrJobAlreadyExists. Composite keys such as
// [NotificationKey] are encoded once with [Key.Encode] so identifiers that
// contain delimiters cannot collide.
//
// # Payloads
//
// Payloads are encoded with a [Codec] ([JSON] or [Msgpack]) and the codec
// name is stored on the job, so typed structs (including time.Time fields)
// round-trip without any string heuristics.
//
// # Typed handlers
//
// Apps that accept several job types use a [Registry] of typed
// [Definition] values, keyed by the app payload's Type:
//
//	var Sweep = job.NewDefinition("sweep",
//	    func(ctx context.Context, in SweepInput) error { ... },
//	)
//	job.RegisterDefinition(registry, Sweep)
package job
