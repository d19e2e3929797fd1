package timeli

import "time"

// Config holds configuration shared by the scheduler and worker processes.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently by
	// one worker process.
	Concurrency int

	// Queues is the list of queues this worker will poll.
	Queues []string

	// PollInterval is how often an idle worker polls for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// StartTimeout bounds the wait for the backend to become ready.
	StartTimeout time.Duration

	// HealthInterval is how often Run pings the backend connection.
	HealthInterval time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before a running job without a
	// heartbeat is considered stalled and handed back to the queue.
	StaleJobThreshold time.Duration

	// MaxRetries is the default attempt budget for jobs that do not set
	// their own.
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{DefaultQueue},
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		StartTimeout:      10 * time.Second,
		HealthInterval:    15 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 1 * time.Minute,
		MaxRetries:        3,
	}
}

// DefaultQueue is the queue used by jobs that do not name one.
const DefaultQueue = "default"
