package hook

// DefaultConcurrency bounds in-flight hook calls when no option is given.
const DefaultConcurrency = 10

type options struct {
	concurrency  int
	ignoreErrors bool
}

// Option configures a single fan-out.
type Option func(*options)

// WithConcurrency bounds how many hook calls run at once. Values below 1
// are ignored.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithIgnoreErrors logs per-app failures instead of aborting the fan-out.
func WithIgnoreErrors() Option {
	return func(o *options) { o.ignoreErrors = true }
}

func buildOptions(opts []Option) options {
	o := options{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
