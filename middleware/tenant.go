package middleware

import (
	"context"
	"fmt"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/job"
)

// Tenant returns middleware that restores the job's tenant into the
// context. A job without a tenant is a contract violation and fails
// permanently.
func Tenant() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.TenantID == "" {
			return timeli.Permanent(fmt.Errorf("%w: job %s", timeli.ErrMissingTenant, j.ID))
		}
		return next(timeli.WithTenant(ctx, j.TenantID))
	}
}
