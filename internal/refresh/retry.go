package refresh

import (
	"context"
	stderrors "errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"entitle-pg-backend/internal/domain/ports"
)

// maxVersionRetries bounds how many times a refresh is replayed after losing
// a version-constraint race to a concurrent transaction
const maxVersionRetries = 4

// withVersionRetry runs op, replaying it on ErrEntityVersionConstraint. Each
// replay rebuilds all state from the store, so the losing transaction sees
// the winner's rows as version candidates. Any other error is permanent.
func withVersionRetry(ctx context.Context, op func() error) error {
	attempt := 0

	wrapped := func() error {
		attempt++

		err := op()
		if err == nil {
			return nil
		}

		if stderrors.Is(err, ports.ErrEntityVersionConstraint) {
			klog.V(4).Infof("Refresh attempt %d hit a version constraint; retrying", attempt)
			return err
		}

		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxVersionRetries), ctx)

	err := backoff.Retry(wrapped, policy)
	if err == nil {
		return nil
	}

	if stderrors.Is(err, ports.ErrEntityVersionConstraint) {
		return errors.Wrapf(ports.ErrRefreshFailed,
			"refresh failed after %d attempts: %v", attempt, err)
	}

	return err
}
