package services

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
	"entitle-pg-backend/internal/refresh"
)

// RefreshRequest is one upstream manifest for one owner: the full set of
// subscriptions, standalone products, and standalone content to reconcile
type RefreshRequest struct {
	Owner         *models.Owner              `json:"owner"`
	Subscriptions []*models.SubscriptionInfo `json:"subscriptions"`
	Products      []*models.ProductInfo      `json:"products"`
	Content       []*models.ContentInfo      `json:"content"`
}

// RefresherService is the application facade over the refresh engine. It
// admits refresh invocations through a rate limiter and runs each one in its
// own worker.
type RefresherService struct {
	registry    ports.Registry
	limiter     *rate.Limiter
	gracePeriod int
}

// NewRefresherService creates a refresher service
func NewRefresherService(registry ports.Registry, limiter *rate.Limiter, gracePeriodDays int) *RefresherService {
	return &RefresherService{
		registry:    registry,
		limiter:     limiter,
		gracePeriod: gracePeriodDays,
	}
}

// Refresh reconciles the request's manifest against the owner's persisted
// state and returns the per-entity outcome
func (s *RefresherService) Refresh(ctx context.Context, req *RefreshRequest) (*models.RefreshResult, error) {
	if req == nil || req.Owner == nil || req.Owner.ID == "" {
		return nil, errors.Wrap(ports.ErrInvalidArgument, "refresh request has no owner")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "waiting for refresh slot")
	}

	if err := s.ensureOwner(ctx, req.Owner); err != nil {
		return nil, err
	}

	worker := refresh.NewWorker(s.registry).SetOrphanedEntityGracePeriod(s.gracePeriod)

	if _, err := worker.AddSubscriptions(req.Subscriptions...); err != nil {
		return nil, err
	}
	if _, err := worker.AddProducts(req.Products...); err != nil {
		return nil, err
	}
	if _, err := worker.AddContent(req.Content...); err != nil {
		return nil, err
	}

	result, err := worker.Execute(ctx, req.Owner)
	if err != nil {
		return nil, err
	}

	klog.Infof("Refreshed owner %q: pools %s, products %s, content %s",
		req.Owner.Key, result.PoolCounts(), result.ProductCounts(), result.ContentCounts())

	return result, nil
}

func (s *RefresherService) ensureOwner(ctx context.Context, owner *models.Owner) error {
	writer, err := s.registry.Writer(ctx)
	if err != nil {
		return errors.Wrap(err, "opening owner transaction")
	}
	defer writer.Abort()

	if err := writer.EnsureOwner(ctx, owner); err != nil {
		return err
	}

	return errors.Wrap(writer.Commit(), "committing owner")
}
