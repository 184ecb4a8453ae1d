package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
	"entitle-pg-backend/internal/infrastructure/repositories/mem"
)

func testRequest() *RefreshRequest {
	return &RefreshRequest{
		Owner: models.NewOwner("o1", "acme"),
		Subscriptions: []*models.SubscriptionInfo{
			{
				ID:        "S1",
				Quantity:  5,
				StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				EndDate:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				Product: &models.ProductInfo{
					ID:   "P1",
					Name: "product one",
				},
			},
		},
		Content: []*models.ContentInfo{
			{ID: "C1", Label: "standalone", Name: "standalone content"},
		},
	}
}

func TestRefreshHappyPath(t *testing.T) {
	registry := mem.NewRegistry()
	service := NewRefresherService(registry, rate.NewLimiter(rate.Inf, 1), -1)

	result, err := service.Refresh(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, result.PoolCounts().Created)
	assert.Equal(t, 1, result.ProductCounts().Created)
	assert.Equal(t, 1, result.ContentCounts().Created)

	// The owner row was ensured along the way.
	reader, err := registry.Reader(context.Background())
	require.NoError(t, err)
	defer reader.Close()

	var ids []string
	err = reader.ListProducts(context.Background(), func(p models.Product) error {
		ids = append(ids, p.ID)
		return nil
	}, ports.NewOwnerScope("o1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, ids)
}

func TestRefreshValidatesRequest(t *testing.T) {
	service := NewRefresherService(mem.NewRegistry(), rate.NewLimiter(rate.Inf, 1), -1)

	for _, req := range []*RefreshRequest{
		nil,
		{},
		{Owner: &models.Owner{}},
	} {
		_, err := service.Refresh(context.Background(), req)
		assert.ErrorIs(t, err, ports.ErrInvalidArgument)
	}
}

func TestRefreshRejectsBadManifest(t *testing.T) {
	service := NewRefresherService(mem.NewRegistry(), rate.NewLimiter(rate.Inf, 1), -1)

	req := testRequest()
	req.Products = []*models.ProductInfo{{Name: "no id"}}

	_, err := service.Refresh(context.Background(), req)
	assert.ErrorIs(t, err, ports.ErrInvalidArgument)
}