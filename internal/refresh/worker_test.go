package refresh

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
	"entitle-pg-backend/internal/infrastructure/repositories/mem"
)

func acme() *models.Owner {
	return models.NewOwner("o-acme", "acme")
}

func wile() *models.Owner {
	return models.NewOwner("o-wile", "wile")
}

// manifest builds the canonical test import: subscription S1 carrying product
// P1 (with the given sockets attribute) which links content C1
func manifest(sockets string) *models.SubscriptionInfo {
	content := &models.ContentInfo{
		ID:     "C1",
		Type:   "yum",
		Label:  "c-one",
		Name:   "content one",
		Vendor: "vendor",
	}

	product := &models.ProductInfo{
		ID:         "P1",
		Name:       "product one",
		Multiplier: 1,
		Attributes: map[string]string{"sockets": sockets},
		ProductContent: []*models.ProductContentInfo{
			{Content: content, Enabled: true},
		},
	}

	return &models.SubscriptionInfo{
		ID:        "S1",
		Quantity:  10,
		StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Product:   product,
	}
}

func listProducts(t *testing.T, registry ports.Registry, owner *models.Owner) map[string]*models.Product {
	t.Helper()

	reader, err := registry.Reader(context.Background())
	require.NoError(t, err)

	out := make(map[string]*models.Product)
	err = reader.ListProducts(context.Background(), func(p models.Product) error {
		product := p
		out[product.ID] = &product
		return nil
	}, ports.NewOwnerScope(owner.ID))
	require.NoError(t, err)

	return out
}

func TestExecuteCreatesEverything(t *testing.T) {
	registry := mem.NewRegistry()
	ctx := context.Background()

	worker := NewWorker(registry)
	_, err := worker.AddSubscriptions(manifest("2"))
	require.NoError(t, err)

	result, err := worker.Execute(ctx, acme())
	require.NoError(t, err)

	assert.Equal(t, 1, result.PoolCounts().Created)
	assert.Equal(t, 1, result.ProductCounts().Created)
	assert.Equal(t, 1, result.ContentCounts().Created)

	products := listProducts(t, registry, acme())
	require.Contains(t, products, "P1")
	assert.Equal(t, "2", products["P1"].Attribute("sockets"))
	assert.True(t, products["P1"].Locked)
	require.Len(t, products["P1"].ProductContent, 1)
	assert.Equal(t, "C1", products["P1"].ProductContent[0].Content.ID)
}

func TestExecuteIsIdempotent(t *testing.T) {
	registry := mem.NewRegistry()
	ctx := context.Background()

	worker := NewWorker(registry)
	_, err := worker.AddSubscriptions(manifest("2"))
	require.NoError(t, err)

	_, err = worker.Execute(ctx, acme())
	require.NoError(t, err)

	// Same worker, same imports, no changes in between.
	result, err := worker.Execute(ctx, acme())
	require.NoError(t, err)

	for name, counts := range map[string]models.RefreshCounts{
		"pools":    result.PoolCounts(),
		"products": result.ProductCounts(),
		"content":  result.ContentCounts(),
	} {
		assert.Zero(t, counts.Created, name)
		assert.Zero(t, counts.Updated, name)
		assert.Zero(t, counts.Deleted, name)
		assert.Equal(t, 1, counts.Unchanged, name)
	}
}

func TestExecuteUpdatesChangedProduct(t *testing.T) {
	registry := mem.NewRegistry()
	ctx := context.Background()

	first := NewWorker(registry)
	_, err := first.AddSubscriptions(manifest("2"))
	require.NoError(t, err)
	_, err = first.Execute(ctx, acme())
	require.NoError(t, err)

	second := NewWorker(registry)
	_, err = second.AddSubscriptions(manifest("4"))
	require.NoError(t, err)

	result, err := second.Execute(ctx, acme())
	require.NoError(t, err)

	assert.Equal(t, 1, result.ProductCounts().Updated)
	assert.Equal(t, 1, result.ContentCounts().Unchanged)
	assert.Equal(t, 1, result.PoolCounts().Unchanged)

	products := listProducts(t, registry, acme())
	require.Contains(t, products, "P1")
	assert.Equal(t, "4", products["P1"].Attribute("sockets"))
}

func TestVersionSharingAcrossOwners(t *testing.T) {
	registry := mem.NewRegistry()
	ctx := context.Background()

	first := NewWorker(registry)
	_, err := first.AddSubscriptions(manifest("2"))
	require.NoError(t, err)
	_, err = first.Execute(ctx, acme())
	require.NoError(t, err)

	second := NewWorker(registry)
	_, err = second.AddSubscriptions(manifest("2"))
	require.NoError(t, err)

	result, err := second.Execute(ctx, wile())
	require.NoError(t, err)

	// The second owner shares the first owner's rows instead of creating.
	assert.Zero(t, result.ProductCounts().Created)
	assert.Equal(t, 1, result.ProductCounts().Unchanged)
	assert.Zero(t, result.ContentCounts().Created)
	assert.Equal(t, 1, result.PoolCounts().Created)

	acmeProducts := listProducts(t, registry, acme())
	wileProducts := listProducts(t, registry, wile())
	require.Contains(t, acmeProducts, "P1")
	require.Contains(t, wileProducts, "P1")
	assert.Equal(t, acmeProducts["P1"].UUID, wileProducts["P1"].UUID)
}

func TestCopyOnWriteIsolatesOwners(t *testing.T) {
	registry := mem.NewRegistry()
	ctx := context.Background()

	for _, owner := range []*models.Owner{acme(), wile()} {
		worker := NewWorker(registry)
		_, err := worker.AddSubscriptions(manifest("2"))
		require.NoError(t, err)
		_, err = worker.Execute(ctx, owner)
		require.NoError(t, err)
	}

	sharedUUID := listProducts(t, registry, wile())["P1"].UUID

	// Only acme moves to sockets=4.
	worker := NewWorker(registry)
	_, err := worker.AddSubscriptions(manifest("4"))
	require.NoError(t, err)
	result, err := worker.Execute(ctx, acme())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProductCounts().Updated)

	acmeProduct := listProducts(t, registry, acme())["P1"]
	wileProduct := listProducts(t, registry, wile())["P1"]

	assert.Equal(t, "4", acmeProduct.Attribute("sockets"))
	assert.Equal(t, "2", wileProduct.Attribute("sockets"))
	assert.Equal(t, sharedUUID, wileProduct.UUID)
	assert.NotEqual(t, sharedUUID, acmeProduct.UUID)
}

func TestChildrenPersistBeforeParents(t *testing.T) {
	registry := mem.NewRegistry()
	ctx := context.Background()

	worker := NewWorker(registry)
	_, err := worker.AddSubscriptions(manifest("2"))
	require.NoError(t, err)

	writer, err := registry.Writer(ctx)
	require.NoError(t, err)
	defer writer.Abort()

	_, err = worker.ExecuteIn(ctx, acme(), writer)
	require.NoError(t, err)

	ops := writer.(*mem.Writer).Ops()

	indexOf := func(want string) int {
		for i, op := range ops {
			if op == want {
				return i
			}
		}
		t.Fatalf("operation %q not in trace %v", want, ops)
		return -1
	}

	contentIdx := indexOf("create content C1")
	productIdx := indexOf("create product P1")
	poolIdx := indexOf("create pool S1")

	assert.Less(t, contentIdx, productIdx)
	assert.Less(t, productIdx, poolIdx)
}

func TestOrphanGracePeriodBoundaries(t *testing.T) {
	seed := func(t *testing.T) (*mem.Registry, *models.Owner) {
		t.Helper()
		registry := mem.NewRegistry()
		worker := NewWorker(registry)
		_, err := worker.AddSubscriptions(manifest("2"))
		require.NoError(t, err)
		_, err = worker.Execute(context.Background(), acme())
		require.NoError(t, err)
		return registry, acme()
	}

	emptyRefresh := func(t *testing.T, registry *mem.Registry, owner *models.Owner,
		grace int, at time.Time) *models.RefreshResult {
		t.Helper()
		worker := NewWorker(registry).
			SetOrphanedEntityGracePeriod(grace).
			SetClock(func() time.Time { return at })
		result, err := worker.Execute(context.Background(), owner)
		require.NoError(t, err)
		return result
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("one day grace", func(t *testing.T) {
		registry, owner := seed(t)

		// First refresh without the subscription: pool goes, the product and
		// content are stamped orphaned and kept.
		result := emptyRefresh(t, registry, owner, 1, base)
		assert.Equal(t, 1, result.PoolCounts().Deleted)
		assert.Zero(t, result.ProductCounts().Deleted)
		assert.Zero(t, result.ContentCounts().Deleted)

		// 23 hours orphaned: still inside the grace period.
		result = emptyRefresh(t, registry, owner, 1, base.Add(23*time.Hour))
		assert.Zero(t, result.ProductCounts().Deleted)

		// 25 hours orphaned: past the grace period. The content only becomes
		// orphaned once its parent product is gone, so it is stamped here and
		// deleted a grace period later.
		result = emptyRefresh(t, registry, owner, 1, base.Add(25*time.Hour))
		assert.Equal(t, 1, result.ProductCounts().Deleted)
		assert.Zero(t, result.ContentCounts().Deleted)
		assert.Empty(t, listProducts(t, registry, owner))

		result = emptyRefresh(t, registry, owner, 1, base.Add(50*time.Hour))
		assert.Equal(t, 1, result.ContentCounts().Deleted)
	})

	t.Run("zero grace deletes immediately", func(t *testing.T) {
		registry, owner := seed(t)

		result := emptyRefresh(t, registry, owner, 0, base)
		assert.Equal(t, 1, result.PoolCounts().Deleted)
		assert.Equal(t, 1, result.ProductCounts().Deleted)
		assert.Equal(t, 1, result.ContentCounts().Deleted)
	})

	t.Run("negative grace never deletes", func(t *testing.T) {
		registry, owner := seed(t)

		for _, at := range []time.Time{base, base.AddDate(0, 0, 365)} {
			result := emptyRefresh(t, registry, owner, -1, at)
			assert.Zero(t, result.ProductCounts().Deleted)
			assert.Zero(t, result.ContentCounts().Deleted)
		}

		products := listProducts(t, registry, owner)
		assert.Contains(t, products, "P1")
	})
}

func TestUnlockedEntitiesSurviveOrphanCleanup(t *testing.T) {
	registry := mem.NewRegistry()
	ctx := context.Background()

	// A locally created (unlocked) product referenced by the owner.
	writer, err := registry.Writer(ctx)
	require.NoError(t, err)
	custom := &models.Product{UUID: "custom-row", ID: "P-custom", Name: "custom", Locked: false}
	require.NoError(t, writer.CreateProduct(ctx, custom))
	require.NoError(t, writer.UpsertOwnerProductRefs(ctx, acme().ID, map[string]string{"P-custom": "custom-row"}))
	require.NoError(t, writer.Commit())

	worker := NewWorker(registry).SetOrphanedEntityGracePeriod(0)
	result, err := worker.Execute(ctx, acme())
	require.NoError(t, err)

	assert.Zero(t, result.ProductCounts().Deleted)
	assert.Contains(t, listProducts(t, registry, acme()), "P-custom")
}

func TestDuplicateIDWarning(t *testing.T) {
	var warnings []string
	worker := NewWorker(mem.NewRegistry()).
		SetWarningSink(func(format string, args ...interface{}) {
			warnings = append(warnings, fmt.Sprintf(format, args...))
		})

	p1 := &models.ProductInfo{ID: "P1", Name: "original"}
	variant := &models.ProductInfo{ID: "P1", Name: "variant"}

	_, err := worker.AddProducts(p1, variant)
	require.NoError(t, err)

	// Last write wins, with a warning.
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `"P1"`)
	assert.Equal(t, "variant", worker.Products()["P1"].Name)

	// Re-adding an identical entity does not warn.
	_, err = worker.AddProducts(variant)
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
}

func TestAccumulationValidation(t *testing.T) {
	worker := NewWorker(mem.NewRegistry())

	_, err := worker.AddProducts(nil)
	assert.ErrorIs(t, err, ports.ErrInvalidArgument)

	_, err = worker.AddProducts(&models.ProductInfo{Name: "no id"})
	assert.ErrorIs(t, err, ports.ErrInvalidArgument)

	_, err = worker.AddSubscriptions(&models.SubscriptionInfo{})
	assert.ErrorIs(t, err, ports.ErrInvalidArgument)

	_, err = worker.AddContent(&models.ContentInfo{})
	assert.ErrorIs(t, err, ports.ErrInvalidArgument)

	_, err = worker.AddProductContent(&models.ProductContentInfo{})
	assert.ErrorIs(t, err, ports.ErrInvalidArgument)

	_, err = worker.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ports.ErrInvalidArgument)

	_, err = worker.Execute(context.Background(), &models.Owner{})
	assert.ErrorIs(t, err, ports.ErrInvalidArgument)
}

func TestAccumulationIsTransitive(t *testing.T) {
	worker := NewWorker(mem.NewRegistry())

	_, err := worker.AddSubscriptions(manifest("2"))
	require.NoError(t, err)

	assert.Contains(t, worker.Subscriptions(), "S1")
	assert.Contains(t, worker.Products(), "P1")
	assert.Contains(t, worker.Content(), "C1")

	worker.Clear()
	assert.Empty(t, worker.Subscriptions())
	assert.Empty(t, worker.Products())
	assert.Empty(t, worker.Content())
}
