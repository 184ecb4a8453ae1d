package mappers

import "entitle-pg-backend/internal/domain/models"

// PoolMapper indexes persisted pools against imported subscriptions
type PoolMapper = EntityMapper[*models.Pool, *models.SubscriptionInfo]

// NewPoolMapper creates an empty pool mapper
func NewPoolMapper() *PoolMapper {
	return NewEntityMapper[*models.Pool, *models.SubscriptionInfo]()
}

// ProductMapper indexes persisted products against imported product views
type ProductMapper = EntityMapper[*models.Product, *models.ProductInfo]

// NewProductMapper creates an empty product mapper
func NewProductMapper() *ProductMapper {
	return NewEntityMapper[*models.Product, *models.ProductInfo]()
}

// ContentMapper indexes persisted content against imported content views
type ContentMapper = EntityMapper[*models.Content, *models.ContentInfo]

// NewContentMapper creates an empty content mapper
func NewContentMapper() *ContentMapper {
	return NewEntityMapper[*models.Content, *models.ContentInfo]()
}
