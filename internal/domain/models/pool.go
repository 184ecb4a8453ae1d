package models

import "time"

// Pool represents a persisted subscription pool. Pools are owner-private:
// they are never version-shared between owners, so a pool row is created,
// updated in place, or deleted directly during refresh.
type Pool struct {
	// ID is the system-generated surrogate key of the pool row.
	ID string

	// SubscriptionID is the stable upstream subscription identifier.
	SubscriptionID string

	OwnerID string
	Product *Product

	Quantity  int64
	StartDate time.Time
	EndDate   time.Time

	ContractNumber string
	AccountNumber  string
	OrderNumber    string
}

// EntityID returns the upstream subscription identifier. Nil-safe.
func (p *Pool) EntityID() string {
	if p == nil {
		return ""
	}
	return p.SubscriptionID
}

// DeepCopy creates a deep copy of the pool
func (p *Pool) DeepCopy() *Pool {
	if p == nil {
		return nil
	}

	out := *p
	out.Product = p.Product.DeepCopy()
	return &out
}
