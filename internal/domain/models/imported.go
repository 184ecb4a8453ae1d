package models

import (
	"strconv"
	"strings"
	"time"
)

// Imported entity projections.
//
// These are read-only views of the upstream data driving a refresh. They are
// immutable for the duration of one refresh invocation and carry the same
// version payloads as their persisted counterparts, so an imported entity and
// the persisted entity built from it compare as structurally equal.

// ContentInfo is the imported projection of a content entity
type ContentInfo struct {
	ID             string
	Type           string
	Label          string
	Name           string
	Vendor         string
	ContentURL     string
	GPGURL         string
	Arches         string
	ReleaseVer     string
	RequiredTags   string
	MetadataExpire int64

	ModifiedProductIDs []string
}

// EntityID returns the upstream content identifier. Nil-safe.
func (c *ContentInfo) EntityID() string {
	if c == nil {
		return ""
	}
	return c.ID
}

// EntityVersion returns the structural version signature of this content view
func (c *ContentInfo) EntityVersion() uint64 {
	return hashPayload(c.versionPayload())
}

// Equals reports whether the two content views are structurally identical
func (c *ContentInfo) Equals(other *ContentInfo) bool {
	return c.versionPayload() == other.versionPayload()
}

func (c *ContentInfo) versionPayload() string {
	if c == nil {
		return ""
	}

	return contentPayload(c.ID, c.Type, c.Label, c.Name, c.Vendor, c.ContentURL,
		c.GPGURL, c.Arches, c.ReleaseVer, c.RequiredTags, c.MetadataExpire,
		c.ModifiedProductIDs)
}

// ProductContentInfo is the imported projection of a product-content link
type ProductContentInfo struct {
	Content *ContentInfo
	Enabled bool
}

// ProductInfo is the imported projection of a product entity, including its
// derived product, provided products, and product-content links
type ProductInfo struct {
	ID         string
	Name       string
	Multiplier int64

	Attributes          map[string]string
	DependentProductIDs []string

	DerivedProduct   *ProductInfo
	ProvidedProducts []*ProductInfo
	ProductContent   []*ProductContentInfo
}

// EntityID returns the upstream product identifier. Nil-safe.
func (p *ProductInfo) EntityID() string {
	if p == nil {
		return ""
	}
	return p.ID
}

// EntityVersion returns the structural version signature of this product view,
// covering the whole subtree rooted at this product
func (p *ProductInfo) EntityVersion() uint64 {
	return hashPayload(p.versionPayload())
}

// Equals reports whether the two product views are structurally identical,
// including their full child subtrees
func (p *ProductInfo) Equals(other *ProductInfo) bool {
	return p.versionPayload() == other.versionPayload()
}

func (p *ProductInfo) versionPayload() string {
	if p == nil {
		return ""
	}

	provided := make([]string, 0, len(p.ProvidedProducts))
	for _, child := range p.ProvidedProducts {
		provided = append(provided, child.versionPayload())
	}

	content := make([]string, 0, len(p.ProductContent))
	for _, pc := range p.ProductContent {
		if pc == nil {
			continue
		}
		content = append(content, productContentPayload(pc.Content.versionPayload(), pc.Enabled))
	}

	return productPayload(p.ID, p.Name, p.Multiplier, p.Attributes,
		p.DependentProductIDs, p.DerivedProduct.versionPayload(), provided, content)
}

// SubscriptionInfo is the imported projection of an upstream subscription,
// which reconciliation materializes as a pool
type SubscriptionInfo struct {
	ID string

	Quantity  int64
	StartDate time.Time
	EndDate   time.Time

	ContractNumber string
	AccountNumber  string
	OrderNumber    string

	Product *ProductInfo
}

// EntityID returns the upstream subscription identifier. Nil-safe.
func (s *SubscriptionInfo) EntityID() string {
	if s == nil {
		return ""
	}
	return s.ID
}

// Equals reports whether the two subscription views are identical, including
// their product subtrees
func (s *SubscriptionInfo) Equals(other *SubscriptionInfo) bool {
	return s.versionPayload() == other.versionPayload()
}

func (s *SubscriptionInfo) versionPayload() string {
	if s == nil {
		return ""
	}

	var b strings.Builder

	b.WriteString("subscription{")
	writeField(&b, s.ID)
	writeField(&b, strconv.FormatInt(s.Quantity, 10))
	writeField(&b, s.StartDate.UTC().Format(time.RFC3339))
	writeField(&b, s.EndDate.UTC().Format(time.RFC3339))
	writeField(&b, s.ContractNumber)
	writeField(&b, s.AccountNumber)
	writeField(&b, s.OrderNumber)
	writeField(&b, s.Product.versionPayload())
	b.WriteByte('}')

	return b.String()
}

// ChangedBy reports whether applying the given subscription view to this pool
// would change any of the pool's own attributes. Product reference changes are
// tracked separately through the node graph.
func (p *Pool) ChangedBy(sub *SubscriptionInfo) bool {
	if p == nil || sub == nil {
		return p != nil || sub != nil
	}

	return p.Quantity != sub.Quantity ||
		!p.StartDate.Equal(sub.StartDate) ||
		!p.EndDate.Equal(sub.EndDate) ||
		p.ContractNumber != sub.ContractNumber ||
		p.AccountNumber != sub.AccountNumber ||
		p.OrderNumber != sub.OrderNumber
}
