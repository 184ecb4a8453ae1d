package models

// ProductContent links a product to one of its content entities
type ProductContent struct {
	Content *Content
	Enabled bool
}

// Product represents a persisted product entity. Like content, product rows
// are globally deduplicated across owners by their version signature; each
// owner references the shared row through an owner-product reference.
type Product struct {
	// UUID is the system-generated surrogate key of the persisted row.
	UUID string

	// ID is the stable upstream (Red Hat style) product identifier.
	ID string

	Name       string
	Multiplier int64

	Attributes          map[string]string
	DependentProductIDs []string

	DerivedProduct   *Product
	ProvidedProducts []*Product
	ProductContent   []ProductContent

	// Locked is set on rows managed by refresh. Unlocked rows are custom,
	// locally-created entities and are never removed by orphan cleanup.
	Locked bool
}

// EntityID returns the upstream product identifier. Nil-safe.
func (p *Product) EntityID() string {
	if p == nil {
		return ""
	}
	return p.ID
}

// EntityVersion returns the structural version signature of this product.
// Children participate through their own signatures, so the version covers the
// whole subtree rooted at this product.
func (p *Product) EntityVersion() uint64 {
	return hashPayload(p.versionPayload())
}

// Attribute returns the value of the named product attribute, or an empty
// string if the attribute is not set
func (p *Product) Attribute(name string) string {
	if p == nil || p.Attributes == nil {
		return ""
	}
	return p.Attributes[name]
}

// DeepCopy creates a deep copy of the product and its children
func (p *Product) DeepCopy() *Product {
	if p == nil {
		return nil
	}

	out := *p

	if p.Attributes != nil {
		out.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			out.Attributes[k] = v
		}
	}

	if p.DependentProductIDs != nil {
		out.DependentProductIDs = append([]string(nil), p.DependentProductIDs...)
	}

	out.DerivedProduct = p.DerivedProduct.DeepCopy()

	if p.ProvidedProducts != nil {
		out.ProvidedProducts = make([]*Product, 0, len(p.ProvidedProducts))
		for _, provided := range p.ProvidedProducts {
			out.ProvidedProducts = append(out.ProvidedProducts, provided.DeepCopy())
		}
	}

	if p.ProductContent != nil {
		out.ProductContent = make([]ProductContent, 0, len(p.ProductContent))
		for _, pc := range p.ProductContent {
			out.ProductContent = append(out.ProductContent, ProductContent{
				Content: pc.Content.DeepCopy(),
				Enabled: pc.Enabled,
			})
		}
	}

	return &out
}
