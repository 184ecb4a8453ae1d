package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testContent(label string) *Content {
	return &Content{
		UUID:               "row-" + label,
		ID:                 "C1",
		Type:               "yum",
		Label:              label,
		Name:               "content one",
		Vendor:             "vendor",
		ContentURL:         "/content/one",
		Arches:             "x86_64",
		MetadataExpire:     3600,
		ModifiedProductIDs: []string{"P9", "P2"},
		Locked:             true,
	}
}

func TestContentStructuralEquality(t *testing.T) {
	a := testContent("label-one")
	b := testContent("label-one")
	b.UUID = "different-row"

	// Surrogate keys do not participate in the signature.
	assert.True(t, a.StructurallyEqual(b))
	assert.Equal(t, a.EntityVersion(), b.EntityVersion())

	b.Label = "label-two"
	assert.False(t, a.StructurallyEqual(b))
	assert.NotEqual(t, a.EntityVersion(), b.EntityVersion())
}

func TestContentModifiedProductIDOrderInsensitive(t *testing.T) {
	a := testContent("l")
	b := testContent("l")
	b.ModifiedProductIDs = []string{"P2", "P9"}

	assert.True(t, a.StructurallyEqual(b))
}

func TestContentInfoMatchesPersistedContent(t *testing.T) {
	persisted := testContent("l")
	imported := &ContentInfo{
		ID:                 "C1",
		Type:               "yum",
		Label:              "l",
		Name:               "content one",
		Vendor:             "vendor",
		ContentURL:         "/content/one",
		Arches:             "x86_64",
		MetadataExpire:     3600,
		ModifiedProductIDs: []string{"P9", "P2"},
	}

	assert.Equal(t, persisted.EntityVersion(), imported.EntityVersion())
}

func TestProductVersionCoversSubtree(t *testing.T) {
	build := func() *Product {
		return &Product{
			UUID:       "row-p",
			ID:         "P1",
			Name:       "product one",
			Multiplier: 1,
			Attributes: map[string]string{"sockets": "2", "ram": "4"},
			ProvidedProducts: []*Product{
				{UUID: "row-pp", ID: "PP1", Name: "provided"},
			},
			ProductContent: []ProductContent{
				{Content: testContent("l"), Enabled: true},
			},
			Locked: true,
		}
	}

	a := build()
	b := build()
	assert.True(t, a.StructurallyEqual(b))

	// A change deep in the subtree changes the parent's version.
	b.ProductContent[0].Content.Arches = "aarch64"
	assert.False(t, a.StructurallyEqual(b))

	b = build()
	b.Attributes["sockets"] = "4"
	assert.False(t, a.StructurallyEqual(b))

	// Disabling a content link is a structural change too.
	b = build()
	b.ProductContent[0].Enabled = false
	assert.False(t, a.StructurallyEqual(b))
}

func TestPoolChangedBy(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	pool := &Pool{
		ID:             "pool-1",
		SubscriptionID: "S1",
		OwnerID:        "o1",
		Quantity:       10,
		StartDate:      start,
		EndDate:        end,
		ContractNumber: "c-1",
	}

	sub := &SubscriptionInfo{
		ID:             "S1",
		Quantity:       10,
		StartDate:      start,
		EndDate:        end,
		ContractNumber: "c-1",
	}

	assert.False(t, pool.ChangedBy(sub))

	sub.Quantity = 20
	assert.True(t, pool.ChangedBy(sub))

	sub.Quantity = 10
	sub.EndDate = end.AddDate(0, 1, 0)
	assert.True(t, pool.ChangedBy(sub))
}
