package models

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Entity version signatures.
//
// Two entities are structurally equal exactly when their canonical version
// payloads are byte-identical; the exported version signature is the xxhash64
// of that payload. The payload is a length-prefixed field list, so field
// boundaries are unambiguous, and child entities participate through their own
// payloads, making equality recursive over the whole subtree.
//
// Field sets (load-bearing for the cross-owner dedup invariant):
//
//	Content: id, type, label, name, vendor, contentURL, gpgURL, arches,
//	         releaseVer, requiredTags, metadataExpire, sorted modifiedProductIDs
//	Product: id, name, multiplier, sorted attributes, sorted
//	         dependentProductIDs, derived product payload, sorted provided
//	         product payloads, sorted (content payload, enabled) pairs

func hashPayload(payload string) uint64 {
	return xxhash.Sum64String(payload)
}

func writeField(b *strings.Builder, field string) {
	b.WriteString(strconv.Itoa(len(field)))
	b.WriteByte(':')
	b.WriteString(field)
	b.WriteByte(';')
}

func writeSortedFields(b *strings.Builder, fields []string) {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)

	b.WriteByte('[')
	for _, field := range sorted {
		writeField(b, field)
	}
	b.WriteByte(']')
}

func contentPayload(id, ctype, label, name, vendor, contentURL, gpgURL, arches,
	releaseVer, requiredTags string, metadataExpire int64, modifiedProductIDs []string) string {

	var b strings.Builder

	b.WriteString("content{")
	writeField(&b, id)
	writeField(&b, ctype)
	writeField(&b, label)
	writeField(&b, name)
	writeField(&b, vendor)
	writeField(&b, contentURL)
	writeField(&b, gpgURL)
	writeField(&b, arches)
	writeField(&b, releaseVer)
	writeField(&b, requiredTags)
	writeField(&b, strconv.FormatInt(metadataExpire, 10))
	writeSortedFields(&b, modifiedProductIDs)
	b.WriteByte('}')

	return b.String()
}

func productPayload(id, name string, multiplier int64, attributes map[string]string,
	dependentProductIDs []string, derived string, provided []string, content []string) string {

	var b strings.Builder

	b.WriteString("product{")
	writeField(&b, id)
	writeField(&b, name)
	writeField(&b, strconv.FormatInt(multiplier, 10))

	attrs := make([]string, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, k+"="+v)
	}
	writeSortedFields(&b, attrs)
	writeSortedFields(&b, dependentProductIDs)

	writeField(&b, derived)
	writeSortedFields(&b, provided)
	writeSortedFields(&b, content)
	b.WriteByte('}')

	return b.String()
}

func (c *Content) versionPayload() string {
	if c == nil {
		return ""
	}

	return contentPayload(c.ID, c.Type, c.Label, c.Name, c.Vendor, c.ContentURL,
		c.GPGURL, c.Arches, c.ReleaseVer, c.RequiredTags, c.MetadataExpire,
		c.ModifiedProductIDs)
}

func (p *Product) versionPayload() string {
	if p == nil {
		return ""
	}

	provided := make([]string, 0, len(p.ProvidedProducts))
	for _, child := range p.ProvidedProducts {
		provided = append(provided, child.versionPayload())
	}

	content := make([]string, 0, len(p.ProductContent))
	for _, pc := range p.ProductContent {
		content = append(content, productContentPayload(pc.Content.versionPayload(), pc.Enabled))
	}

	return productPayload(p.ID, p.Name, p.Multiplier, p.Attributes,
		p.DependentProductIDs, p.DerivedProduct.versionPayload(), provided, content)
}

func productContentPayload(content string, enabled bool) string {
	return content + "|enabled=" + strconv.FormatBool(enabled)
}

// StructurallyEqual reports whether the two content entities carry identical
// structural payloads. Unlike comparing version signatures, this is immune to
// hash collisions.
func (c *Content) StructurallyEqual(other *Content) bool {
	return c.versionPayload() == other.versionPayload()
}

// StructurallyEqual reports whether the two products carry identical
// structural payloads, including their full child subtrees.
func (p *Product) StructurallyEqual(other *Product) bool {
	return p.versionPayload() == other.versionPayload()
}
