package visitors

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
	"entitle-pg-backend/internal/refresh/mappers"
	"entitle-pg-backend/internal/refresh/nodes"
)

// ContentVisitor reconciles content nodes. Content rows are shared across
// owners by version signature, so creates first attempt resolution against
// the candidate set, and updates of shared rows are copy-on-write.
type ContentVisitor struct {
	ownerID string
	reader  ports.Reader
	writer  ports.Writer
	mapper  *mappers.ContentMapper
	lookup  func(nodes.Key) *nodes.Node

	orphans *orphanTracker

	ownerCounts map[string]int
	countsKnown bool

	ownerRefs     map[string]string
	deletedIDs    []string
	deletedUUIDs  []string
	replacedUUIDs []string
}

// NewContentVisitor creates a content visitor for one refresh execution
func NewContentVisitor(ownerID string, reader ports.Reader, writer ports.Writer,
	mapper *mappers.ContentMapper, lookup func(nodes.Key) *nodes.Node,
	gracePeriod int, now func() time.Time) *ContentVisitor {

	v := &ContentVisitor{
		ownerID:   ownerID,
		reader:    reader,
		writer:    writer,
		mapper:    mapper,
		lookup:    lookup,
		ownerRefs: make(map[string]string),
	}

	fetch := func(ctx context.Context, ids []string) (map[string]time.Time, error) {
		return reader.GetContentOrphanDates(ctx, ownerID, ids)
	}
	v.orphans = newOrphanTracker(gracePeriod, now, fetch, lookup)

	return v
}

// Process decides the preliminary state of a content node from the presence
// and structural equality of its existing and imported views
func (v *ContentVisitor) Process(node *nodes.Node) {
	if node.State != models.EntityStateUnset {
		return
	}

	existing := node.ExistingContent
	imported := node.ImportedContent

	node.State = models.EntityStateUnchanged

	if existing != nil {
		v.orphans.precacheID(node.Key.ID)

		if imported != nil && !existing.StructurallyEqual(importedAsContent(imported)) {
			node.State = models.EntityStateUpdated
		}
	} else if imported != nil {
		node.State = models.EntityStateCreated
	}
}

// Prune checks whether an existing content entity that vanished upstream is
// cleared for deletion under the orphan policy
func (v *ContentVisitor) Prune(ctx context.Context, node *nodes.Node) error {
	existing := node.ExistingContent
	if existing == nil {
		return nil
	}

	cleared, err := v.orphans.clearedForDeletion(ctx, node, existing.Locked)
	if err != nil {
		return errors.Wrapf(err, "pruning content %q", node.Key.ID)
	}

	if cleared {
		node.State = models.EntityStateDeleted
		v.deletedIDs = append(v.deletedIDs, node.Key.ID)
		v.deletedUUIDs = append(v.deletedUUIDs, existing.UUID)
	}

	return nil
}

// Apply performs the persistence operation selected for the node: version
// resolution against cross-owner candidates, then insert, in-place update, or
// copy-on-write replacement
func (v *ContentVisitor) Apply(ctx context.Context, node *nodes.Node) error {
	switch node.State {
	case models.EntityStateCreated:
		merged := v.buildMerged(node)

		candidate, err := v.resolveVersion(ctx, merged)
		if err != nil {
			return err
		}

		if candidate != nil {
			// Another owner already persisted this exact content; share the
			// row instead of creating a duplicate.
			node.MergedContent = candidate
			node.State = models.EntityStateUnchanged
		} else {
			merged.UUID = uuid.NewString()
			if err := v.writer.CreateContent(ctx, merged); err != nil {
				return errors.Wrapf(err, "creating content %q", node.Key.ID)
			}
			node.MergedContent = merged
		}

		v.ownerRefs[node.Key.ID] = node.MergedContent.UUID

	case models.EntityStateUpdated:
		existing := node.ExistingContent
		merged := v.buildMerged(node)

		candidate, err := v.resolveVersion(ctx, merged)
		if err != nil {
			return err
		}

		switch {
		case candidate != nil:
			node.MergedContent = candidate

		default:
			shared, err := v.rowShared(ctx, existing.UUID)
			if err != nil {
				return err
			}

			if shared {
				// Copy-on-write: other owners still reference the old row.
				merged.UUID = uuid.NewString()
				if err := v.writer.CreateContent(ctx, merged); err != nil {
					return errors.Wrapf(err, "creating content %q", node.Key.ID)
				}
			} else {
				merged.UUID = existing.UUID
				if err := v.writer.UpdateContent(ctx, merged); err != nil {
					return errors.Wrapf(err, "updating content %q", node.Key.ID)
				}
			}

			node.MergedContent = merged
		}

		if node.MergedContent.UUID != existing.UUID {
			v.ownerRefs[node.Key.ID] = node.MergedContent.UUID
			v.replacedUUIDs = append(v.replacedUUIDs, existing.UUID)
		}
	}

	return nil
}

// Complete flushes the accumulated bulk operations: orphan-date updates,
// owner-reference changes, and guarded row deletion
func (v *ContentVisitor) Complete(ctx context.Context) error {
	now := v.orphans.now()

	if len(v.orphans.newlyOrphaned) > 0 {
		if err := v.writer.SetContentOrphanDates(ctx, v.ownerID, v.orphans.newlyOrphaned, &now); err != nil {
			return errors.Wrap(err, "stamping orphaned content")
		}
	}

	if len(v.orphans.unorphaned) > 0 {
		if err := v.writer.SetContentOrphanDates(ctx, v.ownerID, v.orphans.unorphaned, nil); err != nil {
			return errors.Wrap(err, "unstamping content")
		}
	}

	if len(v.ownerRefs) > 0 {
		if err := v.writer.UpsertOwnerContentRefs(ctx, v.ownerID, v.ownerRefs); err != nil {
			return errors.Wrap(err, "updating owner content references")
		}
	}

	if len(v.deletedIDs) > 0 {
		if err := v.writer.RemoveOwnerContentRefs(ctx, v.ownerID, v.deletedIDs); err != nil {
			return errors.Wrap(err, "removing owner content references")
		}
	}

	obsolete := append(append([]string(nil), v.deletedUUIDs...), v.replacedUUIDs...)
	if len(obsolete) > 0 {
		if err := v.writer.DeleteContentByUUIDs(ctx, obsolete); err != nil {
			return errors.Wrap(err, "deleting obsolete content rows")
		}
	}

	return nil
}

func (v *ContentVisitor) buildMerged(node *nodes.Node) *models.Content {
	merged := importedAsContent(node.ImportedContent)
	if merged == nil {
		merged = node.ExistingContent.DeepCopy()
	}

	merged.ID = node.Key.ID
	merged.UUID = ""
	merged.Locked = true

	return merged
}

// resolveVersion checks the candidate set for a structurally identical row
// persisted for another owner. A candidate with a colliding version signature
// but different structure has its stored version cleared so the new row can
// be persisted; the refresh then proceeds instead of failing.
func (v *ContentVisitor) resolveVersion(ctx context.Context, merged *models.Content) (*models.Content, error) {
	for _, candidate := range v.mapper.GetCandidateEntities(merged.ID) {
		if candidate.StructurallyEqual(merged) {
			return candidate, nil
		}

		if candidate.EntityVersion() == merged.EntityVersion() {
			klog.Errorf("Content version collision detected for %q; clearing stale version on %s",
				merged.ID, candidate.UUID)

			if err := v.writer.ClearContentEntityVersion(ctx, candidate.UUID); err != nil {
				return nil, errors.Wrapf(err, "clearing content entity version on %s", candidate.UUID)
			}
		}
	}

	return nil, nil
}

func (v *ContentVisitor) rowShared(ctx context.Context, rowUUID string) (bool, error) {
	if !v.countsKnown {
		uuids := make([]string, 0, len(v.orphans.precache))
		for id := range v.orphans.precache {
			if existing := v.mapper.GetExistingEntity(id); existing != nil {
				uuids = append(uuids, existing.UUID)
			}
		}

		counts, err := v.reader.GetContentOwnerCounts(ctx, uuids)
		if err != nil {
			return false, errors.Wrap(err, "fetching content owner counts")
		}

		v.ownerCounts = counts
		v.countsKnown = true
	}

	return v.ownerCounts[rowUUID] > 1, nil
}

// importedAsContent materializes a persisted-entity view of an imported
// content projection. Nil-safe.
func importedAsContent(info *models.ContentInfo) *models.Content {
	if info == nil {
		return nil
	}

	return &models.Content{
		ID:                 info.ID,
		Type:               info.Type,
		Label:              info.Label,
		Name:               info.Name,
		Vendor:             info.Vendor,
		ContentURL:         info.ContentURL,
		GPGURL:             info.GPGURL,
		Arches:             info.Arches,
		ReleaseVer:         info.ReleaseVer,
		RequiredTags:       info.RequiredTags,
		MetadataExpire:     info.MetadataExpire,
		ModifiedProductIDs: append([]string(nil), info.ModifiedProductIDs...),
		Locked:             true,
	}
}
