package pg

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
)

// Compile-time check that Writer implements ports.Writer
var _ ports.Writer = (*Writer)(nil)

// Writer is one PostgreSQL transaction. Unique-violations on the entity
// version indexes surface as ports.ErrEntityVersionConstraint so the refresh
// retry loop can classify them.
type Writer struct {
	tx   pgx.Tx
	done bool
}

// wrapPgError classifies driver errors. A 23505 on an entity_version index
// means this transaction lost a version-sharing race to a concurrent refresh.
func wrapPgError(err error, op string) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == "23505" &&
		strings.Contains(pgErr.ConstraintName, "entity_version") {
		return errors.Wrapf(ports.ErrEntityVersionConstraint, "%s: %s", op, pgErr.Detail)
	}

	return errors.Wrap(err, op)
}

// GetSystemLock acquires the named advisory lock for the remainder of the
// transaction
func (w *Writer) GetSystemLock(ctx context.Context, name string) error {
	_, err := w.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name)
	return errors.Wrapf(err, "acquiring system lock %q", name)
}

func (w *Writer) EnsureOwner(ctx context.Context, owner *models.Owner) error {
	_, err := w.tx.Exec(ctx, `
		INSERT INTO owners (id, key, display_name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, owner.ID, owner.Key, owner.DisplayName)
	return errors.Wrapf(err, "ensuring owner %q", owner.Key)
}

func (w *Writer) CreateProduct(ctx context.Context, product *models.Product) error {
	_, err := w.writeProduct(ctx, product, `
		INSERT INTO products (uuid, id, entity_version, name, multiplier, attributes,
			dependent_product_ids, derived_product_uuid, provided_product_uuids,
			product_content, locked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, "creating product")
	return err
}

func (w *Writer) UpdateProduct(ctx context.Context, product *models.Product) error {
	affected, err := w.writeProduct(ctx, product, `
		UPDATE products SET id = $2, entity_version = $3, name = $4, multiplier = $5,
			attributes = $6, dependent_product_ids = $7, derived_product_uuid = $8,
			provided_product_uuids = $9, product_content = $10, locked = $11
		WHERE uuid = $1
	`, "updating product")
	if err == nil && affected == 0 {
		return errors.Wrapf(ports.ErrNotFound, "product row %s", product.UUID)
	}
	return err
}

func (w *Writer) writeProduct(ctx context.Context, product *models.Product, sql, op string) (int64, error) {
	attributes, err := marshalJSON(product.Attributes, "product attributes")
	if err != nil {
		return 0, err
	}

	dependents, err := marshalJSON(product.DependentProductIDs, "dependent product IDs")
	if err != nil {
		return 0, err
	}

	var derivedUUID *string
	if product.DerivedProduct != nil {
		derivedUUID = nullableString(product.DerivedProduct.UUID)
	}

	providedUUIDs := make([]string, 0, len(product.ProvidedProducts))
	for _, child := range product.ProvidedProducts {
		providedUUIDs = append(providedUUIDs, child.UUID)
	}
	provided, err := marshalJSON(providedUUIDs, "provided product UUIDs")
	if err != nil {
		return 0, err
	}

	contentRefs := make([]productContentRef, 0, len(product.ProductContent))
	for _, pc := range product.ProductContent {
		contentRefs = append(contentRefs, productContentRef{
			ContentUUID: pc.Content.UUID,
			Enabled:     pc.Enabled,
		})
	}
	content, err := marshalJSON(contentRefs, "product content refs")
	if err != nil {
		return 0, err
	}

	tag, err := w.tx.Exec(ctx, sql,
		product.UUID, product.ID, entityVersionColumn(product.EntityVersion()),
		product.Name, product.Multiplier, attributes, dependents, derivedUUID,
		provided, content, product.Locked)
	return tag.RowsAffected(), wrapPgError(err, op)
}

func (w *Writer) CreateContent(ctx context.Context, content *models.Content) error {
	_, err := w.writeContent(ctx, content, `
		INSERT INTO contents (uuid, id, entity_version, type, label, name, vendor,
			content_url, gpg_url, arches, release_ver, required_tags,
			metadata_expire, modified_product_ids, locked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, "creating content")
	return err
}

func (w *Writer) UpdateContent(ctx context.Context, content *models.Content) error {
	affected, err := w.writeContent(ctx, content, `
		UPDATE contents SET id = $2, entity_version = $3, type = $4, label = $5,
			name = $6, vendor = $7, content_url = $8, gpg_url = $9, arches = $10,
			release_ver = $11, required_tags = $12, metadata_expire = $13,
			modified_product_ids = $14, locked = $15
		WHERE uuid = $1
	`, "updating content")
	if err == nil && affected == 0 {
		return errors.Wrapf(ports.ErrNotFound, "content row %s", content.UUID)
	}
	return err
}

func (w *Writer) writeContent(ctx context.Context, content *models.Content, sql, op string) (int64, error) {
	modified, err := marshalJSON(content.ModifiedProductIDs, "modified product IDs")
	if err != nil {
		return 0, err
	}

	tag, err := w.tx.Exec(ctx, sql,
		content.UUID, content.ID, entityVersionColumn(content.EntityVersion()),
		content.Type, content.Label, content.Name, content.Vendor,
		content.ContentURL, content.GPGURL, content.Arches, content.ReleaseVer,
		content.RequiredTags, content.MetadataExpire, modified, content.Locked)
	return tag.RowsAffected(), wrapPgError(err, op)
}

func (w *Writer) CreatePool(ctx context.Context, pool *models.Pool) error {
	var productUUID *string
	if pool.Product != nil {
		productUUID = nullableString(pool.Product.UUID)
	}

	_, err := w.tx.Exec(ctx, `
		INSERT INTO pools (id, subscription_id, owner_id, product_uuid, quantity,
			start_date, end_date, contract_number, account_number, order_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, pool.ID, pool.SubscriptionID, pool.OwnerID, productUUID, pool.Quantity,
		pool.StartDate, pool.EndDate, pool.ContractNumber, pool.AccountNumber,
		pool.OrderNumber)
	return wrapPgError(err, "creating pool")
}

func (w *Writer) UpdatePool(ctx context.Context, pool *models.Pool) error {
	var productUUID *string
	if pool.Product != nil {
		productUUID = nullableString(pool.Product.UUID)
	}

	tag, err := w.tx.Exec(ctx, `
		UPDATE pools SET subscription_id = $2, owner_id = $3, product_uuid = $4,
			quantity = $5, start_date = $6, end_date = $7, contract_number = $8,
			account_number = $9, order_number = $10
		WHERE id = $1
	`, pool.ID, pool.SubscriptionID, pool.OwnerID, productUUID, pool.Quantity,
		pool.StartDate, pool.EndDate, pool.ContractNumber, pool.AccountNumber,
		pool.OrderNumber)
	if err == nil && tag.RowsAffected() == 0 {
		return errors.Wrapf(ports.ErrNotFound, "pool row %s", pool.ID)
	}
	return wrapPgError(err, "updating pool")
}

func (w *Writer) DeletePoolsByIDs(ctx context.Context, ids []string) error {
	_, err := w.tx.Exec(ctx, `DELETE FROM pools WHERE id = ANY($1)`, ids)
	return errors.Wrap(err, "deleting pools")
}

func (w *Writer) ClearProductEntityVersion(ctx context.Context, rowUUID string) error {
	_, err := w.tx.Exec(ctx,
		`UPDATE products SET entity_version = NULL WHERE uuid = $1`, rowUUID)
	return errors.Wrap(err, "clearing product entity version")
}

func (w *Writer) ClearContentEntityVersion(ctx context.Context, rowUUID string) error {
	_, err := w.tx.Exec(ctx,
		`UPDATE contents SET entity_version = NULL WHERE uuid = $1`, rowUUID)
	return errors.Wrap(err, "clearing content entity version")
}

// DeleteProductsByUUIDs removes the given rows unless something still
// references them: an owner, a pool, or another product's subtree
func (w *Writer) DeleteProductsByUUIDs(ctx context.Context, uuids []string) error {
	_, err := w.tx.Exec(ctx, `
		DELETE FROM products p WHERE p.uuid = ANY($1)
			AND NOT EXISTS (SELECT 1 FROM owner_products op WHERE op.product_uuid = p.uuid)
			AND NOT EXISTS (SELECT 1 FROM pools pl WHERE pl.product_uuid = p.uuid)
			AND NOT EXISTS (
				SELECT 1 FROM products pp WHERE pp.uuid <> p.uuid
					AND (pp.derived_product_uuid = p.uuid OR pp.provided_product_uuids ? p.uuid))
	`, uuids)
	return errors.Wrap(err, "deleting products")
}

func (w *Writer) DeleteContentByUUIDs(ctx context.Context, uuids []string) error {
	_, err := w.tx.Exec(ctx, `
		DELETE FROM contents c WHERE c.uuid = ANY($1)
			AND NOT EXISTS (SELECT 1 FROM owner_contents oc WHERE oc.content_uuid = c.uuid)
			AND NOT EXISTS (
				SELECT 1 FROM products p, jsonb_array_elements(p.product_content) pc
					WHERE pc->>'content_uuid' = c.uuid)
	`, uuids)
	return errors.Wrap(err, "deleting content")
}

func (w *Writer) UpsertOwnerProductRefs(ctx context.Context, ownerID string, refs map[string]string) error {
	return w.upsertRefs(ctx, ownerID, refs, `
		INSERT INTO owner_products (owner_id, product_id, product_uuid)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, product_id) DO UPDATE SET product_uuid = EXCLUDED.product_uuid
	`, "upserting owner product refs")
}

func (w *Writer) UpsertOwnerContentRefs(ctx context.Context, ownerID string, refs map[string]string) error {
	return w.upsertRefs(ctx, ownerID, refs, `
		INSERT INTO owner_contents (owner_id, content_id, content_uuid)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, content_id) DO UPDATE SET content_uuid = EXCLUDED.content_uuid
	`, "upserting owner content refs")
}

func (w *Writer) upsertRefs(ctx context.Context, ownerID string, refs map[string]string, sql, op string) error {
	batch := &pgx.Batch{}
	for id, rowUUID := range refs {
		batch.Queue(sql, ownerID, id, rowUUID)
	}

	return errors.Wrap(w.tx.SendBatch(ctx, batch).Close(), op)
}

func (w *Writer) RemoveOwnerProductRefs(ctx context.Context, ownerID string, ids []string) error {
	_, err := w.tx.Exec(ctx,
		`DELETE FROM owner_products WHERE owner_id = $1 AND product_id = ANY($2)`,
		ownerID, ids)
	return errors.Wrap(err, "removing owner product refs")
}

func (w *Writer) RemoveOwnerContentRefs(ctx context.Context, ownerID string, ids []string) error {
	_, err := w.tx.Exec(ctx,
		`DELETE FROM owner_contents WHERE owner_id = $1 AND content_id = ANY($2)`,
		ownerID, ids)
	return errors.Wrap(err, "removing owner content refs")
}

func (w *Writer) SetProductOrphanDates(ctx context.Context, ownerID string, ids []string, orphanedSince *time.Time) error {
	_, err := w.tx.Exec(ctx,
		`UPDATE owner_products SET orphaned_since = $3 WHERE owner_id = $1 AND product_id = ANY($2)`,
		ownerID, ids, orphanedSince)
	return errors.Wrap(err, "setting product orphan dates")
}

func (w *Writer) SetContentOrphanDates(ctx context.Context, ownerID string, ids []string, orphanedSince *time.Time) error {
	_, err := w.tx.Exec(ctx,
		`UPDATE owner_contents SET orphaned_since = $3 WHERE owner_id = $1 AND content_id = ANY($2)`,
		ownerID, ids, orphanedSince)
	return errors.Wrap(err, "setting content orphan dates")
}

func (w *Writer) RebuildOwnerProductRefs(ctx context.Context, ownerID string, refs map[string]string) error {
	_, err := w.tx.Exec(ctx, `DELETE FROM owner_products WHERE owner_id = $1`, ownerID)
	if err != nil {
		return errors.Wrap(err, "rebuilding owner product refs")
	}
	return w.UpsertOwnerProductRefs(ctx, ownerID, refs)
}

func (w *Writer) RebuildOwnerContentRefs(ctx context.Context, ownerID string, refs map[string]string) error {
	_, err := w.tx.Exec(ctx, `DELETE FROM owner_contents WHERE owner_id = $1`, ownerID)
	if err != nil {
		return errors.Wrap(err, "rebuilding owner content refs")
	}
	return w.UpsertOwnerContentRefs(ctx, ownerID, refs)
}

// Commit commits the transaction. Deferred constraint checks can still raise
// a version violation here.
func (w *Writer) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	return wrapPgError(w.tx.Commit(context.Background()), "committing transaction")
}

// Abort rolls the transaction back. Safe after Commit.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.tx.Rollback(context.Background())
}
