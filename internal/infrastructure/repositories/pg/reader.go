package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
)

// Compile-time check that reader implements ports.Reader
var _ ports.Reader = (*reader)(nil)

// reader reads through either the pool (committed state) or a writer's
// transaction (uncommitted state)
type reader struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *reader) query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if r.tx != nil {
		return r.tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}

const contentColumns = `uuid, id, type, label, name, vendor, content_url, gpg_url,
	arches, release_ver, required_tags, metadata_expire, modified_product_ids, locked`

func scanContent(rows pgx.Rows) (*models.Content, error) {
	var content models.Content
	var modified []byte

	err := rows.Scan(&content.UUID, &content.ID, &content.Type, &content.Label,
		&content.Name, &content.Vendor, &content.ContentURL, &content.GPGURL,
		&content.Arches, &content.ReleaseVer, &content.RequiredTags,
		&content.MetadataExpire, &modified, &content.Locked)
	if err != nil {
		return nil, errors.Wrap(err, "scanning content row")
	}

	if err := unmarshalJSON(modified, &content.ModifiedProductIDs, "modified product IDs"); err != nil {
		return nil, err
	}

	return &content, nil
}

func (r *reader) fetchContents(ctx context.Context, sql string, args ...interface{}) (map[string]*models.Content, error) {
	rows, err := r.query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying contents")
	}
	defer rows.Close()

	out := make(map[string]*models.Content)
	for rows.Next() {
		content, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out[content.UUID] = content
	}

	return out, errors.Wrap(rows.Err(), "iterating contents")
}

const productColumns = `uuid, id, name, multiplier, attributes, dependent_product_ids,
	derived_product_uuid, provided_product_uuids, product_content, locked`

func scanProductRow(rows pgx.Rows) (*productRow, error) {
	product := &models.Product{}
	row := &productRow{product: product}
	var attributes, dependents, provided, content []byte

	err := rows.Scan(&product.UUID, &product.ID, &product.Name, &product.Multiplier,
		&attributes, &dependents, &row.derivedUUID, &provided, &content, &product.Locked)
	if err != nil {
		return nil, errors.Wrap(err, "scanning product row")
	}

	if err := unmarshalJSON(attributes, &product.Attributes, "product attributes"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(dependents, &product.DependentProductIDs, "dependent product IDs"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(provided, &row.providedUUIDs, "provided product UUIDs"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(content, &row.contentRefs, "product content refs"); err != nil {
		return nil, err
	}

	return row, nil
}

func (r *reader) fetchProductRows(ctx context.Context, sql string, args ...interface{}) (map[string]*productRow, error) {
	rows, err := r.query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying products")
	}
	defer rows.Close()

	out := make(map[string]*productRow)
	for rows.Next() {
		row, err := scanProductRow(rows)
		if err != nil {
			return nil, err
		}
		out[row.product.UUID] = row
	}

	return out, errors.Wrap(rows.Err(), "iterating products")
}

// resolveProductTrees loads every product and content row the given rows
// reference, transitively, and wires the child pointers. The result maps row
// UUID to a fully linked product for every loaded row.
func (r *reader) resolveProductTrees(ctx context.Context, rows map[string]*productRow) (map[string]*models.Product, error) {
	// Pull in referenced product rows until the closure is complete.
	for {
		var missing []string
		for _, row := range rows {
			if row.derivedUUID != nil {
				if _, present := rows[*row.derivedUUID]; !present {
					missing = append(missing, *row.derivedUUID)
				}
			}
			for _, childUUID := range row.providedUUIDs {
				if _, present := rows[childUUID]; !present {
					missing = append(missing, childUUID)
				}
			}
		}
		if len(missing) == 0 {
			break
		}

		fetched, err := r.fetchProductRows(ctx,
			`SELECT `+productColumns+` FROM products WHERE uuid = ANY($1)`, missing)
		if err != nil {
			return nil, err
		}
		for rowUUID, row := range fetched {
			rows[rowUUID] = row
		}
	}

	var contentUUIDs []string
	for _, row := range rows {
		for _, ref := range row.contentRefs {
			contentUUIDs = append(contentUUIDs, ref.ContentUUID)
		}
	}

	contents := map[string]*models.Content{}
	if len(contentUUIDs) > 0 {
		var err error
		contents, err = r.fetchContents(ctx,
			`SELECT `+contentColumns+` FROM contents WHERE uuid = ANY($1)`, contentUUIDs)
		if err != nil {
			return nil, err
		}
	}

	out := make(map[string]*models.Product, len(rows))
	for rowUUID, row := range rows {
		out[rowUUID] = row.product
	}

	for _, row := range rows {
		if row.derivedUUID != nil {
			row.product.DerivedProduct = out[*row.derivedUUID]
		}
		for _, childUUID := range row.providedUUIDs {
			if child := out[childUUID]; child != nil {
				row.product.ProvidedProducts = append(row.product.ProvidedProducts, child)
			}
		}
		for _, ref := range row.contentRefs {
			if content := contents[ref.ContentUUID]; content != nil {
				row.product.ProductContent = append(row.product.ProductContent, models.ProductContent{
					Content: content,
					Enabled: ref.Enabled,
				})
			}
		}
	}

	return out, nil
}

func (r *reader) ListPools(ctx context.Context, consume func(models.Pool) error, scope ports.Scope) error {
	sql := `SELECT id, subscription_id, owner_id, product_uuid, quantity, start_date,
		end_date, contract_number, account_number, order_number FROM pools`
	var args []interface{}

	switch s := scope.(type) {
	case ports.OwnerScope:
		sql += ` WHERE owner_id = $1`
		args = append(args, s.OwnerID)
	case ports.IDScope:
		sql += ` WHERE subscription_id = ANY($1)`
		args = append(args, s.IDs)
	}

	rows, err := r.query(ctx, sql, args...)
	if err != nil {
		return errors.Wrap(err, "querying pools")
	}
	defer rows.Close()

	type poolRow struct {
		pool        *models.Pool
		productUUID *string
	}

	var pools []poolRow
	for rows.Next() {
		pool := &models.Pool{}
		var productUUID *string
		var startDate, endDate *time.Time

		err := rows.Scan(&pool.ID, &pool.SubscriptionID, &pool.OwnerID, &productUUID,
			&pool.Quantity, &startDate, &endDate, &pool.ContractNumber,
			&pool.AccountNumber, &pool.OrderNumber)
		if err != nil {
			return errors.Wrap(err, "scanning pool row")
		}

		if startDate != nil {
			pool.StartDate = *startDate
		}
		if endDate != nil {
			pool.EndDate = *endDate
		}

		pools = append(pools, poolRow{pool: pool, productUUID: productUUID})
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterating pools")
	}
	rows.Close()

	var productUUIDs []string
	for _, row := range pools {
		if row.productUUID != nil {
			productUUIDs = append(productUUIDs, *row.productUUID)
		}
	}

	products := map[string]*models.Product{}
	if len(productUUIDs) > 0 {
		productRows, err := r.fetchProductRows(ctx,
			`SELECT `+productColumns+` FROM products WHERE uuid = ANY($1)`, productUUIDs)
		if err != nil {
			return err
		}
		products, err = r.resolveProductTrees(ctx, productRows)
		if err != nil {
			return err
		}
	}

	for _, row := range pools {
		if row.productUUID != nil {
			row.pool.Product = products[*row.productUUID]
		}
		if err := consume(*row.pool); err != nil {
			return err
		}
	}

	return nil
}

func (r *reader) ListProducts(ctx context.Context, consume func(models.Product) error, scope ports.Scope) error {
	sql := `SELECT ` + productColumns + ` FROM products`
	var args []interface{}

	switch s := scope.(type) {
	case ports.OwnerScope:
		sql = `SELECT ` + productColumns + ` FROM products
			WHERE uuid IN (SELECT product_uuid FROM owner_products WHERE owner_id = $1)`
		args = append(args, s.OwnerID)
	case ports.IDScope:
		sql += ` WHERE id = ANY($1)`
		args = append(args, s.IDs)
	}

	rows, err := r.fetchProductRows(ctx, sql, args...)
	if err != nil {
		return err
	}

	listed := make([]string, 0, len(rows))
	for rowUUID := range rows {
		listed = append(listed, rowUUID)
	}

	products, err := r.resolveProductTrees(ctx, rows)
	if err != nil {
		return err
	}

	for _, rowUUID := range listed {
		if err := consume(*products[rowUUID]); err != nil {
			return err
		}
	}

	return nil
}

func (r *reader) ListContent(ctx context.Context, consume func(models.Content) error, scope ports.Scope) error {
	sql := `SELECT ` + contentColumns + ` FROM contents`
	var args []interface{}

	switch s := scope.(type) {
	case ports.OwnerScope:
		sql = `SELECT ` + contentColumns + ` FROM contents
			WHERE uuid IN (SELECT content_uuid FROM owner_contents WHERE owner_id = $1)`
		args = append(args, s.OwnerID)
	case ports.IDScope:
		sql += ` WHERE id = ANY($1)`
		args = append(args, s.IDs)
	}

	contents, err := r.fetchContents(ctx, sql, args...)
	if err != nil {
		return err
	}

	for _, content := range contents {
		if err := consume(*content); err != nil {
			return err
		}
	}

	return nil
}

func (r *reader) GetVersionedProducts(ctx context.Context, excludeOwnerID string, ids []string) (map[string][]*models.Product, error) {
	rows, err := r.fetchProductRows(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE id = ANY($2) AND entity_version IS NOT NULL
			AND uuid NOT IN (SELECT product_uuid FROM owner_products WHERE owner_id = $1)
	`, excludeOwnerID, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]string, 0, len(rows))
	for rowUUID := range rows {
		candidates = append(candidates, rowUUID)
	}

	products, err := r.resolveProductTrees(ctx, rows)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]*models.Product)
	for _, rowUUID := range candidates {
		product := products[rowUUID]
		out[product.ID] = append(out[product.ID], product)
	}

	return out, nil
}

func (r *reader) GetVersionedContent(ctx context.Context, excludeOwnerID string, ids []string) (map[string][]*models.Content, error) {
	contents, err := r.fetchContents(ctx, `
		SELECT `+contentColumns+` FROM contents
		WHERE id = ANY($2) AND entity_version IS NOT NULL
			AND uuid NOT IN (SELECT content_uuid FROM owner_contents WHERE owner_id = $1)
	`, excludeOwnerID, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]*models.Content)
	for _, content := range contents {
		out[content.ID] = append(out[content.ID], content)
	}

	return out, nil
}

func (r *reader) GetProductOwnerCounts(ctx context.Context, uuids []string) (map[string]int, error) {
	return r.ownerCounts(ctx, `
		SELECT product_uuid, COUNT(DISTINCT owner_id) FROM owner_products
		WHERE product_uuid = ANY($1) GROUP BY product_uuid
	`, uuids)
}

func (r *reader) GetContentOwnerCounts(ctx context.Context, uuids []string) (map[string]int, error) {
	return r.ownerCounts(ctx, `
		SELECT content_uuid, COUNT(DISTINCT owner_id) FROM owner_contents
		WHERE content_uuid = ANY($1) GROUP BY content_uuid
	`, uuids)
}

func (r *reader) ownerCounts(ctx context.Context, sql string, uuids []string) (map[string]int, error) {
	rows, err := r.query(ctx, sql, uuids)
	if err != nil {
		return nil, errors.Wrap(err, "querying owner counts")
	}
	defer rows.Close()

	out := make(map[string]int, len(uuids))
	for rows.Next() {
		var rowUUID string
		var count int
		if err := rows.Scan(&rowUUID, &count); err != nil {
			return nil, errors.Wrap(err, "scanning owner count")
		}
		out[rowUUID] = count
	}

	return out, errors.Wrap(rows.Err(), "iterating owner counts")
}

func (r *reader) GetProductOrphanDates(ctx context.Context, ownerID string, ids []string) (map[string]time.Time, error) {
	return r.orphanDates(ctx, `
		SELECT product_id, orphaned_since FROM owner_products
		WHERE owner_id = $1 AND product_id = ANY($2) AND orphaned_since IS NOT NULL
	`, ownerID, ids)
}

func (r *reader) GetContentOrphanDates(ctx context.Context, ownerID string, ids []string) (map[string]time.Time, error) {
	return r.orphanDates(ctx, `
		SELECT content_id, orphaned_since FROM owner_contents
		WHERE owner_id = $1 AND content_id = ANY($2) AND orphaned_since IS NOT NULL
	`, ownerID, ids)
}

func (r *reader) orphanDates(ctx context.Context, sql, ownerID string, ids []string) (map[string]time.Time, error) {
	rows, err := r.query(ctx, sql, ownerID, ids)
	if err != nil {
		return nil, errors.Wrap(err, "querying orphan dates")
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var orphanedSince time.Time
		if err := rows.Scan(&id, &orphanedSince); err != nil {
			return nil, errors.Wrap(err, "scanning orphan date")
		}
		out[id] = orphanedSince
	}

	return out, errors.Wrap(rows.Err(), "iterating orphan dates")
}

// Close releases nothing; connections return to the pool automatically
func (r *reader) Close() error {
	return nil
}
