package pg

import (
	"encoding/json"

	"github.com/pkg/errors"

	"entitle-pg-backend/internal/domain/models"
)

// productContentRef is the jsonb shape of one product-content link stored on
// a product row
type productContentRef struct {
	ContentUUID string `json:"content_uuid"`
	Enabled     bool   `json:"enabled"`
}

// productRow is a products table row before its child references have been
// resolved into model pointers
type productRow struct {
	product *models.Product

	derivedUUID   *string
	providedUUIDs []string
	contentRefs   []productContentRef
}

func marshalJSON(v interface{}, what string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", what)
	}
	return data, nil
}

func unmarshalJSON(data []byte, v interface{}, what string) error {
	if len(data) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decoding %s", what)
}

// entityVersionColumn maps the unsigned version signature onto the BIGINT
// column. The bit pattern is preserved; only uniqueness matters.
func entityVersionColumn(version uint64) int64 {
	return int64(version)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
