package mappers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
)

func TestEntityMapper_AddExistingEntity(t *testing.T) {
	mapper := NewProductMapper()

	p1 := &models.Product{UUID: "u1", ID: "P1", Name: "one"}

	created, err := mapper.AddExistingEntity(p1)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Same(t, p1, mapper.GetExistingEntity("P1"))

	// Re-adding the same entity is a no-op.
	created, err = mapper.AddExistingEntity(p1)
	require.NoError(t, err)
	assert.False(t, created)
	assert.False(t, mapper.IsDirty())

	// Overwriting with a different entity flags the mapper dirty.
	p1dup := &models.Product{UUID: "u2", ID: "P1", Name: "one-dup"}
	created, err = mapper.AddExistingEntity(p1dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, mapper.IsDirty())
	assert.Same(t, p1dup, mapper.GetExistingEntity("P1"))
}

func TestEntityMapper_AddExistingEntityInvalid(t *testing.T) {
	mapper := NewProductMapper()

	_, err := mapper.AddExistingEntity(nil)
	assert.ErrorIs(t, err, ports.ErrInvalidArgument)

	_, err = mapper.AddExistingEntity(&models.Product{UUID: "u1"})
	assert.ErrorIs(t, err, ports.ErrInvalidArgument)
}

func TestEntityMapper_AddExistingEntitiesSkipsNil(t *testing.T) {
	mapper := NewContentMapper()

	count, err := mapper.AddExistingEntities([]*models.Content{
		{UUID: "u1", ID: "C1"},
		nil,
		{UUID: "u2", ID: "C2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestEntityMapper_EntityIDs(t *testing.T) {
	mapper := NewProductMapper()

	_, err := mapper.AddExistingEntity(&models.Product{UUID: "u1", ID: "P2"})
	require.NoError(t, err)
	_, err = mapper.AddImportedEntity(&models.ProductInfo{ID: "P1"})
	require.NoError(t, err)
	_, err = mapper.AddImportedEntity(&models.ProductInfo{ID: "P2"})
	require.NoError(t, err)

	assert.Equal(t, []string{"P1", "P2"}, mapper.EntityIDs())
}

func TestEntityMapper_Candidates(t *testing.T) {
	mapper := NewProductMapper()

	assert.Nil(t, mapper.GetCandidateEntities("P1"))
	assert.False(t, mapper.SetCandidateEntitiesMap(nil))

	candidate := &models.Product{UUID: "u9", ID: "P1"}
	changed := mapper.SetCandidateEntitiesMap(map[string][]*models.Product{
		"P1": {candidate},
	})
	assert.True(t, changed)
	require.Len(t, mapper.GetCandidateEntities("P1"), 1)
	assert.Same(t, candidate, mapper.GetCandidateEntities("P1")[0])
}

func TestEntityMapper_ClearAndClearExisting(t *testing.T) {
	mapper := NewContentMapper()

	_, err := mapper.AddExistingEntity(&models.Content{UUID: "u1", ID: "C1"})
	require.NoError(t, err)
	_, err = mapper.AddExistingEntity(&models.Content{UUID: "u2", ID: "C1"})
	require.NoError(t, err)
	_, err = mapper.AddImportedEntity(&models.ContentInfo{ID: "C1"})
	require.NoError(t, err)
	require.True(t, mapper.IsDirty())

	mapper.ClearExistingEntities()
	assert.Nil(t, mapper.GetExistingEntity("C1"))
	assert.NotNil(t, mapper.GetImportedEntity("C1"))
	assert.False(t, mapper.IsDirty())

	mapper.Clear()
	assert.Nil(t, mapper.GetImportedEntity("C1"))
	assert.Empty(t, mapper.EntityIDs())
}

func TestEntityMapper_ContainsOnlyExistingEntities(t *testing.T) {
	mapper := NewProductMapper()

	p1 := &models.Product{UUID: "u1", ID: "P1"}
	p2 := &models.Product{UUID: "u2", ID: "P2"}
	_, err := mapper.AddExistingEntities([]*models.Product{p1, p2})
	require.NoError(t, err)

	assert.True(t, mapper.ContainsOnlyExistingEntities([]*models.Product{p1, p2}))
	assert.False(t, mapper.ContainsOnlyExistingEntities([]*models.Product{p1}))
	assert.False(t, mapper.ContainsOnlyExistingEntities([]*models.Product{p1, {UUID: "u3", ID: "P2"}}))
}
