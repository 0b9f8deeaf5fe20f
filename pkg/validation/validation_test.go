package validation_test

import (
	"testing"

	"github.com/ha1tch/csvgraph/pkg/models"
	"github.com/ha1tch/csvgraph/pkg/validation"
	"github.com/stretchr/testify/assert"
)

func row(fields ...models.Field) models.Row {
	return models.Row{Line: 2, Fields: fields}
}

func TestGuardCheck(t *testing.T) {
	g := validation.NewGuard("")
	assert.Equal(t, "Id", g.Suffix())

	t.Run("Both keys present", func(t *testing.T) {
		v := g.Check(row(
			models.Field{Name: "exoId", Value: models.Int(1)},
			models.Field{Name: "aimId", Value: models.Int(2)},
			models.Field{Name: "aimCategory", Value: models.Null()},
		), "exoId", "aimId")
		assert.True(t, v.Valid)
		assert.Empty(t, v.Offending)
	})

	t.Run("Null foreign key", func(t *testing.T) {
		v := g.Check(row(
			models.Field{Name: "exoId", Value: models.Int(1)},
			models.Field{Name: "aimId", Value: models.Null()},
		), "exoId", "aimId")
		assert.False(t, v.Valid)
		assert.Equal(t, []string{"aimId"}, v.Offending)
	})

	t.Run("Empty string counts as null", func(t *testing.T) {
		v := g.Check(row(models.Field{Name: "exoId", Value: models.String("")}))
		assert.False(t, v.Valid)
	})

	t.Run("Undeclared foreign key column", func(t *testing.T) {
		v := g.Check(row(
			models.Field{Name: "exoId", Value: models.Int(1)},
			models.Field{Name: "aimId", Value: models.Int(2)},
			models.Field{Name: "reviewerId", Value: models.Null()},
		), "exoId", "aimId")
		assert.False(t, v.Valid)
		assert.Equal(t, []string{"reviewerId"}, v.Offending)
	})

	t.Run("Missing required key", func(t *testing.T) {
		v := g.Check(row(models.Field{Name: "exoId", Value: models.Int(1)}), "exoId", "aimId")
		assert.False(t, v.Valid)
		assert.Equal(t, []string{"aimId"}, v.Offending)
	})

	t.Run("Suffix alone is not a key", func(t *testing.T) {
		v := g.Check(row(models.Field{Name: "Id", Value: models.Null()}))
		assert.True(t, v.Valid)
	})
}

func TestGuardCustomSuffix(t *testing.T) {
	g := validation.NewGuard("_id")
	assert.True(t, g.IsForeignKey("exo_id"))
	assert.False(t, g.IsForeignKey("exoId"))
	assert.False(t, g.IsForeignKey("_id"))
}

func TestGuardTally(t *testing.T) {
	g := validation.NewGuard("Id")
	bad := row(
		models.Field{Name: "exoId", Value: models.Null()},
		models.Field{Name: "aimId", Value: models.Null()},
	)
	good := row(
		models.Field{Name: "exoId", Value: models.Int(1)},
		models.Field{Name: "aimId", Value: models.Int(2)},
	)

	var v validation.Validator = g
	assert.False(t, v.CheckTable("HAS_AIM", bad, "exoId", "aimId").Valid)
	assert.True(t, v.CheckTable("HAS_AIM", good, "exoId", "aimId").Valid)

	assert.Equal(t, []string{"aimId", "exoId"}, v.Offending("HAS_AIM"))
	assert.Empty(t, v.Offending("MADE_BY"))

	v.Reset()
	assert.Empty(t, v.Offending("HAS_AIM"))
}
