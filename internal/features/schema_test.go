package features

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchema_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		columns []string
	}{
		{"nil", nil},
		{"empty", []string{}},
		{"blank name", []string{"Unit price", "  "}},
		{"duplicate", []string{"Branch_A", "Quantity", "Branch_A"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSchema(tc.columns)
			assert.ErrorIs(t, err, ErrSchemaMismatch)
		})
	}
}

func TestNewSchema_CopiesInput(t *testing.T) {
	cols := []string{"Quantity", "Branch_A"}
	s, err := NewSchema(cols)
	require.NoError(t, err)

	cols[0] = "changed"
	assert.Equal(t, "Quantity", s.Column(0))
}

func TestLoadSchema(t *testing.T) {
	s := loadTestSchema(t)
	assert.Equal(t, 25, s.Len())

	i, ok := s.Index("Hour")
	assert.True(t, ok)
	assert.Equal(t, 5, i)
}

func TestLoadSchema_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSchema(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSchemaMismatch)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"columns": 3}`), 0o600))
	_, err = LoadSchema(bad)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o600))
	_, err = LoadSchema(empty)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestSchema_Categories(t *testing.T) {
	s := loadTestSchema(t)

	assert.Equal(t, []string{"A", "B", "C"}, s.Categories(ColBranch))
	assert.Equal(t, []string{"Cash", "Credit card", "Ewallet"}, s.Categories(ColPayment))
	assert.Len(t, s.Categories(ColProductLine), 6)
	assert.Empty(t, s.Categories("Unit price"))
}

func TestSchema_Equal(t *testing.T) {
	a, _ := NewSchema([]string{"x", "y"})
	b, _ := NewSchema([]string{"x", "y"})
	c, _ := NewSchema([]string{"y", "x"})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}
