package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("2026-03-02T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 10, d.Hour())

	_, err = ParseDate("02/03/2026")
	assert.Error(t, err)
}

func TestParseIndex(t *testing.T) {
	n, err := ParseIndex("3")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = ParseIndex("-1")
	assert.Error(t, err)
	_, err = ParseIndex("x")
	assert.Error(t, err)
}

func TestGenerateID(t *testing.T) {
	id := GenerateID()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
	assert.NotEqual(t, id, GenerateID())
}
