package history

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reach/reach-api/internal/domain/ledger"
)

func TestCursorRoundTrip(t *testing.T) {
	txn := ledger.Transaction{
		ID:        uuid.New(),
		CreatedAt: time.Date(2026, 3, 1, 8, 30, 0, 123456000, time.UTC),
	}
	c, err := DecodeCursor(EncodeCursor(txn))
	require.NoError(t, err)
	assert.True(t, c.CreatedAt.Equal(txn.CreatedAt))
	assert.Equal(t, txn.ID, c.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"%%%", "bm8tc2VwYXJhdG9y", "eHx5"} {
		_, err := DecodeCursor(token)
		assert.ErrorIs(t, err, ErrInvalidCursor, token)
	}
}
