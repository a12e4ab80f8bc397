package history_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reach/reach-api/internal/domain/history"
	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/store/memory"
)

func seeded(t *testing.T, n int) (*history.Service, uuid.UUID) {
	t.Helper()
	store := memory.New().Ledger()
	accounts := ledger.NewAccountManager(store)
	engine := ledger.NewEngine(store, nil)
	child := uuid.New()
	ctx := context.Background()

	_, err := accounts.GetOrCreate(ctx, child)
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, err := engine.Apply(ctx, ledger.Entry{
			AccountID: child,
			Delta:     int64(i),
			Reason:    ledger.ReasonActivityComplete,
			RefTable:  "activities",
			RefID:     fmt.Sprintf("a-%d", i),
		})
		require.NoError(t, err)
	}
	return history.NewService(store, accounts, 20), child
}

func TestHistoryPagination(t *testing.T) {
	svc, child := seeded(t, 5)
	ctx := context.Background()

	first, err := svc.History(ctx, child, 2, "")
	require.NoError(t, err)
	require.Len(t, first.Transactions, 2)
	assert.True(t, first.HasMore)
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, int64(5), first.Transactions[0].Delta)
	assert.Equal(t, int64(4), first.Transactions[1].Delta)
	assert.Equal(t, "Completed activity (+5 tokens)", first.Transactions[0].Description)

	second, err := svc.History(ctx, child, 2, *first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Transactions, 2)
	assert.Equal(t, int64(3), second.Transactions[0].Delta)
	assert.Equal(t, int64(2), second.Transactions[1].Delta)
	assert.True(t, second.HasMore)

	third, err := svc.History(ctx, child, 2, *second.NextCursor)
	require.NoError(t, err)
	require.Len(t, third.Transactions, 1)
	assert.Equal(t, int64(1), third.Transactions[0].Delta)
	assert.False(t, third.HasMore)
	assert.Nil(t, third.NextCursor)
}

func TestHistoryLimits(t *testing.T) {
	svc, child := seeded(t, 25)
	ctx := context.Background()

	page, err := svc.History(ctx, child, 0, "")
	require.NoError(t, err)
	assert.Len(t, page.Transactions, history.DefaultLimit)

	page, err = svc.History(ctx, child, 1000, "")
	require.NoError(t, err)
	assert.Len(t, page.Transactions, 25)
	assert.False(t, page.HasMore)
}

func TestHistoryEmptyAndBadCursor(t *testing.T) {
	svc, _ := seeded(t, 0)
	ctx := context.Background()

	page, err := svc.History(ctx, uuid.New(), 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Transactions)
	assert.False(t, page.HasMore)

	_, err = svc.History(ctx, uuid.New(), 10, "not-a-cursor!")
	assert.ErrorIs(t, err, history.ErrInvalidCursor)
}

func TestBalanceAndSummary(t *testing.T) {
	svc, child := seeded(t, 12)
	ctx := context.Background()

	view, err := svc.Balance(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, int64(78), view.Balance)
	assert.Equal(t, int64(78), view.WeeklyEarned)

	summary, err := svc.Summary(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, int64(78), summary.Balance)
	assert.Len(t, summary.RecentTransactions, 10)
	assert.Equal(t, int64(12), summary.RecentTransactions[0].Delta)

	fresh, err := svc.Balance(ctx, uuid.New())
	require.NoError(t, err)
	assert.Zero(t, fresh.Balance)
}
