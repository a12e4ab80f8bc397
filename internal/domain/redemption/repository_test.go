package redemption_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/domain/redemption"
	"github.com/reach/reach-api/internal/pkg/database/dbtest"
	"github.com/reach/reach-api/internal/pkg/events"
)

type nopCache struct{}

func (nopCache) Invalidate(context.Context) {}

func newPostgresService(t *testing.T) (*redemption.Service, *ledger.Engine, *ledger.AccountManager, func() uuid.UUID, func(int64, *int64) uuid.UUID) {
	db := dbtest.Open(t)
	repo := ledger.NewRepository(db)
	engine := ledger.NewEngine(repo, events.Nop{})
	accounts := ledger.NewAccountManager(repo)
	svc := redemption.NewService(redemption.NewRepository(db, engine), engine, accounts, nopCache{}, nil)

	newChild := func() uuid.UUID {
		child := dbtest.CreateChild(t, db, uuid.New())
		_, err := accounts.GetOrCreate(context.Background(), child)
		require.NoError(t, err)
		return child
	}
	newItem := func(price int64, inventory *int64) uuid.UUID {
		return dbtest.CreateItem(t, db, "Pencil", price, inventory)
	}
	return svc, engine, accounts, newChild, newItem
}

func TestPostgresRedeemLastUnitConcurrently(t *testing.T) {
	svc, engine, accounts, newChild, newItem := newPostgresService(t)
	ctx := context.Background()
	itemID := newItem(5, qty(1))

	children := []uuid.UUID{newChild(), newChild()}
	for _, child := range children {
		_, err := engine.Apply(ctx, ledger.Entry{AccountID: child, Delta: 10, Reason: ledger.ReasonGift})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(children))
	for i, child := range children {
		wg.Add(1)
		go func(i int, child uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 1})
		}(i, child)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.True(t, errors.Is(err, redemption.ErrInsufficientInventory), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, successes)

	var total int64
	for _, child := range children {
		account, err := accounts.Verify(ctx, child)
		require.NoError(t, err)
		total += account.Balance
	}
	assert.Equal(t, int64(15), total)
}

func TestPostgresFailedDebitLeavesNoRedemption(t *testing.T) {
	svc, engine, accounts, newChild, newItem := newPostgresService(t)
	ctx := context.Background()
	itemID := newItem(8, qty(3))
	child := newChild()

	_, err := engine.Apply(ctx, ledger.Entry{AccountID: child, Delta: 7, Reason: ledger.ReasonGift})
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 1})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	list, err := svc.ListByChild(ctx, child, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	account, err := accounts.Verify(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, int64(7), account.Balance)
}

func TestPostgresCancelRefunds(t *testing.T) {
	svc, engine, accounts, newChild, newItem := newPostgresService(t)
	ctx := context.Background()
	itemID := newItem(8, qty(1))
	child := newChild()

	_, err := engine.Apply(ctx, ledger.Entry{AccountID: child, Delta: 8, Reason: ledger.ReasonActivityComplete})
	require.NoError(t, err)

	res, err := svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 1, IdempotencyKey: "k-" + child.String()})
	require.NoError(t, err)
	assert.Zero(t, res.Balance)

	replay, err := svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 1, IdempotencyKey: "k-" + child.String()})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	canceled, err := svc.Cancel(ctx, res.RedemptionID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, redemption.StatusCanceled, canceled.Status)

	account, err := accounts.Verify(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, int64(8), account.Balance)

	// the restored unit can be bought again
	_, err = svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 1})
	require.NoError(t, err)
}

func TestPostgresCreateWithTakenKeyOnLastUnit(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	repo := ledger.NewRepository(db)
	engine := ledger.NewEngine(repo, nil)
	store := redemption.NewRepository(db, engine)

	child := dbtest.CreateChild(t, db, uuid.New())
	_, err := ledger.NewAccountManager(repo).GetOrCreate(ctx, child)
	require.NoError(t, err)
	_, err = engine.Apply(ctx, ledger.Entry{AccountID: child, Delta: 5, Reason: ledger.ReasonGift})
	require.NoError(t, err)
	itemID := dbtest.CreateItem(t, db, "Eraser", 5, qty(1))

	in := redemption.NewRedemption{AccountID: child, ItemID: itemID, Qty: 1, IdempotencyKey: "tap-last"}
	_, _, err = store.Create(ctx, in)
	require.NoError(t, err)

	in.ID = uuid.Nil
	_, _, err = store.Create(ctx, in)
	assert.ErrorIs(t, err, redemption.ErrDuplicateKey)
}
