package redemption_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reach/reach-api/internal/domain/catalog"
	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/domain/redemption"
	"github.com/reach/reach-api/internal/domain/reward"
	"github.com/reach/reach-api/internal/pkg/events"
	"github.com/reach/reach-api/internal/store/memory"
)

type cacheSpy struct {
	invalidations atomic.Int64
}

func (c *cacheSpy) Invalidate(context.Context) { c.invalidations.Add(1) }

type env struct {
	store    *memory.Store
	svc      *redemption.Service
	rewards  *reward.Service
	accounts *ledger.AccountManager
	cache    *cacheSpy
	events   *events.Recorder
}

func newEnv() *env {
	st := memory.New()
	ls := st.Ledger()
	rec := &events.Recorder{}
	engine := ledger.NewEngine(ls, rec)
	accounts := ledger.NewAccountManager(ls)
	cache := &cacheSpy{}
	return &env{
		store:    st,
		svc:      redemption.NewService(st.Redemptions(), engine, accounts, cache, rec),
		rewards:  reward.NewService(engine, accounts),
		accounts: accounts,
		cache:    cache,
		events:   rec,
	}
}

func (e *env) item(t *testing.T, price int64, inventory *int64) uuid.UUID {
	t.Helper()
	item := &catalog.ShopItem{Name: "Sticker pack", Category: "Stickers", Price: price, IsActive: true, InventoryQty: inventory}
	require.NoError(t, e.store.Catalog().Create(context.Background(), item))
	return item.ID
}

func (e *env) fund(t *testing.T, child uuid.UUID, amount int64) {
	t.Helper()
	_, err := e.rewards.Award(context.Background(), reward.AwardRequest{ChildID: child, Amount: amount, Reason: ledger.ReasonGift})
	require.NoError(t, err)
}

func (e *env) balance(t *testing.T, child uuid.UUID) int64 {
	t.Helper()
	account, err := e.accounts.Verify(context.Background(), child)
	require.NoError(t, err)
	return account.Balance
}

func (e *env) stock(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	item, err := e.store.Catalog().Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, item.InventoryQty)
	return *item.InventoryQty
}

func qty(n int64) *int64 { return &n }

func TestRedeemRoundTrip(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	child := uuid.New()
	itemID := e.item(t, 8, qty(3))
	e.fund(t, child, 20)

	res, err := e.svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(16), res.TotalCost)
	assert.Equal(t, int64(4), res.Balance)
	assert.Equal(t, redemption.StatusRequested, res.Status)
	assert.Equal(t, "Sticker pack", res.ItemName)

	assert.Equal(t, int64(4), e.balance(t, child))
	assert.Equal(t, int64(1), e.stock(t, itemID))
	assert.Equal(t, int64(1), e.cache.invalidations.Load())

	rows, err := e.store.Ledger().ListTransactions(ctx, child, nil, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(-16), rows[0].Delta)
	assert.Equal(t, ledger.ReasonPurchase, rows[0].Reason)
	assert.Equal(t, res.RedemptionID.String(), *rows[0].RefID)
}

func TestRedeemBoundary(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	t.Run("exact balance succeeds", func(t *testing.T) {
		child := uuid.New()
		itemID := e.item(t, 5, qty(10))
		e.fund(t, child, 15)

		res, err := e.svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 3})
		require.NoError(t, err)
		assert.Zero(t, res.Balance)
		assert.Equal(t, int64(7), e.stock(t, itemID))
	})

	t.Run("one token short fails untouched", func(t *testing.T) {
		child := uuid.New()
		itemID := e.item(t, 5, qty(10))
		e.fund(t, child, 14)

		_, err := e.svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 3})
		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		assert.Equal(t, int64(14), e.balance(t, child))
		assert.Equal(t, int64(10), e.stock(t, itemID))

		list, err := e.svc.ListByChild(ctx, child, 10)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestRedeemItemChecks(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	child := uuid.New()
	e.fund(t, child, 100)

	_, err := e.svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: uuid.New(), Qty: 1})
	assert.ErrorIs(t, err, catalog.ErrItemNotFound)

	inactive := e.item(t, 5, nil)
	require.NoError(t, e.store.Catalog().SetActive(inactive, false))
	_, err = e.svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: inactive, Qty: 1})
	assert.ErrorIs(t, err, catalog.ErrItemInactive)
	assert.ErrorIs(t, err, catalog.ErrItemNotFound)

	limited := e.item(t, 5, qty(1))
	_, err = e.svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: limited, Qty: 2})
	assert.ErrorIs(t, err, redemption.ErrInsufficientInventory)

	unlimited := e.item(t, math.MaxInt64/2, nil)
	_, err = e.svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: unlimited, Qty: 3})
	assert.ErrorIs(t, err, redemption.ErrInvalidQuantity)

	_, err = e.svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: unlimited, Qty: 0})
	assert.ErrorIs(t, err, redemption.ErrInvalidQuantity)

	assert.Equal(t, int64(100), e.balance(t, child))
}

func TestRedeemLastUnitConcurrently(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	itemID := e.item(t, 5, qty(1))
	a, b := uuid.New(), uuid.New()
	e.fund(t, a, 10)
	e.fund(t, b, 10)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, child := range []uuid.UUID{a, b} {
		wg.Add(1)
		go func(i int, child uuid.UUID) {
			defer wg.Done()
			_, results[i] = e.svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 1})
		}(i, child)
	}
	wg.Wait()

	successes, outOfStock := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, redemption.ErrInsufficientInventory):
			outOfStock++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, outOfStock)
	assert.Zero(t, e.stock(t, itemID))
	assert.Equal(t, int64(15), e.balance(t, a)+e.balance(t, b))
}

func TestAwardRedeemCancelScenario(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	child := uuid.New()
	itemID := e.item(t, 8, qty(2))

	_, err := e.rewards.Award(ctx, reward.AwardRequest{ChildID: child, Amount: 5, Reason: ledger.ReasonActivityComplete, RefTable: "activities", RefID: "a1"})
	require.NoError(t, err)
	_, err = e.rewards.Award(ctx, reward.AwardRequest{ChildID: child, Amount: 3, Reason: ledger.ReasonWeeklyGoal, RefTable: "weeks", RefID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), e.balance(t, child))

	res, err := e.svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 1})
	require.NoError(t, err)
	assert.Zero(t, res.Balance)
	assert.Equal(t, redemption.StatusRequested, res.Status)

	actor := uuid.New()
	canceled, err := e.svc.Cancel(ctx, res.RedemptionID, &actor, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, redemption.StatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)
	require.NotNil(t, canceled.Notes)
	assert.Equal(t, "changed mind", *canceled.Notes)

	assert.Equal(t, int64(8), e.balance(t, child))
	assert.Equal(t, int64(2), e.stock(t, itemID))

	account, err := e.accounts.Get(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, int64(8), account.WeeklyEarned, "refunds do not count as earnings")

	_, err = e.svc.Cancel(ctx, res.RedemptionID, &actor, "")
	assert.ErrorIs(t, err, redemption.ErrInvalidTransition)
	assert.Equal(t, int64(8), e.balance(t, child))
}

func TestTransitions(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	child := uuid.New()
	itemID := e.item(t, 1, nil)
	e.fund(t, child, 10)
	actor := uuid.New()

	res, err := e.svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 1})
	require.NoError(t, err)

	_, err = e.svc.Fulfill(ctx, res.RedemptionID, &actor, "")
	assert.ErrorIs(t, err, redemption.ErrInvalidTransition)

	approved, err := e.svc.Approve(ctx, res.RedemptionID, &actor, "")
	require.NoError(t, err)
	assert.Equal(t, redemption.StatusApproved, approved.Status)
	assert.NotNil(t, approved.ApprovedAt)

	fulfilled, err := e.svc.Fulfill(ctx, res.RedemptionID, &actor, "handed over in class")
	require.NoError(t, err)
	assert.Equal(t, redemption.StatusFulfilled, fulfilled.Status)

	_, err = e.svc.Cancel(ctx, res.RedemptionID, &actor, "")
	assert.ErrorIs(t, err, redemption.ErrInvalidTransition)
	assert.Equal(t, int64(9), e.balance(t, child))

	_, err = e.svc.Approve(ctx, uuid.New(), &actor, "")
	assert.ErrorIs(t, err, redemption.ErrRedemptionNotFound)
}

func TestStatusCanTransition(t *testing.T) {
	allowed := map[redemption.Status][]redemption.Status{
		redemption.StatusRequested: {redemption.StatusApproved, redemption.StatusCanceled},
		redemption.StatusApproved:  {redemption.StatusFulfilled, redemption.StatusCanceled},
	}
	all := []redemption.Status{redemption.StatusRequested, redemption.StatusApproved, redemption.StatusFulfilled, redemption.StatusCanceled}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestRedeemIdempotencyKey(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	child := uuid.New()
	itemID := e.item(t, 4, qty(5))
	e.fund(t, child, 20)

	req := redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 1, IdempotencyKey: "tap-1"}
	first, err := e.svc.Redeem(ctx, req)
	require.NoError(t, err)

	second, err := e.svc.Redeem(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.RedemptionID, second.RedemptionID)
	assert.Equal(t, int64(16), e.balance(t, child))
	assert.Equal(t, int64(4), e.stock(t, itemID))

	req.Qty = 2
	_, err = e.svc.Redeem(ctx, req)
	assert.ErrorIs(t, err, redemption.ErrIdempotencyKeyReused)
}

func TestCreateWithTakenKeyOnLastUnit(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	child := uuid.New()
	itemID := e.item(t, 5, qty(1))
	e.fund(t, child, 5)

	in := redemption.NewRedemption{AccountID: child, ItemID: itemID, Qty: 1, IdempotencyKey: "tap-last"}
	_, _, err := e.store.Redemptions().Create(ctx, in)
	require.NoError(t, err)

	// stock and funds are both gone; the key must still win
	_, _, err = e.store.Redemptions().Create(ctx, in)
	assert.ErrorIs(t, err, redemption.ErrDuplicateKey)
}

func TestRedeemConcurrentRetriesReplay(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	child := uuid.New()
	itemID := e.item(t, 5, qty(1))
	e.fund(t, child, 5)

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]*redemption.RedeemResult, attempts)
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.svc.Redeem(ctx, redemption.RedeemRequest{
				ChildID: child, ItemID: itemID, Qty: 1, IdempotencyKey: "double-tap",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].RedemptionID, results[i].RedemptionID)
	}
	assert.Equal(t, int64(0), e.balance(t, child))
	assert.Equal(t, int64(0), e.stock(t, itemID))
}

func TestRedeemPublishesEvents(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	child := uuid.New()
	itemID := e.item(t, 2, nil)
	e.fund(t, child, 2)

	_, err := e.svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: itemID, Qty: 1})
	require.NoError(t, err)

	var types []string
	for _, ev := range e.events.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		events.TypeTransactionCreated, // award
		events.TypeTransactionCreated, // purchase debit
		events.TypeRedemptionUpdated,
	}, types)
}

type flakyAccounts struct {
	ledger.Store
	down atomic.Bool
}

func (f *flakyAccounts) GetAccount(ctx context.Context, childID uuid.UUID) (*ledger.Account, error) {
	if f.down.Load() {
		return nil, ledger.ErrUnavailable
	}
	return f.Store.GetAccount(ctx, childID)
}

func TestTransitionSkipsEventWithoutBalance(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ls := st.Ledger()
	rec := &events.Recorder{}
	engine := ledger.NewEngine(ls, rec)
	flaky := &flakyAccounts{Store: ls}
	svc := redemption.NewService(st.Redemptions(), engine, ledger.NewAccountManager(flaky), &cacheSpy{}, rec)

	item := &catalog.ShopItem{Name: "Kite", Category: "toys", Price: 3, IsActive: true}
	require.NoError(t, st.Catalog().Create(ctx, item))
	child := uuid.New()
	_, err := reward.NewService(engine, ledger.NewAccountManager(ls)).Award(ctx, reward.AwardRequest{ChildID: child, Amount: 5, Reason: ledger.ReasonGift})
	require.NoError(t, err)

	res, err := svc.Redeem(ctx, redemption.RedeemRequest{ChildID: child, ItemID: item.ID, Qty: 1})
	require.NoError(t, err)
	published := len(rec.Events())

	flaky.down.Store(true)
	approved, err := svc.Approve(ctx, res.RedemptionID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, redemption.StatusApproved, approved.Status)
	assert.Len(t, rec.Events(), published)

	flaky.down.Store(false)
	_, err = svc.Fulfill(ctx, res.RedemptionID, nil, "")
	require.NoError(t, err)
	got := rec.Events()
	require.Len(t, got, published+1)
	assert.Equal(t, int64(2), got[published].Balance)
}
