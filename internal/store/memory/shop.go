package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/reach/reach-api/internal/domain/catalog"
	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/domain/redemption"
)

// CatalogStore implements catalog.Repository.
type CatalogStore struct {
	s *Store
}

var _ catalog.Repository = (*CatalogStore)(nil)

func (c *CatalogStore) ListActive(_ context.Context) ([]catalog.ShopItem, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	items := make([]catalog.ShopItem, 0, len(c.s.items))
	for _, item := range c.s.items {
		if item.IsActive {
			items = append(items, copyItem(item))
		}
	}
	slices.SortFunc(items, func(a, b catalog.ShopItem) int {
		return cmp.Or(
			strings.Compare(a.Category, b.Category),
			cmp.Compare(a.Price, b.Price),
			strings.Compare(a.Name, b.Name),
		)
	})
	return items, nil
}

func (c *CatalogStore) Get(_ context.Context, id uuid.UUID) (*catalog.ShopItem, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	item, ok := c.s.items[id]
	if !ok {
		return nil, catalog.ErrItemNotFound
	}
	out := copyItem(item)
	return &out, nil
}

func (c *CatalogStore) Create(_ context.Context, item *catalog.ShopItem) error {
	if err := catalog.PrepareNew(item); err != nil {
		return err
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	item.CreatedAt = c.s.tick()
	stored := copyItem(item)
	c.s.items[item.ID] = &stored
	return nil
}

// SetActive toggles an item; used to retire catalog entries.
func (c *CatalogStore) SetActive(id uuid.UUID, active bool) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	item, ok := c.s.items[id]
	if !ok {
		return catalog.ErrItemNotFound
	}
	item.IsActive = active
	return nil
}

func copyItem(item *catalog.ShopItem) catalog.ShopItem {
	out := *item
	if item.InventoryQty != nil {
		qty := *item.InventoryQty
		out.InventoryQty = &qty
	}
	return out
}

// RedemptionStore implements redemption.Store.
type RedemptionStore struct {
	s *Store
}

var _ redemption.Store = (*RedemptionStore)(nil)

func (r *RedemptionStore) Create(_ context.Context, in redemption.NewRedemption) (*redemption.WithItem, *ledger.Result, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}

	item, ok := r.s.items[in.ItemID]
	if !ok {
		return nil, nil, catalog.ErrItemNotFound
	}
	key := idempotencyKey{account: in.AccountID, key: in.IdempotencyKey}
	if in.IdempotencyKey != "" {
		if _, taken := r.s.keys[key]; taken {
			return nil, nil, redemption.ErrDuplicateKey
		}
	}

	total, err := redemption.CheckItem(item, in.Qty)
	if err != nil {
		return nil, nil, err
	}

	// the debit is the only step that can fail; nothing is written before it
	result, err := r.s.applyLocked(ledger.Entry{
		AccountID: in.AccountID,
		Delta:     -total,
		Reason:    ledger.ReasonPurchase,
		RefTable:  redemption.RefTable,
		RefID:     in.ID.String(),
		ActorID:   in.ActorID,
	})
	if err != nil {
		ledger.RecordRejection(err)
		return nil, nil, err
	}

	rd := &redemption.Redemption{
		ID:          in.ID,
		AccountID:   in.AccountID,
		ItemID:      in.ItemID,
		Qty:         in.Qty,
		TotalCost:   total,
		Status:      redemption.StatusRequested,
		ActorID:     in.ActorID,
		RequestedAt: result.Transaction.CreatedAt,
	}
	if in.IdempotencyKey != "" {
		k := in.IdempotencyKey
		rd.IdempotencyKey = &k
		r.s.keys[key] = rd.ID
	}
	r.s.redemptions[rd.ID] = rd

	if item.Tracked() {
		*item.InventoryQty -= in.Qty
	}

	return r.s.withItemLocked(rd), result, nil
}

func (r *RedemptionStore) Transition(_ context.Context, in redemption.TransitionInput) (*redemption.WithItem, *ledger.Result, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rd, ok := r.s.redemptions[in.ID]
	if !ok {
		return nil, nil, redemption.ErrRedemptionNotFound
	}
	if !rd.Status.CanTransition(in.To) {
		return nil, nil, redemption.ErrInvalidTransition
	}

	var result *ledger.Result
	if in.To == redemption.StatusCanceled {
		var err error
		result, err = r.s.applyLocked(ledger.Entry{
			AccountID: rd.AccountID,
			Delta:     rd.TotalCost,
			Reason:    ledger.ReasonRefund,
			RefTable:  redemption.RefTable,
			RefID:     rd.RefID(),
			ActorID:   in.ActorID,
			Memo:      in.Notes,
		})
		if err != nil {
			ledger.RecordRejection(err)
			return nil, nil, err
		}
		if item, ok := r.s.items[rd.ItemID]; ok && item.Tracked() {
			*item.InventoryQty += rd.Qty
		}
	}

	rd.Stamp(in.To, r.s.tick())
	if in.Notes != "" {
		notes := in.Notes
		rd.Notes = &notes
	}
	return r.s.withItemLocked(rd), result, nil
}

func (r *RedemptionStore) Get(_ context.Context, id uuid.UUID) (*redemption.WithItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rd, ok := r.s.redemptions[id]
	if !ok {
		return nil, redemption.ErrRedemptionNotFound
	}
	return r.s.withItemLocked(rd), nil
}

func (r *RedemptionStore) FindByIdempotencyKey(_ context.Context, accountID uuid.UUID, key string) (*redemption.WithItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.keys[idempotencyKey{account: accountID, key: key}]
	if !ok {
		return nil, redemption.ErrRedemptionNotFound
	}
	return r.s.withItemLocked(r.s.redemptions[id]), nil
}

func (r *RedemptionStore) ListByAccount(_ context.Context, accountID uuid.UUID, limit int) ([]redemption.WithItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []redemption.WithItem{}
	for _, rd := range r.s.redemptions {
		if rd.AccountID == accountID {
			out = append(out, *r.s.withItemLocked(rd))
		}
	}
	slices.SortFunc(out, func(a, b redemption.WithItem) int {
		return cmp.Or(
			b.RequestedAt.Compare(a.RequestedAt),
			strings.Compare(b.ID.String(), a.ID.String()),
		)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) withItemLocked(rd *redemption.Redemption) *redemption.WithItem {
	out := &redemption.WithItem{Redemption: *rd}
	if item, ok := s.items[rd.ItemID]; ok {
		out.ItemName = item.Name
		out.ItemCategory = item.Category
	}
	return out
}
