package catalog

import (
	"time"

	"github.com/google/uuid"
)

// ShopItem is a redeemable catalog entry. A nil InventoryQty means unlimited stock.
type ShopItem struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Category     string    `db:"category" json:"category"`
	Price        int64     `db:"price" json:"price"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	InventoryQty *int64    `db:"inventory_qty" json:"inventory_qty,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// IsAvailable reports whether at least one unit can currently be redeemed.
func (i ShopItem) IsAvailable() bool {
	return i.IsActive && (i.InventoryQty == nil || *i.InventoryQty > 0)
}

// Tracked reports whether the item has limited stock.
func (i ShopItem) Tracked() bool {
	return i.InventoryQty != nil
}

// ShopItemResponse is the shop listing shape.
type ShopItemResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Price        int64     `json:"price"`
	InventoryQty *int64    `json:"inventory_qty,omitempty"`
	IsAvailable  bool      `json:"is_available"`
}

func NewShopItemResponse(i ShopItem) ShopItemResponse {
	return ShopItemResponse{
		ID:           i.ID,
		Name:         i.Name,
		Category:     i.Category,
		Price:        i.Price,
		InventoryQty: i.InventoryQty,
		IsAvailable:  i.IsAvailable(),
	}
}
