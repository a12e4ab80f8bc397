package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reach/reach-api/internal/domain/ledger"
)

// Repository is the read side of the shop catalog plus the seeding path
// used by operators.
type Repository interface {
	ListActive(ctx context.Context) ([]ShopItem, error)
	Get(ctx context.Context, id uuid.UUID) (*ShopItem, error)
	Create(ctx context.Context, item *ShopItem) error
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const ItemColumns = `id, name, category, price, is_active, inventory_qty, created_at`

func (r *PostgresRepository) ListActive(ctx context.Context) ([]ShopItem, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	items := []ShopItem{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+ItemColumns+`
		FROM shop_items
		WHERE is_active = TRUE
		ORDER BY category, price, name
	`)
	if err != nil {
		return nil, ledger.MapDBError(err, "list shop items")
	}
	return items, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*ShopItem, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var item ShopItem
	err := r.db.GetContext(ctx, &item, `SELECT `+ItemColumns+` FROM shop_items WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, ledger.MapDBError(err, "get shop item")
	}
	return &item, nil
}

func (r *PostgresRepository) Create(ctx context.Context, item *ShopItem) error {
	if err := PrepareNew(item); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err := r.db.GetContext(ctx, &item.CreatedAt, `
		INSERT INTO shop_items (id, name, category, price, is_active, inventory_qty)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, item.ID, item.Name, item.Category, item.Price, item.IsActive, item.InventoryQty)
	return ledger.MapDBError(err, "create shop item")
}

// PrepareNew validates a new item and fills defaults.
func PrepareNew(item *ShopItem) error {
	if item.Name == "" || item.Price <= 0 {
		return ErrInvalidItem
	}
	if item.InventoryQty != nil && *item.InventoryQty < 0 {
		return ErrInvalidItem
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Category == "" {
		item.Category = "General"
	}
	return nil
}
