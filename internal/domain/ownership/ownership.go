// Package ownership answers whether a caller may act on a child's account.
package ownership

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reach/reach-api/internal/pkg/jwt"
)

// ErrAccessDenied is returned when the caller does not own the child.
var ErrAccessDenied = errors.New("access denied")

// Checker is the narrow ownership lookup the tokens API depends on.
type Checker interface {
	ChildBelongsTo(ctx context.Context, userID, childID uuid.UUID) (bool, error)
}

// Authorize returns nil when role may act for childID, ErrAccessDenied
// otherwise. Admins bypass the lookup.
func Authorize(ctx context.Context, checker Checker, userID uuid.UUID, role string, childID uuid.UUID) error {
	if role == jwt.RoleAdmin {
		return nil
	}
	if userID == uuid.Nil || childID == uuid.Nil {
		return ErrAccessDenied
	}
	ok, err := checker.ChildBelongsTo(ctx, userID, childID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessDenied
	}
	return nil
}

// Repository checks ownership against the children table.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ChildBelongsTo(ctx context.Context, userID, childID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM children WHERE id = $1 AND parent_user_id = $2)
	`, childID, userID)
	return exists, err
}

// Static is an in-process Checker backed by a parent -> children map.
type Static struct {
	mu       sync.RWMutex
	children map[uuid.UUID]uuid.UUID // child -> parent
}

func NewStatic() *Static {
	return &Static{children: make(map[uuid.UUID]uuid.UUID)}
}

// Link records parent as the owner of child.
func (s *Static) Link(parent, child uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[child] = parent
}

func (s *Static) ChildBelongsTo(_ context.Context, userID, childID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, ok := s.children[childID]
	return ok && parent == userID, nil
}
