package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrItemNotFound = errors.New("shop item not found")

	// ErrItemInactive wraps ErrItemNotFound so callers that only care about
	// "cannot be redeemed" can test for the latter.
	ErrItemInactive = fmt.Errorf("%w: item is not active", ErrItemNotFound)

	ErrInvalidItem = errors.New("invalid shop item")
)
