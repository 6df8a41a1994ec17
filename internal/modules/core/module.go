package core

import (
	"context"

	"github.com/nunalabs/astro-swap-sub000/internal/database"
)

// Module applies decoded events to the store. Handle runs inside the same
// transaction that advances the originating contract's cursor, so it must
// leave the store unchanged when it returns an error.
type Module interface {
	// Name returns the unique name of the module
	Name() string

	// Handle applies one event emitted by its originating contract.
	Handle(ctx context.Context, tx database.Tx, event Event) error
}
