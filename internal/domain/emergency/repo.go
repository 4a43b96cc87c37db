package emergency

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Upsert replaces the account's credential. The scan count survives
	// regeneration.
	Upsert(ctx context.Context, c *Credential) (*Credential, error)
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*Credential, error)
	// IncrementScan bumps the scan count and returns the new value.
	IncrementScan(ctx context.Context, accountID uuid.UUID) (int, error)
}
