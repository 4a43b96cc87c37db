package profile

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*HealthProfile, error)
	// Upsert inserts or replaces the account's single profile.
	Upsert(ctx context.Context, p *HealthProfile) error
}
