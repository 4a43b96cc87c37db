package records

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Record, error)
	ListEmergency(ctx context.Context, ownerID uuid.UUID) ([]*Record, error)
	OwnerOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	CountByOwner(ctx context.Context, ownerID uuid.UUID) (int, error)
}
