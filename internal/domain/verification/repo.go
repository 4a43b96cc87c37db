package verification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/domain"
)

type Repository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	LatestForAccount(ctx context.Context, accountID uuid.UUID) (*Case, error)
	// Review closes a pending case. A case that is no longer pending yields
	// a Conflict error.
	Review(ctx context.Context, id uuid.UUID, to domain.CaseStatus, reviewer uuid.UUID, at time.Time, reason *string) (*Case, error)
	ListPending(ctx context.Context) ([]*Case, error)
	ListPendingRoleApplications(ctx context.Context) ([]*Case, error)
}
