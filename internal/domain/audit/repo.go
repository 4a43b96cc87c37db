package audit

import (
	"context"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/domain"
)

// Repository is append-only: there is no update or delete.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	ListByActor(ctx context.Context, actorID uuid.UUID, limit int) ([]*Entry, error)
	ListByActorAction(ctx context.Context, actorID uuid.UUID, action domain.AuditAction, limit int) ([]*Entry, error)
	ListRecent(ctx context.Context, limit int) ([]*Entry, error)
}
