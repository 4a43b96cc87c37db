package access

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/domain"
)

type Repository interface {
	Create(ctx context.Context, g *Grant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Grant, error)
	// Transition moves the grant from one status to another and stamps
	// responded_at. It returns a Conflict error when the stored status is
	// no longer from.
	Transition(ctx context.Context, id uuid.UUID, from, to domain.GrantStatus, at time.Time, expiresAt *time.Time) (*Grant, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Grant, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]*Grant, error)
	ListGranted(ctx context.Context, patientID uuid.UUID) ([]*Grant, error)
	// ListActive returns granted, unexpired entries for the pair.
	ListActive(ctx context.Context, patientID, requesterID uuid.UUID, now time.Time) ([]*Grant, error)
}
