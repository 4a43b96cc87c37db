package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/db"
	"github.com/medvault/medvault/internal/platform/stream"
	"github.com/medvault/medvault/internal/platform/telemetry"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Recorder is what other components need from the ledger.
type Recorder interface {
	Append(ctx context.Context, e *Entry) error
}

type Service struct {
	repo    Repository
	pub     stream.Publisher
	metrics *telemetry.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, pub stream.Publisher, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = stream.Nop{}
	}
	return &Service{
		repo:    repo,
		pub:     pub,
		metrics: metrics,
		logger:  logger.With().Str("component", "audit").Logger(),
		now:     time.Now,
	}
}

// Append writes e inside the caller's transaction. Publishing to the stream
// and metrics happen only after that transaction commits.
func (s *Service) Append(ctx context.Context, e *Entry) error {
	if !e.Action.IsValid() {
		return apperr.Validation("unknown audit action %q", e.Action)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	if e.IPAddress == "" {
		e.IPAddress = IPFromContext(ctx)
	}

	if err := s.repo.Insert(ctx, e); err != nil {
		return err
	}

	db.AfterCommit(ctx, func(ctx context.Context) {
		s.metrics.ObserveAuditEntry(string(e.Action))
		key := e.TargetID
		if e.ActorID != nil {
			key = e.ActorID.String()
		}
		err := s.pub.Publish(context.WithoutCancel(ctx), stream.Event{Key: key, Type: string(e.Action), Payload: e.toEvent()})
		if err != nil {
			s.metrics.ObservePublishFailure()
			s.logger.Error().Err(err).Str("entry_id", e.ID.String()).Str("action", string(e.Action)).Msg("audit publish failed")
		}
	})
	return nil
}

func clamp(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func (s *Service) QueryByActor(ctx context.Context, actorID uuid.UUID, limit int) ([]*Entry, error) {
	return s.repo.ListByActor(ctx, actorID, clamp(limit))
}

func (s *Service) QueryByActorAction(ctx context.Context, actorID uuid.UUID, action domain.AuditAction, limit int) ([]*Entry, error) {
	if !action.IsValid() {
		return nil, apperr.Validation("unknown audit action %q", action)
	}
	return s.repo.ListByActorAction(ctx, actorID, action, clamp(limit))
}

// QueryRecent returns the newest entries across all actors, at most 1000.
func (s *Service) QueryRecent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = MaxLimit
	}
	return s.repo.ListRecent(ctx, clamp(limit))
}

type ipKey struct{}

// WithIP attaches the caller's address so entries appended further down the
// call chain record it.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

func IPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}
