package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/domain"
)

// Entry is one immutable line of the ledger.
type Entry struct {
	ID         uuid.UUID              `json:"id"`
	ActorID    *uuid.UUID             `json:"actorId"`
	Action     domain.AuditAction     `json:"action"`
	TargetType domain.TargetType      `json:"targetType,omitempty"`
	TargetID   string                 `json:"targetId,omitempty"`
	Metadata   map[string]interface{} `json:"metadata"`
	IPAddress  string                 `json:"ipAddress,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// New builds an entry for actor acting on a target.
func New(actor uuid.UUID, action domain.AuditAction, target domain.TargetType, targetID string, meta map[string]interface{}) *Entry {
	a := actor
	return &Entry{
		ActorID:    &a,
		Action:     action,
		TargetType: target,
		TargetID:   targetID,
		Metadata:   meta,
	}
}

// NewSystem builds an entry with no acting account, for signals raised on
// behalf of the platform.
func NewSystem(action domain.AuditAction, target domain.TargetType, targetID string, meta map[string]interface{}) *Entry {
	return &Entry{Action: action, TargetType: target, TargetID: targetID, Metadata: meta}
}

// streamEvent is the wire shape published after commit.
type streamEvent struct {
	ID         string                 `json:"id"`
	ActorID    string                 `json:"actorId,omitempty"`
	Action     string                 `json:"action"`
	TargetType string                 `json:"targetType,omitempty"`
	TargetID   string                 `json:"targetId,omitempty"`
	Metadata   map[string]interface{} `json:"metadata"`
	CreatedAt  int64                  `json:"createdAt"`
}

func (e *Entry) toEvent() streamEvent {
	ev := streamEvent{
		ID:         e.ID.String(),
		Action:     string(e.Action),
		TargetType: string(e.TargetType),
		TargetID:   e.TargetID,
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt.UnixMilli(),
	}
	if e.ActorID != nil {
		ev.ActorID = e.ActorID.String()
	}
	return ev
}
