package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/platform/db"
)

type entryRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &entryRepoPG{pool: pool}
}

func (r *entryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const entryCols = `id, actor_id, action, target_type, target_id, metadata, ip_address, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e          Entry
		targetType *string
		targetID   *string
		ip         *string
		meta       []byte
	)
	if err := row.Scan(&e.ID, &e.ActorID, &e.Action, &targetType, &targetID, &meta, &ip, &e.CreatedAt); err != nil {
		return nil, err
	}
	if targetType != nil {
		e.TargetType = domain.TargetType(*targetType)
	}
	if targetID != nil {
		e.TargetID = *targetID
	}
	if ip != nil {
		e.IPAddress = *ip
	}
	e.Metadata = map[string]interface{}{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *entryRepoPG) Insert(ctx context.Context, e *Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_entries (`+entryCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ActorID, e.Action, nullable(string(e.TargetType)), nullable(e.TargetID), meta, nullable(e.IPAddress), e.CreatedAt)
	return db.Classify(err, "audit entry")
}

func (r *entryRepoPG) list(ctx context.Context, q string, args ...interface{}) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, db.Classify(err, "audit entries")
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, db.Classify(err, "audit entries")
		}
		items = append(items, e)
	}
	return items, db.Classify(rows.Err(), "audit entries")
}

func (r *entryRepoPG) ListByActor(ctx context.Context, actorID uuid.UUID, limit int) ([]*Entry, error) {
	return r.list(ctx, `SELECT `+entryCols+` FROM audit_entries
		WHERE actor_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`, actorID, limit)
}

func (r *entryRepoPG) ListByActorAction(ctx context.Context, actorID uuid.UUID, action domain.AuditAction, limit int) ([]*Entry, error) {
	return r.list(ctx, `SELECT `+entryCols+` FROM audit_entries
		WHERE actor_id = $1 AND action = $2 ORDER BY created_at DESC, seq DESC LIMIT $3`, actorID, action, limit)
}

func (r *entryRepoPG) ListRecent(ctx context.Context, limit int) ([]*Entry, error) {
	return r.list(ctx, `SELECT `+entryCols+` FROM audit_entries
		ORDER BY created_at DESC, seq DESC LIMIT $1`, limit)
}
