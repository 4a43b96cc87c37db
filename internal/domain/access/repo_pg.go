package access

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/db"
)

type grantRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &grantRepoPG{pool: pool}
}

func (r *grantRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const grantCols = `id, patient_id, requester_id, record_id, access_type, status, reason, is_emergency,
	proof_image, proof_details, hospital_notified, requested_at, responded_at, expires_at`

func scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	err := row.Scan(&g.ID, &g.PatientID, &g.RequesterID, &g.RecordID, &g.AccessType, &g.Status,
		&g.Reason, &g.IsEmergency, &g.ProofImage, &g.ProofDetails, &g.HospitalNotified,
		&g.RequestedAt, &g.RespondedAt, &g.ExpiresAt)
	if err != nil {
		return nil, db.Classify(err, "access request")
	}
	return &g, nil
}

func (r *grantRepoPG) Create(ctx context.Context, g *Grant) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO access_grants (`+grantCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		g.ID, g.PatientID, g.RequesterID, g.RecordID, g.AccessType, g.Status,
		g.Reason, g.IsEmergency, g.ProofImage, g.ProofDetails, g.HospitalNotified,
		g.RequestedAt, g.RespondedAt, g.ExpiresAt)
	return db.Classify(err, "access request")
}

func (r *grantRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Grant, error) {
	return scanGrant(r.conn(ctx).QueryRow(ctx, `SELECT `+grantCols+` FROM access_grants WHERE id = $1`, id))
}

func (r *grantRepoPG) Transition(ctx context.Context, id uuid.UUID, from, to domain.GrantStatus, at time.Time, expiresAt *time.Time) (*Grant, error) {
	g, err := scanGrant(r.conn(ctx).QueryRow(ctx, `
		UPDATE access_grants
		SET status = $3, responded_at = $4, expires_at = COALESCE($5, expires_at)
		WHERE id = $1 AND status = $2
		RETURNING `+grantCols, id, from, to, at, expiresAt))
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Conflict("access request is no longer %s", from)
	}
	return g, err
}

func (r *grantRepoPG) list(ctx context.Context, q string, args ...interface{}) ([]*Grant, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, db.Classify(err, "access request")
	}
	defer rows.Close()

	var out []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err, "access request")
	}
	return out, nil
}

func (r *grantRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Grant, error) {
	return r.list(ctx, `SELECT `+grantCols+` FROM access_grants
		WHERE patient_id = $1 ORDER BY requested_at DESC`, patientID)
}

func (r *grantRepoPG) ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]*Grant, error) {
	return r.list(ctx, `SELECT `+grantCols+` FROM access_grants
		WHERE requester_id = $1 ORDER BY requested_at DESC`, requesterID)
}

func (r *grantRepoPG) ListGranted(ctx context.Context, patientID uuid.UUID) ([]*Grant, error) {
	return r.list(ctx, `SELECT `+grantCols+` FROM access_grants
		WHERE patient_id = $1 AND status = 'granted' ORDER BY responded_at DESC NULLS LAST`, patientID)
}

func (r *grantRepoPG) ListActive(ctx context.Context, patientID, requesterID uuid.UUID, now time.Time) ([]*Grant, error) {
	return r.list(ctx, `SELECT `+grantCols+` FROM access_grants
		WHERE patient_id = $1 AND requester_id = $2 AND status = 'granted'
			AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY responded_at DESC NULLS LAST`, patientID, requesterID, now)
}
