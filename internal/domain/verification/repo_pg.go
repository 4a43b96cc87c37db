package verification

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

type caseRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &caseRepoPG{pool: pool}
}

func (r *caseRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const caseCols = `id, account_id, full_name, date_of_birth, national_id, phone_number, address,
	document_type, document_number, document_cid, professional_license, institution_name,
	requested_role, status, submitted_at, reviewed_at, reviewed_by, rejection_reason`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.AccountID, &c.FullName, &c.DateOfBirth, &c.NationalID, &c.PhoneNumber, &c.Address,
		&c.DocumentType, &c.DocumentNumber, &c.DocumentCID, &c.ProfessionalLicense, &c.InstitutionName,
		&c.RequestedRole, &c.Status, &c.SubmittedAt, &c.ReviewedAt, &c.ReviewedBy, &c.RejectionReason)
	if err != nil {
		return nil, db.Classify(err, "verification case")
	}
	return &c, nil
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO verification_cases (`+caseCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		c.ID, c.AccountID, c.FullName, c.DateOfBirth, c.NationalID, c.PhoneNumber, c.Address,
		c.DocumentType, c.DocumentNumber, c.DocumentCID, c.ProfessionalLicense, c.InstitutionName,
		c.RequestedRole, c.Status, c.SubmittedAt, c.ReviewedAt, c.ReviewedBy, c.RejectionReason)
	return db.Classify(err, "verification case")
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM verification_cases WHERE id = $1`, id))
}

func (r *caseRepoPG) LatestForAccount(ctx context.Context, accountID uuid.UUID) (*Case, error) {
	return scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM verification_cases
		WHERE account_id = $1 ORDER BY submitted_at DESC LIMIT 1`, accountID))
}

func (r *caseRepoPG) Review(ctx context.Context, id uuid.UUID, to domain.CaseStatus, reviewer uuid.UUID, at time.Time, reason *string) (*Case, error) {
	c, err := scanCase(r.conn(ctx).QueryRow(ctx, `
		UPDATE verification_cases
		SET status = $2, reviewed_by = $3, reviewed_at = $4, rejection_reason = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+caseCols, id, to, reviewer, at, reason))
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Conflict("verification case already reviewed")
	}
	return c, err
}

func (r *caseRepoPG) list(ctx context.Context, q string) ([]*Case, error) {
	rows, err := r.conn(ctx).Query(ctx, q)
	if err != nil {
		return nil, db.Classify(err, "verification case")
	}
	defer rows.Close()

	var out []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err, "verification case")
	}
	return out, nil
}

func (r *caseRepoPG) ListPending(ctx context.Context) ([]*Case, error) {
	return r.list(ctx, `SELECT `+caseCols+` FROM verification_cases
		WHERE status = 'pending' ORDER BY submitted_at`)
}

func (r *caseRepoPG) ListPendingRoleApplications(ctx context.Context) ([]*Case, error) {
	return r.list(ctx, `SELECT `+caseCols+` FROM verification_cases
		WHERE status = 'pending' AND requested_role IS NOT NULL ORDER BY submitted_at`)
}
