package records

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/medvault/internal/platform/db"
)

type recordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const recordCols = `id, owner_id, uploaded_by, title, description, record_type, file_cid, file_hash,
	file_name, file_type, is_emergency, uploaded_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.UploadedBy, &rec.Title, &rec.Description, &rec.RecordType,
		&rec.FileCID, &rec.FileHash, &rec.FileName, &rec.FileType, &rec.IsEmergency, &rec.UploadedAt)
	if err != nil {
		return nil, db.Classify(err, "record")
	}
	return &rec, nil
}

func (r *recordRepoPG) Create(ctx context.Context, rec *Record) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medical_records (`+recordCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.OwnerID, rec.UploadedBy, rec.Title, rec.Description, rec.RecordType,
		rec.FileCID, rec.FileHash, rec.FileName, rec.FileType, rec.IsEmergency, rec.UploadedAt)
	return db.Classify(err, "record")
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM medical_records WHERE id = $1`, id))
}

func (r *recordRepoPG) list(ctx context.Context, q string, args ...interface{}) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, db.Classify(err, "record")
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err, "record")
	}
	return out, nil
}

func (r *recordRepoPG) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Record, error) {
	return r.list(ctx, `SELECT `+recordCols+` FROM medical_records
		WHERE owner_id = $1 ORDER BY uploaded_at DESC`, ownerID)
}

func (r *recordRepoPG) ListEmergency(ctx context.Context, ownerID uuid.UUID) ([]*Record, error) {
	return r.list(ctx, `SELECT `+recordCols+` FROM medical_records
		WHERE owner_id = $1 AND is_emergency ORDER BY uploaded_at DESC`, ownerID)
}

func (r *recordRepoPG) OwnerOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var owner uuid.UUID
	if err := r.conn(ctx).QueryRow(ctx, `SELECT owner_id FROM medical_records WHERE id = $1`, id).Scan(&owner); err != nil {
		return uuid.Nil, db.Classify(err, "record")
	}
	return owner, nil
}

func (r *recordRepoPG) CountByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_records WHERE owner_id = $1`, ownerID).Scan(&n); err != nil {
		return 0, db.Classify(err, "record")
	}
	return n, nil
}
