package emergency

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/medvault/internal/platform/db"
)

type credentialRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &credentialRepoPG{pool: pool}
}

func (r *credentialRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const credentialCols = `id, account_id, payload, signed_token, wallet_signature, generated_at, expires_at, scan_count`

func scanCredential(row pgx.Row) (*Credential, error) {
	var c Credential
	err := row.Scan(&c.ID, &c.AccountID, &c.Payload, &c.SignedToken, &c.WalletSignature,
		&c.GeneratedAt, &c.ExpiresAt, &c.ScanCount)
	if err != nil {
		return nil, db.Classify(err, "emergency credential")
	}
	return &c, nil
}

func (r *credentialRepoPG) Upsert(ctx context.Context, c *Credential) (*Credential, error) {
	return scanCredential(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO emergency_credentials (id, account_id, payload, signed_token, wallet_signature, generated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			signed_token = EXCLUDED.signed_token,
			wallet_signature = EXCLUDED.wallet_signature,
			generated_at = EXCLUDED.generated_at,
			expires_at = EXCLUDED.expires_at
		RETURNING `+credentialCols,
		c.ID, c.AccountID, c.Payload, c.SignedToken, c.WalletSignature, c.GeneratedAt, c.ExpiresAt))
}

func (r *credentialRepoPG) GetByAccount(ctx context.Context, accountID uuid.UUID) (*Credential, error) {
	return scanCredential(r.conn(ctx).QueryRow(ctx,
		`SELECT `+credentialCols+` FROM emergency_credentials WHERE account_id = $1`, accountID))
}

func (r *credentialRepoPG) IncrementScan(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE emergency_credentials SET scan_count = scan_count + 1
		WHERE account_id = $1 RETURNING scan_count`, accountID).Scan(&n)
	if err != nil {
		return 0, db.Classify(err, "emergency credential")
	}
	return n, nil
}
