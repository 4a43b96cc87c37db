package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/db"
)

type accountRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &accountRepoPG{pool: pool}
}

func (r *accountRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const accountCols = `id, wallet_address, uid, username, email, role, status, profile_picture, hospital_name, created_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.WalletAddress, &a.UID, &a.Username, &a.Email,
		&a.Role, &a.Status, &a.ProfilePicture, &a.HospitalName, &a.CreatedAt)
	if err != nil {
		return nil, db.Classify(err, "account")
	}
	return &a, nil
}

func (r *accountRepoPG) Create(ctx context.Context, a *Account) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO accounts (`+accountCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.WalletAddress, a.UID, a.Username, a.Email,
		a.Role, a.Status, a.ProfilePicture, a.HospitalName, a.CreatedAt)
	return db.Classify(err, "account")
}

func (r *accountRepoPG) getBy(ctx context.Context, col string, v interface{}) (*Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE `+col+` = $1`, v))
}

func (r *accountRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.getBy(ctx, "id", id)
}

func (r *accountRepoPG) GetByWallet(ctx context.Context, wallet string) (*Account, error) {
	return r.getBy(ctx, "wallet_address", wallet)
}

func (r *accountRepoPG) GetByUID(ctx context.Context, uid string) (*Account, error) {
	return r.getBy(ctx, "uid", uid)
}

func (r *accountRepoPG) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return r.getBy(ctx, "username", username)
}

func (r *accountRepoPG) exists(ctx context.Context, col, v string) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE `+col+` = $1)`, v).Scan(&ok)
	if err != nil {
		return false, db.Classify(err, "account")
	}
	return ok, nil
}

func (r *accountRepoPG) UIDExists(ctx context.Context, uid string) (bool, error) {
	return r.exists(ctx, "uid", uid)
}

func (r *accountRepoPG) UsernameExists(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "username", username)
}

func (r *accountRepoPG) UpdateInfo(ctx context.Context, id uuid.UUID, in UpdateInfoInput) (*Account, error) {
	a, err := scanAccount(r.conn(ctx).QueryRow(ctx, `
		UPDATE accounts
		SET username = COALESCE($2, username), hospital_name = COALESCE($3, hospital_name)
		WHERE id = $1
		RETURNING `+accountCols, id, in.Username, in.HospitalName))
	if db.IsUniqueViolation(err, "accounts_username_key") {
		return nil, apperr.Conflict("username already taken")
	}
	return a, err
}

func (r *accountRepoPG) SetProfilePicture(ctx context.Context, id uuid.UUID, picture string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE accounts SET profile_picture = $2 WHERE id = $1`, id, picture)
	if err != nil {
		return db.Classify(err, "account")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("account not found")
	}
	return nil
}

func (r *accountRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE accounts SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return db.Classify(err, "account")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("account not found")
	}
	return nil
}

func (r *accountRepoPG) SetRoleAndStatus(ctx context.Context, id uuid.UUID, role domain.Role, status domain.AccountStatus) (*Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx, `
		UPDATE accounts SET role = $2, status = $3 WHERE id = $1
		RETURNING `+accountCols, id, role, status))
}

func (r *accountRepoPG) List(ctx context.Context, limit, offset int) ([]*Account, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "accounts")
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+accountCols+` FROM accounts
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.Classify(err, "accounts")
	}
	defer rows.Close()

	var items []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, db.Classify(rows.Err(), "accounts")
}
