package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/domain"
)

type Repository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByWallet(ctx context.Context, wallet string) (*Account, error)
	GetByUID(ctx context.Context, uid string) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	UIDExists(ctx context.Context, uid string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	UpdateInfo(ctx context.Context, id uuid.UUID, in UpdateInfoInput) (*Account, error)
	SetProfilePicture(ctx context.Context, id uuid.UUID, picture string) error
	SetStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error
	SetRoleAndStatus(ctx context.Context, id uuid.UUID, role domain.Role, status domain.AccountStatus) (*Account, error)
	List(ctx context.Context, limit, offset int) ([]*Account, int, error)
}
