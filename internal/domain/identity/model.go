package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/platform/auth"
)

// Account is a platform identity keyed by its wallet address.
type Account struct {
	ID             uuid.UUID            `json:"id"`
	WalletAddress  string               `json:"walletAddress"`
	UID            string               `json:"uid"`
	Username       string               `json:"username"`
	Email          *string              `json:"email"`
	Role           domain.Role          `json:"role"`
	Status         domain.AccountStatus `json:"status"`
	ProfilePicture *string              `json:"profilePicture"`
	HospitalName   *string              `json:"hospitalName"`
	CreatedAt      time.Time            `json:"createdAt"`
}

func (a *Account) Principal() *auth.Principal {
	return &auth.Principal{
		AccountID:    a.ID,
		UID:          a.UID,
		Username:     a.Username,
		Wallet:       a.WalletAddress,
		Role:         a.Role,
		Status:       a.Status,
		HospitalName: a.HospitalName,
	}
}

// UpdateInfoInput carries the user-editable account fields. Nil fields are
// left unchanged.
type UpdateInfoInput struct {
	Username     *string `json:"username"`
	HospitalName *string `json:"hospitalName"`
}
