package identity

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/domain/audit"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/internal/platform/db"
	"github.com/medvault/medvault/internal/platform/telemetry"
)

const (
	maxResolveAttempts = 3
	MaxPictureBytes    = 10 << 20
	maxUsernameLen     = 50
)

// AdminSet is the immutable allowlist of administrator wallets.
type AdminSet struct {
	wallets map[string]struct{}
}

// NewAdminSet normalizes each wallet; malformed entries are dropped.
func NewAdminSet(wallets []string) AdminSet {
	m := make(map[string]struct{}, len(wallets))
	for _, w := range wallets {
		if addr, err := auth.NormalizeWallet(w, false); err == nil {
			m[addr] = struct{}{}
		}
	}
	return AdminSet{wallets: m}
}

func (s AdminSet) Contains(wallet string) bool {
	_, ok := s.wallets[wallet]
	return ok
}

type Config struct {
	AdminWallets   []string
	StrictChecksum bool
}

type Service struct {
	repo    Repository
	tx      db.Transactor
	audit   audit.Recorder
	uids    UIDSource
	admins  AdminSet
	strict  bool
	metrics *telemetry.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, tx db.Transactor, rec audit.Recorder, cfg Config, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		tx:      tx,
		audit:   rec,
		uids:    randomUIDs{now: time.Now},
		admins:  NewAdminSet(cfg.AdminWallets),
		strict:  cfg.StrictChecksum,
		metrics: metrics,
		logger:  logger.With().Str("component", "identity").Logger(),
		now:     time.Now,
	}
}

// Resolve returns the account for wallet, registering it on first contact.
// created reports whether this call made the account.
func (s *Service) Resolve(ctx context.Context, wallet string) (acct *Account, created bool, err error) {
	addr, err := auth.NormalizeWallet(wallet, s.strict)
	if err != nil {
		return nil, false, err
	}

	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		acct, err = s.repo.GetByWallet(ctx, addr)
		if err == nil {
			return acct, false, nil
		}
		if !apperr.Is(err, apperr.KindNotFound) {
			return nil, false, err
		}

		acct, err = s.register(ctx, addr)
		if err == nil {
			s.metrics.ObserveAccountCreated(string(acct.Role))
			s.logger.Info().Str("account_id", acct.ID.String()).Str("uid", acct.UID).
				Str("role", string(acct.Role)).Msg("account registered")
			return acct, true, nil
		}
		if !apperr.Is(err, apperr.KindConflict) {
			return nil, false, err
		}
		// Another request registered the same wallet (or took the UID)
		// between our read and insert; read again.
		s.logger.Debug().Int("attempt", attempt+1).Str("wallet", addr).Msg("registration raced, retrying")
	}
	return nil, false, apperr.Conflict("could not register wallet after %d attempts", maxResolveAttempts)
}

func (s *Service) register(ctx context.Context, addr string) (*Account, error) {
	var acct *Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		uid, err := s.allocateUID(ctx)
		if err != nil {
			return err
		}
		username, err := s.defaultUsername(ctx, addr, uid)
		if err != nil {
			return err
		}

		isAdmin := s.admins.Contains(addr)
		acct = &Account{
			ID:            uuid.New(),
			WalletAddress: addr,
			UID:           uid,
			Username:      username,
			Role:          domain.RolePatient,
			Status:        domain.AccountPending,
			CreatedAt:     s.now().UTC(),
		}
		if isAdmin {
			acct.Role = domain.RoleAdmin
			acct.Status = domain.AccountVerified
		}
		if err := s.repo.Create(ctx, acct); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.New(acct.ID, domain.ActionUserRegistered, domain.TargetUser, acct.ID.String(),
			map[string]interface{}{"walletAddress": addr, "isAdmin": isAdmin}))
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Service) allocateUID(ctx context.Context) (string, error) {
	for i := 0; i < uidMaxAttempts; i++ {
		c := s.uids.Candidate()
		taken, err := s.repo.UIDExists(ctx, c)
		if err != nil {
			return "", err
		}
		if !taken {
			return c, nil
		}
	}
	return s.uids.Fallback(), nil
}

// defaultUsername is user_ plus the first six hex digits of the wallet. When
// that is taken the UID's last four digits are appended, and when that is
// taken too the whole UID is, which is unique because the UID is.
func (s *Service) defaultUsername(ctx context.Context, addr, uid string) (string, error) {
	base := "user_" + addr[2:8]
	for _, name := range []string{base, base + "_" + uid[len(uid)-4:]} {
		taken, err := s.repo.UsernameExists(ctx, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
	}
	return base + "_" + uid, nil
}

// Authenticate looks up the caller without creating anything.
func (s *Service) Authenticate(ctx context.Context, wallet string) (*auth.Principal, error) {
	addr, err := auth.NormalizeWallet(wallet, s.strict)
	if err != nil {
		return nil, err
	}
	acct, err := s.repo.GetByWallet(ctx, addr)
	if err != nil {
		return nil, err
	}
	return acct.Principal(), nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByUID(ctx context.Context, uid string) (*Account, error) {
	return s.repo.GetByUID(ctx, strings.TrimSpace(uid))
}

// FindByUIDOrUsername tries the UID first, then the username.
func (s *Service) FindByUIDOrUsername(ctx context.Context, q string) (*Account, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, apperr.Validation("search query required")
	}
	acct, err := s.repo.GetByUID(ctx, q)
	if err == nil || !apperr.Is(err, apperr.KindNotFound) {
		return acct, err
	}
	acct, err = s.repo.GetByUsername(ctx, q)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.NotFound("patient not found")
	}
	return acct, err
}

func (s *Service) UpdateInfo(ctx context.Context, actor *auth.Principal, in UpdateInfoInput) (*Account, error) {
	if in.Username != nil {
		u := strings.TrimSpace(*in.Username)
		if u == "" {
			return nil, apperr.Validation("username cannot be empty")
		}
		if utf8.RuneCountInString(u) > maxUsernameLen {
			return nil, apperr.Validation("username must be at most %d characters", maxUsernameLen)
		}
		in.Username = &u
	}
	if in.HospitalName != nil {
		h := strings.TrimSpace(*in.HospitalName)
		in.HospitalName = &h
	}
	if in.Username == nil && in.HospitalName == nil {
		return nil, apperr.Validation("nothing to update")
	}

	var acct *Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		acct, err = s.repo.UpdateInfo(ctx, actor.AccountID, in)
		if err != nil {
			return err
		}
		meta := map[string]interface{}{}
		if in.Username != nil {
			meta["username"] = *in.Username
		}
		if in.HospitalName != nil {
			meta["hospitalName"] = *in.HospitalName
		}
		return s.audit.Append(ctx, audit.New(actor.AccountID, domain.ActionUserInfoUpdated, domain.TargetUser, actor.AccountID.String(), meta))
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// SetProfilePicture stores picture (a data URL or content address) on the
// caller's account.
func (s *Service) SetProfilePicture(ctx context.Context, actor *auth.Principal, picture string) error {
	if strings.TrimSpace(picture) == "" {
		return apperr.Validation("profile picture required")
	}
	if len(picture) > MaxPictureBytes {
		return apperr.Validation("profile picture exceeds %d bytes", MaxPictureBytes)
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SetProfilePicture(ctx, actor.AccountID, picture); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.New(actor.AccountID, domain.ActionProfilePictureUpdated, domain.TargetUser, actor.AccountID.String(), nil))
	})
}

// MarkVerified sets the account's status to verified. It joins the
// caller's transaction.
func (s *Service) MarkVerified(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetStatus(ctx, id, domain.AccountVerified)
}

// AssignRole sets role and marks the account verified. It joins the
// caller's transaction.
func (s *Service) AssignRole(ctx context.Context, id uuid.UUID, role domain.Role) (*Account, error) {
	if !role.IsValid() {
		return nil, apperr.Validation("unknown role %q", role)
	}
	return s.repo.SetRoleAndStatus(ctx, id, role, domain.AccountVerified)
}

func (s *Service) ListAccounts(ctx context.Context, limit, offset int) ([]*Account, int, error) {
	return s.repo.List(ctx, limit, offset)
}
