package verification

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/domain/audit"
	"github.com/medvault/medvault/internal/domain/identity"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/internal/platform/blobstore"
	"github.com/medvault/medvault/internal/platform/db"
)

// Accounts is the slice of the identity service the workflow mutates. Both
// mutators join the caller's transaction.
type Accounts interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Account, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error
	AssignRole(ctx context.Context, id uuid.UUID, role domain.Role) (*identity.Account, error)
}

type Service struct {
	repo     Repository
	tx       db.Transactor
	accounts Accounts
	blobs    blobstore.Store
	audit    audit.Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, tx db.Transactor, accounts Accounts, blobs blobstore.Store, rec audit.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		accounts: accounts,
		blobs:    blobs,
		audit:    rec,
		logger:   logger.With().Str("component", "verification").Logger(),
		now:      time.Now,
	}
}

// SubmitKYC opens a pending identity verification case for the caller.
func (s *Service) SubmitKYC(ctx context.Context, actor *auth.Principal, in KYCInput) (*Case, error) {
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return nil, apperr.Validation("fullName is required")
	}
	docType := strings.TrimSpace(in.DocumentType)
	if docType != "" && !documentTypes[docType] {
		return nil, apperr.Validation("unknown document type %q", in.DocumentType)
	}
	cid, err := s.storeDocument(ctx, in.DocumentData)
	if err != nil {
		return nil, err
	}

	c := &Case{
		ID:                  uuid.New(),
		AccountID:           actor.AccountID,
		FullName:            name,
		DateOfBirth:         optional(in.DateOfBirth),
		NationalID:          optional(in.NationalID),
		PhoneNumber:         optional(in.PhoneNumber),
		Address:             optional(in.Address),
		DocumentType:        optional(docType),
		DocumentNumber:      optional(in.DocumentNumber),
		DocumentCID:         &cid,
		ProfessionalLicense: optional(in.ProfessionalLicense),
		InstitutionName:     optional(in.InstitutionName),
		Status:              domain.CasePending,
		SubmittedAt:         s.now().UTC(),
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, c); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.New(actor.AccountID, domain.ActionKYCSubmitted, domain.TargetKYC, c.ID.String(), nil))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("case_id", c.ID.String()).Str("account_id", actor.AccountID.String()).Msg("kyc submitted")
	return c, nil
}

// storeDocument puts the scan in the blob store and returns its content
// address. Without a scan a random address of the same shape is issued.
func (s *Service) storeDocument(ctx context.Context, data string) (string, error) {
	if strings.TrimSpace(data) == "" {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return "", fmt.Errorf("generate document address: %w", err)
		}
		return "Qm" + hex.EncodeToString(b[:]), nil
	}
	if i := strings.Index(data, ","); strings.HasPrefix(data, "data:") && i > 0 {
		data = data[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", apperr.Validation("documentData must be base64")
	}
	blob, err := s.blobs.Put(ctx, raw, http.DetectContentType(raw))
	switch {
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return "", apperr.Validation("document exceeds %d bytes", blobstore.MaxFileSize)
	case errors.Is(err, blobstore.ErrEmptyContent):
		return "", apperr.Validation("documentData is empty")
	case err != nil:
		return "", apperr.Wrap(apperr.KindStorage, "store document failed", err)
	}
	return blob.CID, nil
}

// ApplyForRole files a pending application for a professional role.
func (s *Service) ApplyForRole(ctx context.Context, actor *auth.Principal, in RoleApplicationInput) (*Case, error) {
	role := domain.Role(strings.TrimSpace(in.Role))
	if !role.IsProfessional() {
		return nil, apperr.Validation("role must be one of doctor, hospital, emergency_responder, insurance_provider")
	}
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		name = string(role) + " Application"
	}
	c := &Case{
		ID:                  uuid.New(),
		AccountID:           actor.AccountID,
		FullName:            name,
		ProfessionalLicense: optional(in.ProfessionalLicense),
		InstitutionName:     optional(in.InstitutionName),
		RequestedRole:       &role,
		Status:              domain.CasePending,
		SubmittedAt:         s.now().UTC(),
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, c); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.New(actor.AccountID, domain.ActionRoleApplicationSubmitted, domain.TargetUser, actor.AccountID.String(),
			map[string]interface{}{"requestedRole": string(role)}))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("case_id", c.ID.String()).Str("role", string(role)).Msg("role application submitted")
	return c, nil
}

// Latest returns the account's most recent case.
func (s *Service) Latest(ctx context.Context, accountID uuid.UUID) (*Case, error) {
	return s.repo.LatestForAccount(ctx, accountID)
}

// InstitutionName is the institution on the account's latest case, if any.
func (s *Service) InstitutionName(ctx context.Context, accountID uuid.UUID) (*string, error) {
	c, err := s.repo.LatestForAccount(ctx, accountID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.InstitutionName, nil
}

// Approve closes a pending case and marks its account verified. Role
// elevation is a separate decision made through GrantRole.
func (s *Service) Approve(ctx context.Context, admin *auth.Principal, caseID uuid.UUID) (*Case, error) {
	if err := auth.CheckRole(admin, domain.RoleAdmin); err != nil {
		return nil, err
	}
	var out *Case
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.GetByID(ctx, caseID)
		if err != nil {
			return err
		}
		if out, err = s.repo.Review(ctx, caseID, domain.CaseApproved, admin.AccountID, s.now().UTC(), nil); err != nil {
			return err
		}
		if err := s.accounts.MarkVerified(ctx, c.AccountID); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.New(admin.AccountID, domain.ActionKYCApproved, domain.TargetKYC, caseID.String(),
			map[string]interface{}{"kycUserId": c.AccountID.String()}))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("case_id", caseID.String()).Str("reviewer", admin.AccountID.String()).Msg("kyc approved")
	return out, nil
}

// Reject closes a pending case. The account is left as it was.
func (s *Service) Reject(ctx context.Context, admin *auth.Principal, caseID uuid.UUID, reason string) (*Case, error) {
	if err := auth.CheckRole(admin, domain.RoleAdmin); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRejectionReason
	}
	var out *Case
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.GetByID(ctx, caseID)
		if err != nil {
			return err
		}
		if out, err = s.repo.Review(ctx, caseID, domain.CaseRejected, admin.AccountID, s.now().UTC(), &reason); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.New(admin.AccountID, domain.ActionKYCRejected, domain.TargetKYC, caseID.String(),
			map[string]interface{}{"kycUserId": c.AccountID.String(), "reason": reason}))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("case_id", caseID.String()).Str("reason", reason).Msg("kyc rejected")
	return out, nil
}

// GrantRole sets the account's role and marks it verified.
func (s *Service) GrantRole(ctx context.Context, admin *auth.Principal, accountID uuid.UUID, role string) (*identity.Account, error) {
	if err := auth.CheckRole(admin, domain.RoleAdmin); err != nil {
		return nil, err
	}
	r, err := domain.ParseRole(strings.TrimSpace(role))
	if err != nil {
		return nil, err
	}
	var acct *identity.Account
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
			return err
		}
		if acct, err = s.accounts.AssignRole(ctx, accountID, r); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.New(admin.AccountID, domain.ActionRoleGranted, domain.TargetUser, accountID.String(),
			map[string]interface{}{"newRole": string(r)}))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("account_id", accountID.String()).Str("role", string(r)).Msg("role granted")
	return acct, nil
}

// Queue lists pending cases, oldest first.
func (s *Service) Queue(ctx context.Context) ([]*Case, error) {
	return s.repo.ListPending(ctx)
}

// RoleApplications lists pending cases that request a role.
func (s *Service) RoleApplications(ctx context.Context) ([]*Case, error) {
	return s.repo.ListPendingRoleApplications(ctx)
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
