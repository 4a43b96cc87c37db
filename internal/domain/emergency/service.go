package emergency

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/domain/audit"
	"github.com/medvault/medvault/internal/domain/identity"
	"github.com/medvault/medvault/internal/domain/profile"
	"github.com/medvault/medvault/internal/domain/records"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/internal/platform/db"
	"github.com/medvault/medvault/internal/platform/telemetry"
)

const maxSignatureLen = 1024

type Accounts interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Account, error)
	GetByUID(ctx context.Context, uid string) (*identity.Account, error)
}

type Profiles interface {
	Get(ctx context.Context, accountID uuid.UUID) (*profile.HealthProfile, error)
}

// Institutions resolves the institution named on an account's latest
// verification case. A nil name means there is none.
type Institutions interface {
	InstitutionName(ctx context.Context, accountID uuid.UUID) (*string, error)
}

type EmergencyRecords interface {
	ListEmergency(ctx context.Context, ownerID uuid.UUID) ([]*records.Record, error)
}

// Ledger is the audit ledger as seen by the credential manager: it appends
// generation and scan entries and reads a verifier's scan history back.
type Ledger interface {
	audit.Recorder
	QueryByActorAction(ctx context.Context, actorID uuid.UUID, action domain.AuditAction, limit int) ([]*audit.Entry, error)
}

// Deps groups the collaborators owned by other components.
type Deps struct {
	Accounts     Accounts
	Profiles     Profiles
	Institutions Institutions
	Records      EmergencyRecords
	Ledger       Ledger
}

type Service struct {
	repo    Repository
	tx      db.Transactor
	signer  *Signer
	deps    Deps
	metrics *telemetry.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, tx db.Transactor, signer *Signer, deps Deps, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		tx:      tx,
		signer:  signer,
		deps:    deps,
		metrics: metrics,
		logger:  logger.With().Str("component", "emergency").Logger(),
		now:     time.Now,
	}
}

// Generate builds a fresh payload for the caller, signs it and replaces the
// stored credential. walletSignature is the client's own signature over the
// payload; it is kept for the record and is optional.
func (s *Service) Generate(ctx context.Context, actor *auth.Principal, walletSignature string) (*Credential, error) {
	walletSignature = strings.TrimSpace(walletSignature)
	if len(walletSignature) > maxSignatureLen {
		return nil, apperr.Validation("signature must be at most %d characters", maxSignatureLen)
	}
	acct, err := s.deps.Accounts.GetByID(ctx, actor.AccountID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	payload, err := s.buildPayload(ctx, acct, now)
	if err != nil {
		return nil, err
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "encode emergency payload", err)
	}
	token, exp, err := s.signer.Sign(acct.ID, acct.UID, string(text), now)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "sign emergency credential", err)
	}

	c := &Credential{
		ID:          uuid.New(),
		AccountID:   acct.ID,
		Payload:     string(text),
		SignedToken: token,
		GeneratedAt: now,
		ExpiresAt:   exp,
	}
	if walletSignature != "" {
		c.WalletSignature = &walletSignature
	}

	var saved *Credential
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		saved, err = s.repo.Upsert(ctx, c)
		if err != nil {
			return err
		}
		return s.deps.Ledger.Append(ctx, audit.New(actor.AccountID, domain.ActionQRGenerated, domain.TargetQR, saved.ID.String(), nil))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("account_id", acct.ID.String()).Bool("expires", exp != nil).Msg("emergency credential generated")
	return saved, nil
}

func (s *Service) buildPayload(ctx context.Context, acct *identity.Account, now time.Time) (*Payload, error) {
	p := &Payload{
		Username:       acct.Username,
		UID:            acct.UID,
		WalletAddress:  acct.WalletAddress,
		ProfilePicture: acct.ProfilePicture,
		Role:           acct.Role,
		HospitalName:   acct.HospitalName,
		Timestamp:      now.UnixMilli(),
	}
	if p.HospitalName == nil || *p.HospitalName == "" {
		name, err := s.deps.Institutions.InstitutionName(ctx, acct.ID)
		if err != nil {
			return nil, err
		}
		p.HospitalName = name
	}

	hp, err := s.deps.Profiles.Get(ctx, acct.ID)
	switch {
	case apperr.Is(err, apperr.KindNotFound):
	case err != nil:
		return nil, err
	default:
		p.EmergencyDetails = &EmergencyDetails{
			BloodType:          hp.BloodType,
			Allergies:          hp.Allergies,
			ChronicConditions:  hp.ChronicConditions,
			CurrentMedications: hp.CurrentMedications,
			EmergencyContact:   hp.EmergencyContact,
			EmergencyPhone:     hp.EmergencyPhone,
		}
	}
	return p, nil
}

// Get returns the account's current credential.
func (s *Service) Get(ctx context.Context, accountID uuid.UUID) (*Credential, error) {
	return s.repo.GetByAccount(ctx, accountID)
}

// Verify checks a scanned credential and logs the scan against the
// verifier. The token must be the one currently stored for the patient, so
// regenerating a credential invalidates every earlier QR code.
func (s *Service) Verify(ctx context.Context, verifier *auth.Principal, payloadText, token string) (*Verification, error) {
	payloadText = strings.TrimSpace(payloadText)
	if payloadText == "" {
		return nil, apperr.Validation("QR data required")
	}
	var payload Payload
	if err := json.Unmarshal([]byte(payloadText), &payload); err != nil {
		s.metrics.ObserveScan("malformed")
		return nil, apperr.Validation("invalid QR data format")
	}
	if strings.TrimSpace(payload.UID) == "" {
		s.metrics.ObserveScan("malformed")
		return nil, apperr.Validation("QR data carries no uid")
	}

	patient, err := s.deps.Accounts.GetByUID(ctx, payload.UID)
	if apperr.Is(err, apperr.KindNotFound) {
		s.metrics.ObserveScan("unknown")
		return nil, apperr.NotFound("patient not found")
	}
	if err != nil {
		return nil, err
	}
	cred, err := s.repo.GetByAccount(ctx, patient.ID)
	if apperr.Is(err, apperr.KindNotFound) {
		s.metrics.ObserveScan("unknown")
		return nil, apperr.NotFound("patient has no emergency credential")
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	token = strings.TrimSpace(token)
	if err := s.signer.Verify(token, payloadText, patient.ID, now); err != nil {
		s.reject(verifier, patient, err)
		return nil, err
	}
	if token != cred.SignedToken {
		err := apperr.Authorization("emergency credential has been superseded")
		s.reject(verifier, patient, err)
		return nil, err
	}

	var count int
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		count, err = s.repo.IncrementScan(ctx, patient.ID)
		if err != nil {
			return err
		}
		return s.deps.Ledger.Append(ctx, audit.New(verifier.AccountID, domain.ActionQRScanned, domain.TargetQR, patient.ID.String(), map[string]interface{}{
			"patientUid": patient.UID,
			"timestamp":  now.UnixMilli(),
		}))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveScan("verified")
	s.logger.Info().Str("verifier_id", verifier.AccountID.String()).Str("patient_id", patient.ID.String()).
		Int("scan_count", count).Msg("emergency credential scanned")

	out := &Verification{
		Success:   true,
		Data:      json.RawMessage(payloadText),
		Patient:   PatientRef{ID: patient.ID, UID: patient.UID, Username: patient.Username},
		ScanCount: count,
	}
	if mayReadEmergencyRecords(verifier) {
		recs, err := s.deps.Records.ListEmergency(ctx, patient.ID)
		if err != nil {
			return nil, err
		}
		out.EmergencyRecords = recs
	}
	return out, nil
}

func (s *Service) reject(verifier *auth.Principal, patient *identity.Account, err error) {
	s.metrics.ObserveScan("rejected")
	s.logger.Warn().Err(err).Str("verifier_id", verifier.AccountID.String()).
		Str("patient_id", patient.ID.String()).Msg("emergency credential rejected")
}

func mayReadEmergencyRecords(p *auth.Principal) bool {
	switch p.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleEmergencyResponder:
		return p.Status == domain.AccountVerified
	}
	return false
}

// ListScans returns the verifier's scan history, newest first.
func (s *Service) ListScans(ctx context.Context, verifier *auth.Principal, limit int) ([]*audit.Entry, error) {
	return s.deps.Ledger.QueryByActorAction(ctx, verifier.AccountID, domain.ActionQRScanned, limit)
}
