package access

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/domain/audit"
	"github.com/medvault/medvault/internal/domain/identity"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/internal/platform/breakglass"
	"github.com/medvault/medvault/internal/platform/db"
	"github.com/medvault/medvault/internal/platform/telemetry"
)

const (
	maxReasonLen       = 2000
	maxProofDetailsLen = 5000
)

// Accounts resolves the people on either side of a grant.
type Accounts interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Account, error)
	FindByUIDOrUsername(ctx context.Context, q string) (*identity.Account, error)
}

// RecordIndex answers the record questions the consent layer needs without
// depending on the record catalog itself.
type RecordIndex interface {
	OwnerOf(ctx context.Context, recordID uuid.UUID) (uuid.UUID, error)
	CountByOwner(ctx context.Context, ownerID uuid.UUID) (int, error)
}

type Service struct {
	repo     Repository
	tx       db.Transactor
	accounts Accounts
	records  RecordIndex
	limiter  breakglass.Limiter
	audit    audit.Recorder
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, tx db.Transactor, accounts Accounts, records RecordIndex,
	limiter breakglass.Limiter, rec audit.Recorder, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	if limiter == nil {
		limiter = breakglass.Unlimited{}
	}
	return &Service{
		repo:     repo,
		tx:       tx,
		accounts: accounts,
		records:  records,
		limiter:  limiter,
		audit:    rec,
		metrics:  metrics,
		logger:   logger.With().Str("component", "access").Logger(),
		now:      time.Now,
	}
}

// RequestAccess files a pending grant. Emergency requests are never
// auto-granted; the flag only routes a notification to the patient's
// hospital and carries the proof.
func (s *Service) RequestAccess(ctx context.Context, requester *auth.Principal, in RequestInput) (*Grant, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperr.Validation("patientId is required")
	}
	if in.PatientID == requester.AccountID {
		return nil, apperr.Validation("cannot request access to your own records")
	}
	reason := strings.TrimSpace(in.Reason)
	if len(reason) > maxReasonLen {
		return nil, apperr.Validation("reason must be at most %d characters", maxReasonLen)
	}
	if len(in.ProofDetails) > maxProofDetailsLen {
		return nil, apperr.Validation("proofDetails must be at most %d characters", maxProofDetailsLen)
	}

	scope := domain.AccessFull
	if in.IsEmergency {
		scope = domain.AccessEmergencyOnly
	}
	if in.AccessType != "" {
		var err error
		if scope, err = domain.ParseAccessType(in.AccessType); err != nil {
			return nil, err
		}
	}

	patient, err := s.accounts.GetByID(ctx, in.PatientID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("patient not found")
		}
		return nil, err
	}

	var recordID *uuid.UUID
	if scope == domain.AccessSpecificRecord {
		if in.RecordID == nil {
			return nil, apperr.Validation("recordId is required for specific_record access")
		}
		owner, err := s.records.OwnerOf(ctx, *in.RecordID)
		if err != nil {
			return nil, err
		}
		if owner != patient.ID {
			return nil, apperr.Validation("record does not belong to this patient")
		}
		recordID = in.RecordID
	}

	reserved := false
	if in.IsEmergency {
		ok, err := s.limiter.Allow(ctx, requester.AccountID.String())
		switch {
		case err != nil:
			// Fail open.
			s.logger.Error().Err(err).Str("requester_id", requester.AccountID.String()).Msg("break-glass limiter unavailable")
		case !ok:
			s.logger.Warn().Str("requester_id", requester.AccountID.String()).Msg("emergency request rate exceeded")
			return nil, apperr.RateLimited("too many emergency requests, try again later")
		default:
			reserved = true
		}
	}

	notify := in.IsEmergency && patient.HospitalName != nil && *patient.HospitalName != ""
	g := &Grant{
		ID:               uuid.New(),
		PatientID:        patient.ID,
		RequesterID:      requester.AccountID,
		RecordID:         recordID,
		AccessType:       scope,
		Status:           domain.GrantPending,
		Reason:           optional(reason),
		IsEmergency:      in.IsEmergency,
		ProofImage:       optional(in.ProofImage),
		ProofDetails:     optional(in.ProofDetails),
		HospitalNotified: notify,
		RequestedAt:      s.now().UTC(),
	}

	action := domain.ActionAccessRequested
	if in.IsEmergency {
		action = domain.ActionEmergencyAccessRequested
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, g); err != nil {
			return err
		}
		if err := s.audit.Append(ctx, audit.New(requester.AccountID, action, domain.TargetAccess, g.ID.String(),
			map[string]interface{}{
				"patientId":        patient.ID.String(),
				"reason":           reason,
				"isEmergency":      in.IsEmergency,
				"hospitalNotified": notify,
			})); err != nil {
			return err
		}
		if !notify {
			return nil
		}
		return s.audit.Append(ctx, audit.NewSystem(domain.ActionHospitalNotifiedEmergency, domain.TargetAccess, g.ID.String(),
			map[string]interface{}{
				"patientId":    patient.ID.String(),
				"requesterId":  requester.AccountID.String(),
				"hospitalName": *patient.HospitalName,
			}))
	})
	if err != nil {
		if reserved {
			// Only stored requests count against the hour.
			if relErr := s.limiter.Release(ctx, requester.AccountID.String()); relErr != nil {
				s.logger.Error().Err(relErr).Str("requester_id", requester.AccountID.String()).Msg("break-glass release failed")
			}
		}
		return nil, err
	}

	s.metrics.ObserveGrantTransition(string(domain.GrantPending), in.IsEmergency)
	s.logger.Info().Str("grant_id", g.ID.String()).Str("patient_id", patient.ID.String()).
		Str("requester_id", requester.AccountID.String()).Bool("emergency", in.IsEmergency).
		Bool("hospital_notified", notify).Msg("access requested")
	return g, nil
}

// Approve grants a pending request. A nil expiresAt grants until revoked.
func (s *Service) Approve(ctx context.Context, actor *auth.Principal, id uuid.UUID, expiresAt *time.Time) (*Grant, error) {
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return nil, apperr.Validation("expiresAt must be in the future")
	}
	return s.transition(ctx, actor, id, domain.GrantGranted, expiresAt)
}

func (s *Service) Reject(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*Grant, error) {
	return s.transition(ctx, actor, id, domain.GrantRejected, nil)
}

func (s *Service) Revoke(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*Grant, error) {
	return s.transition(ctx, actor, id, domain.GrantRevoked, nil)
}

var transitionActions = map[domain.GrantStatus]domain.AuditAction{
	domain.GrantGranted:  domain.ActionAccessGranted,
	domain.GrantRejected: domain.ActionAccessRejected,
	domain.GrantRevoked:  domain.ActionAccessRevoked,
}

func (s *Service) transition(ctx context.Context, actor *auth.Principal, id uuid.UUID, to domain.GrantStatus, expiresAt *time.Time) (*Grant, error) {
	var out *Grant
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		g, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if g.PatientID != actor.AccountID {
			return apperr.Authorization("only the patient can change this access request")
		}
		now := s.now().UTC()
		from := g.EffectiveStatus(now)
		if !from.CanTransition(to) {
			return apperr.Conflict("cannot move access request from %s to %s", from, to)
		}
		out, err = s.repo.Transition(ctx, id, from, to, now, expiresAt)
		if err != nil {
			return err
		}
		meta := map[string]interface{}{
			"patientId":   g.PatientID.String(),
			"requesterId": g.RequesterID.String(),
		}
		if expiresAt != nil {
			meta["expiresAt"] = expiresAt.UTC().Format(time.RFC3339)
		}
		return s.audit.Append(ctx, audit.New(actor.AccountID, transitionActions[to], domain.TargetAccess, id.String(), meta))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveGrantTransition(string(to), out.IsEmergency)
	s.logger.Info().Str("grant_id", id.String()).Str("status", string(to)).Msg("access request updated")
	return out, nil
}

// ActiveGrants returns the requester's granted, unexpired entries for the
// patient.
func (s *Service) ActiveGrants(ctx context.Context, patientID, requesterID uuid.UUID) ([]*Grant, error) {
	now := s.now().UTC()
	gs, err := s.repo.ListActive(ctx, patientID, requesterID, now)
	if err != nil {
		return nil, err
	}
	out := gs[:0]
	for _, g := range gs {
		if g.IsActive(now) {
			out = append(out, g)
		}
	}
	return out, nil
}

// CheckAccess is the gate every record-serving path consults before
// releasing a non-owned record.
func (s *Service) CheckAccess(ctx context.Context, patientID, requesterID uuid.UUID) (bool, error) {
	gs, err := s.ActiveGrants(ctx, patientID, requesterID)
	if err != nil {
		return false, err
	}
	allowed := len(gs) > 0
	s.metrics.ObserveAccessDecision(allowed)
	return allowed, nil
}

// HasFullAccess reports whether the requester holds an active full grant.
func (s *Service) HasFullAccess(ctx context.Context, patientID, requesterID uuid.UUID) (bool, error) {
	gs, err := s.ActiveGrants(ctx, patientID, requesterID)
	if err != nil {
		return false, err
	}
	for _, g := range gs {
		if g.AccessType == domain.AccessFull {
			s.metrics.ObserveAccessDecision(true)
			return true, nil
		}
	}
	s.metrics.ObserveAccessDecision(false)
	return false, nil
}

func (s *Service) withEffectiveStatus(gs []*Grant) []*Grant {
	now := s.now().UTC()
	for _, g := range gs {
		g.Status = g.EffectiveStatus(now)
	}
	return gs
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]PatientView, error) {
	gs, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return s.enrichForPatient(ctx, s.withEffectiveStatus(gs))
}

// ListGranted returns the patient's currently active grants.
func (s *Service) ListGranted(ctx context.Context, patientID uuid.UUID) ([]PatientView, error) {
	gs, err := s.repo.ListGranted(ctx, patientID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	active := gs[:0]
	for _, g := range gs {
		if g.IsActive(now) {
			active = append(active, g)
		}
	}
	return s.enrichForPatient(ctx, active)
}

func (s *Service) ListForRequester(ctx context.Context, requesterID uuid.UUID) ([]RequesterView, error) {
	gs, err := s.repo.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	gs = s.withEffectiveStatus(gs)

	cache := map[uuid.UUID]*identity.Account{}
	out := make([]RequesterView, 0, len(gs))
	for _, g := range gs {
		v := RequesterView{Grant: g}
		if acct, err := s.lookup(ctx, cache, g.PatientID); err != nil {
			return nil, err
		} else if acct != nil {
			v.PatientUID, v.PatientUsername = acct.UID, acct.Username
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) enrichForPatient(ctx context.Context, gs []*Grant) ([]PatientView, error) {
	cache := map[uuid.UUID]*identity.Account{}
	out := make([]PatientView, 0, len(gs))
	for _, g := range gs {
		v := PatientView{Grant: g}
		if acct, err := s.lookup(ctx, cache, g.RequesterID); err != nil {
			return nil, err
		} else if acct != nil {
			v.RequesterName, v.RequesterRole = acct.Username, acct.Role
		}
		out = append(out, v)
	}
	return out, nil
}

// lookup returns nil for an account that no longer resolves.
func (s *Service) lookup(ctx context.Context, cache map[uuid.UUID]*identity.Account, id uuid.UUID) (*identity.Account, error) {
	if acct, ok := cache[id]; ok {
		return acct, nil
	}
	acct, err := s.accounts.GetByID(ctx, id)
	if apperr.Is(err, apperr.KindNotFound) {
		acct, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	cache[id] = acct
	return acct, nil
}

// SearchPatient finds a patient by UID or username for a professional.
func (s *Service) SearchPatient(ctx context.Context, requester *auth.Principal, query string) (*SearchResult, error) {
	patient, err := s.accounts.FindByUIDOrUsername(ctx, query)
	if err != nil {
		return nil, err
	}
	count, err := s.records.CountByOwner(ctx, patient.ID)
	if err != nil {
		return nil, err
	}
	has, err := s.CheckAccess(ctx, patient.ID, requester.AccountID)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		ID:             patient.ID,
		Username:       patient.Username,
		UID:            patient.UID,
		Status:         patient.Status,
		ProfilePicture: patient.ProfilePicture,
		RecordCount:    count,
		HasAccess:      has,
	}, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
