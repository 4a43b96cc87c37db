package profile

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/domain/audit"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/internal/platform/db"
)

const maxListItems = 100

type Service struct {
	repo   Repository
	tx     db.Transactor
	audit  audit.Recorder
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, tx db.Transactor, rec audit.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		audit:  rec,
		logger: logger.With().Str("component", "profile").Logger(),
		now:    time.Now,
	}
}

// Get returns the account's profile, or a NotFound error when none was
// ever saved.
func (s *Service) Get(ctx context.Context, accountID uuid.UUID) (*HealthProfile, error) {
	return s.repo.GetByAccount(ctx, accountID)
}

// Update merges in into the caller's profile, creating it on first save.
func (s *Service) Update(ctx context.Context, actor *auth.Principal, in UpdateInput) (*HealthProfile, error) {
	var out *HealthProfile
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByAccount(ctx, actor.AccountID)
		switch {
		case apperr.Is(err, apperr.KindNotFound):
			p = &HealthProfile{ID: uuid.New(), AccountID: actor.AccountID}
		case err != nil:
			return err
		}
		if err := apply(p, in); err != nil {
			return err
		}
		p.UpdatedAt = s.now().UTC()
		if err := s.repo.Upsert(ctx, p); err != nil {
			return err
		}
		out = p
		return s.audit.Append(ctx, audit.New(actor.AccountID, domain.ActionProfileUpdated, domain.TargetProfile, p.ID.String(), nil))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("account_id", actor.AccountID.String()).Msg("health profile updated")
	return out, nil
}

func apply(p *HealthProfile, in UpdateInput) error {
	if in.BloodType != nil {
		bt := strings.ToUpper(strings.TrimSpace(*in.BloodType))
		if bt == "" {
			p.BloodType = nil
		} else if !ValidBloodType(bt) {
			return apperr.Validation("invalid blood type %q", *in.BloodType)
		} else {
			p.BloodType = &bt
		}
	}
	var err error
	if in.Allergies != nil {
		if p.Allergies, err = cleanList("allergies", *in.Allergies); err != nil {
			return err
		}
	}
	if in.ChronicConditions != nil {
		if p.ChronicConditions, err = cleanList("chronicConditions", *in.ChronicConditions); err != nil {
			return err
		}
	}
	if in.CurrentMedications != nil {
		if p.CurrentMedications, err = cleanList("currentMedications", *in.CurrentMedications); err != nil {
			return err
		}
	}
	if in.EmergencyContact != nil {
		p.EmergencyContact = optional(*in.EmergencyContact)
	}
	if in.EmergencyPhone != nil {
		p.EmergencyPhone = optional(*in.EmergencyPhone)
	}
	if in.Height != nil {
		if *in.Height <= 0 {
			return apperr.Validation("height must be positive")
		}
		p.Height = in.Height
	}
	if in.Weight != nil {
		if *in.Weight <= 0 {
			return apperr.Validation("weight must be positive")
		}
		p.Weight = in.Weight
	}
	if in.OrganDonor != nil {
		p.OrganDonor = *in.OrganDonor
	}
	if p.Allergies == nil {
		p.Allergies = []string{}
	}
	if p.ChronicConditions == nil {
		p.ChronicConditions = []string{}
	}
	if p.CurrentMedications == nil {
		p.CurrentMedications = []string{}
	}
	return nil
}

// cleanList trims entries and drops blanks.
func cleanList(field string, in []string) ([]string, error) {
	if len(in) > maxListItems {
		return nil, apperr.Validation("%s accepts at most %d entries", field, maxListItems)
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
