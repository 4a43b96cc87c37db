package profile

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/medvault/internal/platform/db"
)

type profileRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &profileRepoPG{pool: pool}
}

func (r *profileRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *profileRepoPG) GetByAccount(ctx context.Context, accountID uuid.UUID) (*HealthProfile, error) {
	var p HealthProfile
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, account_id, blood_type, allergies, chronic_conditions, current_medications,
			emergency_contact, emergency_phone, height::float8, weight::float8, organ_donor, updated_at
		FROM health_profiles WHERE account_id = $1`, accountID).
		Scan(&p.ID, &p.AccountID, &p.BloodType, &p.Allergies, &p.ChronicConditions, &p.CurrentMedications,
			&p.EmergencyContact, &p.EmergencyPhone, &p.Height, &p.Weight, &p.OrganDonor, &p.UpdatedAt)
	if err != nil {
		return nil, db.Classify(err, "health profile")
	}
	return &p, nil
}

func (r *profileRepoPG) Upsert(ctx context.Context, p *HealthProfile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO health_profiles (id, account_id, blood_type, allergies, chronic_conditions,
			current_medications, emergency_contact, emergency_phone, height, weight, organ_donor, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (account_id) DO UPDATE SET
			blood_type = EXCLUDED.blood_type,
			allergies = EXCLUDED.allergies,
			chronic_conditions = EXCLUDED.chronic_conditions,
			current_medications = EXCLUDED.current_medications,
			emergency_contact = EXCLUDED.emergency_contact,
			emergency_phone = EXCLUDED.emergency_phone,
			height = EXCLUDED.height,
			weight = EXCLUDED.weight,
			organ_donor = EXCLUDED.organ_donor,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.AccountID, p.BloodType, p.Allergies, p.ChronicConditions, p.CurrentMedications,
		p.EmergencyContact, p.EmergencyPhone, p.Height, p.Weight, p.OrganDonor, p.UpdatedAt)
	return db.Classify(err, "health profile")
}
