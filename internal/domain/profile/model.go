package profile

import (
	"time"

	"github.com/google/uuid"
)

// HealthProfile is the patient-maintained summary shown to first responders.
type HealthProfile struct {
	ID                 uuid.UUID `json:"id"`
	AccountID          uuid.UUID `json:"userId"`
	BloodType          *string   `json:"bloodType"`
	Allergies          []string  `json:"allergies"`
	ChronicConditions  []string  `json:"chronicConditions"`
	CurrentMedications []string  `json:"currentMedications"`
	EmergencyContact   *string   `json:"emergencyContact"`
	EmergencyPhone     *string   `json:"emergencyPhone"`
	Height             *float64  `json:"height"`
	Weight             *float64  `json:"weight"`
	OrganDonor         bool      `json:"organDonor"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// UpdateInput is a partial update. Nil fields keep their stored value.
type UpdateInput struct {
	BloodType          *string   `json:"bloodType"`
	Allergies          *[]string `json:"allergies"`
	ChronicConditions  *[]string `json:"chronicConditions"`
	CurrentMedications *[]string `json:"currentMedications"`
	EmergencyContact   *string   `json:"emergencyContact"`
	EmergencyPhone     *string   `json:"emergencyPhone"`
	Height             *float64  `json:"height"`
	Weight             *float64  `json:"weight"`
	OrganDonor         *bool     `json:"organDonor"`
}

var bloodTypes = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}

// ValidBloodType reports whether bt is one of the eight ABO/Rh groups.
func ValidBloodType(bt string) bool {
	return bloodTypes[bt]
}
