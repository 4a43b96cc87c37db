package emergency

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/domain/records"
)

// Credential is the account's current emergency QR credential. Payload is
// the exact JSON text encoded into the QR code; SignedToken is the server
// signature over it.
type Credential struct {
	ID              uuid.UUID  `json:"id"`
	AccountID       uuid.UUID  `json:"userId"`
	Payload         string     `json:"qrData"`
	SignedToken     string     `json:"signedToken"`
	WalletSignature *string    `json:"walletSignature"`
	GeneratedAt     time.Time  `json:"generatedAt"`
	ExpiresAt       *time.Time `json:"expiresAt"`
	ScanCount       int        `json:"scanCount"`
}

// Payload is the public emergency summary carried by the QR code.
type Payload struct {
	Username         string            `json:"username"`
	UID              string            `json:"uid"`
	WalletAddress    string            `json:"walletAddress"`
	ProfilePicture   *string           `json:"profilePicture"`
	Role             domain.Role       `json:"role"`
	HospitalName     *string           `json:"hospitalName"`
	EmergencyDetails *EmergencyDetails `json:"emergencyDetails"`
	Timestamp        int64             `json:"timestamp"`
}

type EmergencyDetails struct {
	BloodType          *string  `json:"bloodType"`
	Allergies          []string `json:"allergies"`
	ChronicConditions  []string `json:"chronicConditions"`
	CurrentMedications []string `json:"currentMedications"`
	EmergencyContact   *string  `json:"emergencyContact"`
	EmergencyPhone     *string  `json:"emergencyPhone"`
}

// PatientRef identifies the scanned patient in a verification result.
type PatientRef struct {
	ID       uuid.UUID `json:"id"`
	UID      string    `json:"uid"`
	Username string    `json:"username"`
}

// Verification is returned to the scanner after a successful check.
type Verification struct {
	Success          bool              `json:"success"`
	Data             json.RawMessage   `json:"data"`
	Patient          PatientRef        `json:"patient"`
	ScanCount        int               `json:"scanCount"`
	EmergencyRecords []*records.Record `json:"emergencyRecords,omitempty"`
}

type GenerateInput struct {
	Signature string `json:"signature"`
}

type VerifyInput struct {
	QRData string `json:"qrData"`
	Token  string `json:"token"`
}
