package verification

import (
	"time"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/domain"
)

// Case is a KYC submission or a role application awaiting admin review.
type Case struct {
	ID                  uuid.UUID         `json:"id"`
	AccountID           uuid.UUID         `json:"userId"`
	FullName            string            `json:"fullName"`
	DateOfBirth         *string           `json:"dateOfBirth"`
	NationalID          *string           `json:"nationalId"`
	PhoneNumber         *string           `json:"phoneNumber"`
	Address             *string           `json:"address"`
	DocumentType        *string           `json:"documentType"`
	DocumentNumber      *string           `json:"documentNumber"`
	DocumentCID         *string           `json:"documentCID"`
	ProfessionalLicense *string           `json:"professionalLicense"`
	InstitutionName     *string           `json:"institutionName"`
	RequestedRole       *domain.Role      `json:"requestedRole"`
	Status              domain.CaseStatus `json:"status"`
	SubmittedAt         time.Time         `json:"submittedAt"`
	ReviewedAt          *time.Time        `json:"reviewedAt"`
	ReviewedBy          *uuid.UUID        `json:"reviewedBy"`
	RejectionReason     *string           `json:"rejectionReason"`
}

// KYCInput is an identity verification submission. DocumentData, when
// present, is the base64 scan of the identity document.
type KYCInput struct {
	FullName            string `json:"fullName"`
	DateOfBirth         string `json:"dateOfBirth"`
	NationalID          string `json:"nationalId"`
	PhoneNumber         string `json:"phoneNumber"`
	Address             string `json:"address"`
	DocumentType        string `json:"documentType"`
	DocumentNumber      string `json:"documentNumber"`
	DocumentData        string `json:"documentData"`
	ProfessionalLicense string `json:"professionalLicense"`
	InstitutionName     string `json:"institutionName"`
}

type RoleApplicationInput struct {
	Role                string `json:"role"`
	FullName            string `json:"fullName"`
	ProfessionalLicense string `json:"professionalLicense"`
	InstitutionName     string `json:"institutionName"`
}

var documentTypes = map[string]bool{
	"passport":        true,
	"national_id":     true,
	"drivers_license": true,
}

const DefaultRejectionReason = "Application denied"
