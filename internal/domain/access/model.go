package access

import (
	"time"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/domain"
)

// Grant is one requester's consent entry against one patient. Entries are
// never deleted; history is kept for audit.
type Grant struct {
	ID               uuid.UUID          `json:"id"`
	PatientID        uuid.UUID          `json:"patientId"`
	RequesterID      uuid.UUID          `json:"requesterId"`
	RecordID         *uuid.UUID         `json:"recordId"`
	AccessType       domain.AccessType  `json:"accessType"`
	Status           domain.GrantStatus `json:"status"`
	Reason           *string            `json:"reason"`
	IsEmergency      bool               `json:"isEmergency"`
	ProofImage       *string            `json:"proofImage"`
	ProofDetails     *string            `json:"proofDetails"`
	HospitalNotified bool               `json:"hospitalNotified"`
	RequestedAt      time.Time          `json:"requestedAt"`
	RespondedAt      *time.Time         `json:"respondedAt"`
	ExpiresAt        *time.Time         `json:"expiresAt"`
}

// EffectiveStatus is the stored status with expiry applied: a granted entry
// whose expiry has passed reads as expired.
func (g *Grant) EffectiveStatus(now time.Time) domain.GrantStatus {
	if g.Status == domain.GrantGranted && g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
		return domain.GrantExpired
	}
	return g.Status
}

// IsActive reports whether the grant currently authorizes access.
func (g *Grant) IsActive(now time.Time) bool {
	return g.EffectiveStatus(now) == domain.GrantGranted
}

// Covers reports whether an active grant's scope includes a record.
func (g *Grant) Covers(recordID uuid.UUID, isEmergency bool) bool {
	switch g.AccessType {
	case domain.AccessFull:
		return true
	case domain.AccessEmergencyOnly:
		return isEmergency
	case domain.AccessSpecificRecord:
		return g.RecordID != nil && *g.RecordID == recordID
	}
	return false
}

// RequestInput is what a requester submits.
type RequestInput struct {
	PatientID    uuid.UUID  `json:"patientId"`
	AccessType   string     `json:"accessType"`
	RecordID     *uuid.UUID `json:"recordId"`
	Reason       string     `json:"reason"`
	IsEmergency  bool       `json:"isEmergency"`
	ProofImage   string     `json:"proofImage"`
	ProofDetails string     `json:"proofDetails"`
}

// PatientView is a grant as the patient sees it, with the requester named.
type PatientView struct {
	*Grant
	RequesterName string      `json:"requesterName,omitempty"`
	RequesterRole domain.Role `json:"requesterRole,omitempty"`
}

// RequesterView is a grant as the requester sees it, with the patient named.
type RequesterView struct {
	*Grant
	PatientUID      string `json:"patientUid,omitempty"`
	PatientUsername string `json:"patientUsername,omitempty"`
}

// SearchResult is what a professional sees when looking a patient up.
type SearchResult struct {
	ID             uuid.UUID            `json:"id"`
	Username       string               `json:"username"`
	UID            string               `json:"uid"`
	Status         domain.AccountStatus `json:"status"`
	ProfilePicture *string              `json:"profilePicture"`
	RecordCount    int                  `json:"recordCount"`
	HasAccess      bool                 `json:"hasAccess"`
}
