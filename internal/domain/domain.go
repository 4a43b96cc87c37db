// Package domain holds the closed vocabularies shared by every component:
// account roles and statuses, consent grant scopes and states, verification
// case states, and audit actions.
package domain

import "github.com/medvault/medvault/internal/platform/apperr"

// Role is the role an account acts under.
type Role string

const (
	RolePatient            Role = "patient"
	RoleDoctor             Role = "doctor"
	RoleHospital           Role = "hospital"
	RoleEmergencyResponder Role = "emergency_responder"
	RoleInsuranceProvider  Role = "insurance_provider"
	RoleAdmin              Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleHospital, RoleEmergencyResponder, RoleInsuranceProvider, RoleAdmin:
		return true
	}
	return false
}

// IsProfessional reports whether the role can be applied for through a
// role application.
func (r Role) IsProfessional() bool {
	switch r {
	case RoleDoctor, RoleHospital, RoleEmergencyResponder, RoleInsuranceProvider:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", apperr.Validation("unknown role %q", s)
	}
	return r, nil
}

// AccountStatus is the verification state of an account.
type AccountStatus string

const (
	AccountPending   AccountStatus = "pending"
	AccountVerified  AccountStatus = "verified"
	AccountSuspended AccountStatus = "suspended"
)

func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountPending, AccountVerified, AccountSuspended:
		return true
	}
	return false
}

// AccessType is the scope of a consent grant.
type AccessType string

const (
	AccessFull           AccessType = "full"
	AccessEmergencyOnly  AccessType = "emergency_only"
	AccessSpecificRecord AccessType = "specific_record"
)

func (a AccessType) IsValid() bool {
	switch a {
	case AccessFull, AccessEmergencyOnly, AccessSpecificRecord:
		return true
	}
	return false
}

func ParseAccessType(s string) (AccessType, error) {
	a := AccessType(s)
	if !a.IsValid() {
		return "", apperr.Validation("unknown access type %q", s)
	}
	return a, nil
}

// GrantStatus is the lifecycle state of a consent grant.
type GrantStatus string

const (
	GrantPending  GrantStatus = "pending"
	GrantGranted  GrantStatus = "granted"
	GrantRevoked  GrantStatus = "revoked"
	GrantRejected GrantStatus = "rejected"
	GrantExpired  GrantStatus = "expired"
)

func (s GrantStatus) IsValid() bool {
	switch s {
	case GrantPending, GrantGranted, GrantRevoked, GrantRejected, GrantExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s GrantStatus) IsTerminal() bool {
	return s == GrantRevoked || s == GrantRejected || s == GrantExpired
}

// CanTransition reports whether a grant may move from s to next.
func (s GrantStatus) CanTransition(next GrantStatus) bool {
	switch s {
	case GrantPending:
		return next == GrantGranted || next == GrantRejected
	case GrantGranted:
		return next == GrantRevoked || next == GrantExpired
	}
	return false
}

// CaseStatus is the state of a verification case.
type CaseStatus string

const (
	CasePending  CaseStatus = "pending"
	CaseApproved CaseStatus = "approved"
	CaseRejected CaseStatus = "rejected"
)

func (s CaseStatus) IsValid() bool {
	switch s {
	case CasePending, CaseApproved, CaseRejected:
		return true
	}
	return false
}

// AuditAction tags an audit entry.
type AuditAction string

const (
	ActionUserRegistered            AuditAction = "user_registered"
	ActionProfileUpdated            AuditAction = "profile_updated"
	ActionProfilePictureUpdated     AuditAction = "profile_picture_updated"
	ActionUserInfoUpdated           AuditAction = "user_info_updated"
	ActionRecordAdded               AuditAction = "record_added"
	ActionQRGenerated               AuditAction = "qr_generated"
	ActionQRScanned                 AuditAction = "qr_scanned"
	ActionAccessRequested           AuditAction = "access_requested"
	ActionEmergencyAccessRequested  AuditAction = "emergency_access_requested"
	ActionHospitalNotifiedEmergency AuditAction = "hospital_notified_emergency"
	ActionAccessGranted             AuditAction = "access_granted"
	ActionAccessRejected            AuditAction = "access_rejected"
	ActionAccessRevoked             AuditAction = "access_revoked"
	ActionKYCSubmitted              AuditAction = "kyc_submitted"
	ActionRoleApplicationSubmitted  AuditAction = "role_application_submitted"
	ActionKYCApproved               AuditAction = "kyc_approved"
	ActionKYCRejected               AuditAction = "kyc_rejected"
	ActionRoleGranted               AuditAction = "role_granted"
)

var auditActions = map[AuditAction]bool{
	ActionUserRegistered:            true,
	ActionProfileUpdated:            true,
	ActionProfilePictureUpdated:     true,
	ActionUserInfoUpdated:           true,
	ActionRecordAdded:               true,
	ActionQRGenerated:               true,
	ActionQRScanned:                 true,
	ActionAccessRequested:           true,
	ActionEmergencyAccessRequested:  true,
	ActionHospitalNotifiedEmergency: true,
	ActionAccessGranted:             true,
	ActionAccessRejected:            true,
	ActionAccessRevoked:             true,
	ActionKYCSubmitted:              true,
	ActionRoleApplicationSubmitted:  true,
	ActionKYCApproved:               true,
	ActionKYCRejected:               true,
	ActionRoleGranted:               true,
}

func (a AuditAction) IsValid() bool { return auditActions[a] }

func ParseAuditAction(s string) (AuditAction, error) {
	a := AuditAction(s)
	if !a.IsValid() {
		return "", apperr.Validation("unknown audit action %q", s)
	}
	return a, nil
}

// TargetType names the kind of entity an audit entry refers to.
type TargetType string

const (
	TargetUser    TargetType = "user"
	TargetAccess  TargetType = "access"
	TargetQR      TargetType = "qr"
	TargetKYC     TargetType = "kyc"
	TargetRecord  TargetType = "record"
	TargetProfile TargetType = "profile"
)

// RecordType classifies an uploaded medical record.
type RecordType string

const (
	RecordLabReport     RecordType = "lab_report"
	RecordPrescription  RecordType = "prescription"
	RecordImaging       RecordType = "imaging"
	RecordDiagnosis     RecordType = "diagnosis"
	RecordTreatmentPlan RecordType = "treatment_plan"
)

func ParseRecordType(s string) (RecordType, error) {
	switch r := RecordType(s); r {
	case RecordLabReport, RecordPrescription, RecordImaging, RecordDiagnosis, RecordTreatmentPlan:
		return r, nil
	}
	return "", apperr.Validation("unknown record type %q", s)
}
