package records

import (
	"time"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/domain"
)

// Record is a catalog entry pointing at content in the blob store.
// IsEmergency, not ownership, decides whether first responders see it.
type Record struct {
	ID          uuid.UUID         `json:"id"`
	OwnerID     uuid.UUID         `json:"userId"`
	UploadedBy  uuid.UUID         `json:"uploadedBy"`
	Title       string            `json:"title"`
	Description *string           `json:"description"`
	RecordType  domain.RecordType `json:"recordType"`
	FileCID     string            `json:"fileCID"`
	FileHash    string            `json:"fileHash"`
	FileName    *string           `json:"fileName"`
	FileType    *string           `json:"fileType"`
	IsEmergency bool              `json:"isEmergency"`
	UploadedAt  time.Time         `json:"uploadedAt"`
}

// UploadInput describes a new record. FileData is the base64 content (a
// data: URL prefix is accepted); without it the metadata itself is stored.
type UploadInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	RecordType  string `json:"recordType"`
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	FileData    string `json:"fileData"`
	IsEmergency bool   `json:"isEmergency"`
}
