package records

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/domain/access"
	"github.com/medvault/medvault/internal/domain/audit"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/internal/platform/blobstore"
	"github.com/medvault/medvault/internal/platform/db"
)

const maxTitleLen = 200

// Gate is the consent check the catalog consults before releasing a record
// to anyone but its owner.
type Gate interface {
	ActiveGrants(ctx context.Context, patientID, requesterID uuid.UUID) ([]*access.Grant, error)
	HasFullAccess(ctx context.Context, patientID, requesterID uuid.UUID) (bool, error)
}

type Service struct {
	repo   Repository
	tx     db.Transactor
	blobs  blobstore.Store
	gate   Gate
	audit  audit.Recorder
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, tx db.Transactor, blobs blobstore.Store, gate Gate, rec audit.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		blobs:  blobs,
		gate:   gate,
		audit:  rec,
		logger: logger.With().Str("component", "records").Logger(),
		now:    time.Now,
	}
}

// Upload stores content and catalogs it under ownerID. Uploading for
// someone else requires an active full grant from them.
func (s *Service) Upload(ctx context.Context, uploader *auth.Principal, ownerID uuid.UUID, in UploadInput) (*Record, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return nil, apperr.Validation("title must be at most %d characters", maxTitleLen)
	}
	rt, err := domain.ParseRecordType(in.RecordType)
	if err != nil {
		return nil, err
	}
	if uploader.AccountID != ownerID {
		ok, err := s.gate.HasFullAccess(ctx, ownerID, uploader.AccountID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Authorization("full access from the patient is required to add records")
		}
	}
	content, contentType, err := decodeContent(in)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		UploadedBy:  uploader.AccountID,
		Title:       title,
		Description: optional(in.Description),
		RecordType:  rt,
		FileName:    optional(in.FileName),
		FileType:    optional(in.FileType),
		IsEmergency: in.IsEmergency,
		UploadedAt:  s.now().UTC(),
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		blob, err := s.blobs.Put(ctx, content, contentType)
		if err != nil {
			return blobError(err)
		}
		rec.FileCID, rec.FileHash = blob.CID, blob.SHA256
		if err := s.repo.Create(ctx, rec); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.New(uploader.AccountID, domain.ActionRecordAdded, domain.TargetRecord, rec.ID.String(),
			map[string]interface{}{"recordType": string(rt), "ownerId": ownerID.String()}))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("record_id", rec.ID.String()).Str("owner_id", ownerID.String()).
		Str("cid", rec.FileCID).Bool("emergency", rec.IsEmergency).Msg("record added")
	return rec, nil
}

// decodeContent returns the bytes to store and their media type.
func decodeContent(in UploadInput) ([]byte, string, error) {
	data := strings.TrimSpace(in.FileData)
	if data == "" {
		meta, err := json.Marshal(struct {
			Title       string `json:"title"`
			Description string `json:"description,omitempty"`
			RecordType  string `json:"recordType"`
			FileName    string `json:"fileName,omitempty"`
			FileType    string `json:"fileType,omitempty"`
			IsEmergency bool   `json:"isEmergency"`
		}{in.Title, in.Description, in.RecordType, in.FileName, in.FileType, in.IsEmergency})
		if err != nil {
			return nil, "", apperr.Validation("invalid record metadata")
		}
		return meta, "application/json", nil
	}

	mediaType := strings.TrimSpace(in.FileType)
	if strings.HasPrefix(data, "data:") {
		i := strings.Index(data, ",")
		if i < 0 {
			return nil, "", apperr.Validation("malformed data URL")
		}
		if mediaType == "" {
			mediaType = strings.TrimSuffix(strings.TrimPrefix(data[:i], "data:"), ";base64")
		}
		data = data[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", apperr.Validation("fileData must be base64")
	}
	if mediaType == "" {
		mediaType = http.DetectContentType(raw)
	}
	return raw, mediaType, nil
}

func blobError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return apperr.Validation("file exceeds %d bytes", blobstore.MaxFileSize)
	case errors.Is(err, blobstore.ErrEmptyContent):
		return apperr.Validation("file is empty")
	case errors.Is(err, blobstore.ErrBlobNotFound):
		return apperr.NotFound("record content not found")
	}
	return apperr.Wrap(apperr.KindStorage, "blob store failed", err)
}

// ListForOwner returns the owner's records, newest first.
func (s *Service) ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]*Record, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// ListEmergency returns the owner's emergency-flagged records.
func (s *Service) ListEmergency(ctx context.Context, ownerID uuid.UUID) ([]*Record, error) {
	return s.repo.ListEmergency(ctx, ownerID)
}

// ListForRequester returns the patient's records visible to requester
// under the union of their active grants.
func (s *Service) ListForRequester(ctx context.Context, requester *auth.Principal, patientID uuid.UUID) ([]*Record, error) {
	all, err := s.repo.ListByOwner(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if requester.AccountID == patientID {
		return all, nil
	}
	grants, err := s.gate.ActiveGrants(ctx, patientID, requester.AccountID)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, apperr.Authorization("no active access grant for this patient")
	}
	out := make([]*Record, 0, len(all))
	for _, rec := range all {
		if covered(grants, rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func covered(grants []*access.Grant, rec *Record) bool {
	for _, g := range grants {
		if g.Covers(rec.ID, rec.IsEmergency) {
			return true
		}
	}
	return false
}

// Content returns a record and its stored bytes, for the owner or a
// requester whose grant covers the record.
func (s *Service) Content(ctx context.Context, requester *auth.Principal, recordID uuid.UUID) (*Record, *blobstore.Blob, error) {
	rec, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}
	if rec.OwnerID != requester.AccountID {
		grants, err := s.gate.ActiveGrants(ctx, rec.OwnerID, requester.AccountID)
		if err != nil {
			return nil, nil, err
		}
		if !covered(grants, rec) {
			return nil, nil, apperr.Authorization("no access to this record")
		}
	}
	blob, err := s.blobs.Get(ctx, rec.FileCID)
	if err != nil {
		return nil, nil, blobError(err)
	}
	return rec, blob, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
