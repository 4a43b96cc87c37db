// Package blobstore is the content-addressable store behind medical records.
// Content is keyed by a CID derived from its SHA-256 digest, so storing the
// same bytes twice yields the same address and a single copy.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/medvault/internal/platform/db"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrEmptyContent = errors.New("content is empty")
)

// MaxFileSize is the largest blob accepted (10 MiB).
const MaxFileSize = 10 << 20

// Blob is stored content and its address.
type Blob struct {
	CID         string    `json:"cid"`
	SHA256      string    `json:"sha256"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	Content     []byte    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store is the contract for blob backends.
type Store interface {
	Put(ctx context.Context, content []byte, contentType string) (*Blob, error)
	Get(ctx context.Context, cid string) (*Blob, error)
}

// Address returns the hex SHA-256 of content and its CID: "Qm" followed by
// the first 8 digest bytes in hex.
func Address(content []byte) (sum, cid string) {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:]), "Qm" + hex.EncodeToString(h[:8])
}

func prepare(content []byte, contentType string) (*Blob, error) {
	if len(content) == 0 {
		return nil, ErrEmptyContent
	}
	if len(content) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	sum, cid := Address(content)
	return &Blob{
		CID:         cid,
		SHA256:      sum,
		Size:        int64(len(content)),
		ContentType: contentType,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// InMemoryBlobStore is a thread-safe Store for tests and local development.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*Blob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]*Blob)}
}

func (s *InMemoryBlobStore) Put(_ context.Context, content []byte, contentType string) (*Blob, error) {
	b, err := prepare(content, contentType)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.blobs[b.CID]; ok {
		out := *existing
		return &out, nil
	}
	stored := *b
	stored.Content = append([]byte(nil), content...)
	s.blobs[b.CID] = &stored
	return b, nil
}

func (s *InMemoryBlobStore) Get(_ context.Context, cid string) (*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[cid]
	if !ok {
		return nil, ErrBlobNotFound
	}
	out := *b
	out.Content = append([]byte(nil), b.Content...)
	return &out, nil
}

// PGBlobStore keeps blobs in the record_blobs table. Put joins the caller's
// transaction so a record row and its content commit together.
type PGBlobStore struct {
	pool *pgxpool.Pool
}

func NewPGBlobStore(pool *pgxpool.Pool) *PGBlobStore {
	return &PGBlobStore{pool: pool}
}

const blobCols = `cid, sha256, size, content_type, content, created_at`

func (s *PGBlobStore) Put(ctx context.Context, content []byte, contentType string) (*Blob, error) {
	b, err := prepare(content, contentType)
	if err != nil {
		return nil, err
	}
	q := db.Conn(ctx, s.pool)
	_, err = q.Exec(ctx, `
		INSERT INTO record_blobs (`+blobCols+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cid) DO NOTHING`,
		b.CID, b.SHA256, b.Size, b.ContentType, b.Content, b.CreatedAt)
	if err != nil {
		return nil, db.Classify(err, "blob")
	}
	return b, nil
}

func (s *PGBlobStore) Get(ctx context.Context, cid string) (*Blob, error) {
	var b Blob
	err := db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+blobCols+` FROM record_blobs WHERE cid = $1`, cid).
		Scan(&b.CID, &b.SHA256, &b.Size, &b.ContentType, &b.Content, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, db.Classify(err, "blob")
	}
	return &b, nil
}
