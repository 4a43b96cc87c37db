package verification

import (
	"context"
	"encoding/base64"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/domain/audit"
	"github.com/medvault/medvault/internal/domain/identity"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/internal/platform/blobstore"
	"github.com/medvault/medvault/internal/platform/db"
)

// -- Mocks --

type mockCaseRepo struct {
	mu    sync.Mutex
	cases map[uuid.UUID]*Case
}

func newMockCaseRepo() *mockCaseRepo {
	return &mockCaseRepo{cases: make(map[uuid.UUID]*Case)}
}

func (m *mockCaseRepo) Create(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.cases[c.ID] = &cp
	return nil
}

func (m *mockCaseRepo) GetByID(_ context.Context, id uuid.UUID) (*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, apperr.NotFound("verification case not found")
	}
	cp := *c
	return &cp, nil
}

func (m *mockCaseRepo) sorted(match func(*Case) bool) []*Case {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Case
	for _, c := range m.cases {
		if match(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

func (m *mockCaseRepo) LatestForAccount(_ context.Context, id uuid.UUID) (*Case, error) {
	cs := m.sorted(func(c *Case) bool { return c.AccountID == id })
	if len(cs) == 0 {
		return nil, apperr.NotFound("verification case not found")
	}
	return cs[len(cs)-1], nil
}

func (m *mockCaseRepo) Review(_ context.Context, id uuid.UUID, to domain.CaseStatus, reviewer uuid.UUID, at time.Time, reason *string) (*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok || c.Status != domain.CasePending {
		return nil, apperr.Conflict("verification case already reviewed")
	}
	c.Status, c.ReviewedBy, c.ReviewedAt, c.RejectionReason = to, &reviewer, &at, reason
	cp := *c
	return &cp, nil
}

func (m *mockCaseRepo) ListPending(context.Context) ([]*Case, error) {
	return m.sorted(func(c *Case) bool { return c.Status == domain.CasePending }), nil
}

func (m *mockCaseRepo) ListPendingRoleApplications(context.Context) ([]*Case, error) {
	return m.sorted(func(c *Case) bool { return c.Status == domain.CasePending && c.RequestedRole != nil }), nil
}

func (m *mockCaseRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]Case, len(m.cases))
	for id, c := range m.cases {
		saved[id] = *c
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cases = make(map[uuid.UUID]*Case, len(saved))
		for id, c := range saved {
			c := c
			m.cases[id] = &c
		}
	}
}

type fakeAccounts struct {
	byID map[uuid.UUID]*identity.Account
}

func (f *fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*identity.Account, error) {
	if a, ok := f.byID[id]; ok {
		return a, nil
	}
	return nil, apperr.NotFound("account not found")
}

func (f *fakeAccounts) MarkVerified(_ context.Context, id uuid.UUID) error {
	a, ok := f.byID[id]
	if !ok {
		return apperr.NotFound("account not found")
	}
	a.Status = domain.AccountVerified
	return nil
}

func (f *fakeAccounts) AssignRole(_ context.Context, id uuid.UUID, r domain.Role) (*identity.Account, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFound("account not found")
	}
	a.Role, a.Status = r, domain.AccountVerified
	return a, nil
}

func (f *fakeAccounts) snapshot() func() {
	saved := make(map[uuid.UUID]identity.Account, len(f.byID))
	for id, a := range f.byID {
		saved[id] = *a
	}
	return func() {
		for id, a := range saved {
			*f.byID[id] = a
		}
	}
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*audit.Entry
	failOn  domain.AuditAction
}

func (f *fakeAudit) Append(_ context.Context, e *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && e.Action == f.failOn {
		return apperr.Storage("append audit entry", errors.New("disk full"))
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) snapshot() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.entries)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.entries = f.entries[:n]
	}
}

// rollbackTx restores every store when the unit of work fails.
type rollbackTx struct {
	stores []interface{ snapshot() func() }
}

func (r rollbackTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	restores := make([]func(), 0, len(r.stores))
	for _, st := range r.stores {
		restores = append(restores, st.snapshot())
	}
	if err := (db.NoTx{}).WithinTx(ctx, fn); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}

type fixture struct {
	svc      *Service
	repo     *mockCaseRepo
	accounts *fakeAccounts
	blobs    *blobstore.InMemoryBlobStore
	audit    *fakeAudit
	admin    *auth.Principal
	patient  *identity.Account
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newMockCaseRepo(),
		accounts: &fakeAccounts{byID: map[uuid.UUID]*identity.Account{}},
		blobs:    blobstore.NewInMemoryBlobStore(),
		audit:    &fakeAudit{},
		admin:    &auth.Principal{AccountID: uuid.New(), Role: domain.RoleAdmin, Status: domain.AccountVerified},
	}
	f.patient = &identity.Account{ID: uuid.New(), Role: domain.RolePatient, Status: domain.AccountPending}
	f.accounts.byID[f.patient.ID] = f.patient
	tx := rollbackTx{stores: []interface{ snapshot() func() }{f.repo, f.accounts, f.audit}}
	f.svc = NewService(f.repo, tx, f.accounts, f.blobs, f.audit, zerolog.Nop())
	clock := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return f
}

func (f *fixture) submit(t *testing.T) *Case {
	t.Helper()
	c, err := f.svc.SubmitKYC(context.Background(), f.patient.Principal(), KYCInput{FullName: "Ana Silva", DocumentType: "passport"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return c
}

// -- Tests --

func TestSubmitKYC(t *testing.T) {
	f := newFixture()
	c := f.submit(t)

	if c.Status != domain.CasePending || c.AccountID != f.patient.ID {
		t.Errorf("unexpected case %+v", c)
	}
	if c.DocumentCID == nil || !strings.HasPrefix(*c.DocumentCID, "Qm") || len(*c.DocumentCID) != 18 {
		t.Errorf("expected Qm + 16 hex document address, got %v", c.DocumentCID)
	}
	if len(f.audit.entries) != 1 || f.audit.entries[0].Action != domain.ActionKYCSubmitted {
		t.Errorf("expected kyc_submitted, got %+v", f.audit.entries)
	}
}

func TestSubmitKYC_StoresDocument(t *testing.T) {
	f := newFixture()
	doc := []byte("%PDF-1.4 passport scan")
	c, err := f.svc.SubmitKYC(context.Background(), f.patient.Principal(), KYCInput{
		FullName:     "Ana Silva",
		DocumentData: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(doc),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, want := blobstore.Address(doc)
	if c.DocumentCID == nil || *c.DocumentCID != want {
		t.Errorf("expected content address %s, got %v", want, c.DocumentCID)
	}
	if _, err := f.blobs.Get(context.Background(), want); err != nil {
		t.Errorf("expected document stored: %v", err)
	}
}

func TestSubmitKYC_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   KYCInput
	}{
		{"missing name", KYCInput{FullName: "  "}},
		{"bad document type", KYCInput{FullName: "A", DocumentType: "library_card"}},
		{"bad base64", KYCInput{FullName: "A", DocumentData: "***"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.SubmitKYC(context.Background(), f.patient.Principal(), tt.in)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
			if len(f.repo.cases) != 0 {
				t.Error("expected no case created")
			}
		})
	}
}

func TestApprove_VerifiesAccount(t *testing.T) {
	f := newFixture()
	c := f.submit(t)

	out, err := f.svc.Approve(context.Background(), f.admin, c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != domain.CaseApproved || out.ReviewedBy == nil || *out.ReviewedBy != f.admin.AccountID || out.ReviewedAt == nil {
		t.Errorf("unexpected reviewed case %+v", out)
	}
	if f.patient.Status != domain.AccountVerified {
		t.Errorf("expected account verified, got %s", f.patient.Status)
	}
	if f.patient.Role != domain.RolePatient {
		t.Errorf("expected role untouched by approval, got %s", f.patient.Role)
	}
	last := f.audit.entries[len(f.audit.entries)-1]
	if last.Action != domain.ActionKYCApproved || last.Metadata["kycUserId"] != f.patient.ID.String() {
		t.Errorf("unexpected audit entry %+v", last)
	}

	if _, err := f.svc.Approve(context.Background(), f.admin, c.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("expected conflict on second approve, got %v", err)
	}
}

func TestApprove_Errors(t *testing.T) {
	f := newFixture()
	c := f.submit(t)

	if _, err := f.svc.Approve(context.Background(), f.patient.Principal(), c.ID); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("expected authorization error for non-admin, got %v", err)
	}
	if _, err := f.svc.Approve(context.Background(), f.admin, uuid.New()); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if f.patient.Status != domain.AccountPending {
		t.Error("expected account untouched")
	}
}

func TestReject(t *testing.T) {
	f := newFixture()
	c := f.submit(t)

	out, err := f.svc.Reject(context.Background(), f.admin, c.ID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != domain.CaseRejected || out.RejectionReason == nil || *out.RejectionReason != DefaultRejectionReason {
		t.Errorf("unexpected rejected case %+v", out)
	}
	if f.patient.Status != domain.AccountPending {
		t.Errorf("expected account status untouched, got %s", f.patient.Status)
	}
	last := f.audit.entries[len(f.audit.entries)-1]
	if last.Action != domain.ActionKYCRejected || last.Metadata["reason"] != DefaultRejectionReason {
		t.Errorf("unexpected audit entry %+v", last)
	}
	if _, err := f.svc.Approve(context.Background(), f.admin, c.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("expected conflict approving a rejected case, got %v", err)
	}
}

func TestApplyForRole(t *testing.T) {
	f := newFixture()
	p := f.patient.Principal()

	if _, err := f.svc.ApplyForRole(context.Background(), p, RoleApplicationInput{Role: "admin"}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected admin to be rejected, got %v", err)
	}

	c, err := f.svc.ApplyForRole(context.Background(), p, RoleApplicationInput{Role: "doctor", InstitutionName: "City Clinic"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.FullName != "doctor Application" || c.RequestedRole == nil || *c.RequestedRole != domain.RoleDoctor {
		t.Errorf("unexpected application %+v", c)
	}
	e := f.audit.entries[len(f.audit.entries)-1]
	if e.Action != domain.ActionRoleApplicationSubmitted || e.Metadata["requestedRole"] != "doctor" {
		t.Errorf("unexpected audit entry %+v", e)
	}

	f.submit(t)
	apps, _ := f.svc.RoleApplications(context.Background())
	queue, _ := f.svc.Queue(context.Background())
	if len(apps) != 1 || len(queue) != 2 {
		t.Errorf("expected 1 application in 2 pending, got %d/%d", len(apps), len(queue))
	}
}

func TestLatestAndInstitutionName(t *testing.T) {
	f := newFixture()
	name, err := f.svc.InstitutionName(context.Background(), f.patient.ID)
	if err != nil || name != nil {
		t.Fatalf("expected no institution, got %v (%v)", name, err)
	}

	_, _ = f.svc.ApplyForRole(context.Background(), f.patient.Principal(), RoleApplicationInput{Role: "hospital", InstitutionName: "St. Mary"})
	name, _ = f.svc.InstitutionName(context.Background(), f.patient.ID)
	if name == nil || *name != "St. Mary" {
		t.Errorf("expected St. Mary, got %v", name)
	}

	latest, err := f.svc.Latest(context.Background(), f.patient.ID)
	if err != nil || latest.RequestedRole == nil {
		t.Errorf("expected latest case to be the application, got %+v (%v)", latest, err)
	}
}

func TestGrantRole(t *testing.T) {
	f := newFixture()

	acct, err := f.svc.GrantRole(context.Background(), f.admin, f.patient.ID, "emergency_responder")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct.Role != domain.RoleEmergencyResponder || acct.Status != domain.AccountVerified {
		t.Errorf("unexpected account %+v", acct)
	}
	e := f.audit.entries[len(f.audit.entries)-1]
	if e.Action != domain.ActionRoleGranted || e.Metadata["newRole"] != "emergency_responder" || e.TargetID != f.patient.ID.String() {
		t.Errorf("unexpected audit entry %+v", e)
	}

	if _, err := f.svc.GrantRole(context.Background(), f.admin, f.patient.ID, "wizard"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := f.svc.GrantRole(context.Background(), f.admin, uuid.New(), "doctor"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := f.svc.GrantRole(context.Background(), f.patient.Principal(), f.patient.ID, "doctor"); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("expected authorization error, got %v", err)
	}
}

func TestApprove_AuditFailureLeavesCasePending(t *testing.T) {
	f := newFixture()
	c := f.submit(t)

	f.audit.failOn = domain.ActionKYCApproved
	if _, err := f.svc.Approve(context.Background(), f.admin, c.ID); !apperr.Is(err, apperr.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	stored, _ := f.repo.GetByID(context.Background(), c.ID)
	if stored.Status != domain.CasePending || stored.ReviewedBy != nil {
		t.Errorf("expected case still pending, got %s", stored.Status)
	}
	if f.patient.Status != domain.AccountPending {
		t.Errorf("expected account still pending, got %s", f.patient.Status)
	}
	if len(f.audit.entries) != 1 {
		t.Errorf("expected only the submission entry, got %d", len(f.audit.entries))
	}
}

func TestGrantRole_AuditFailureKeepsRole(t *testing.T) {
	f := newFixture()
	f.audit.failOn = domain.ActionRoleGranted
	if _, err := f.svc.GrantRole(context.Background(), f.admin, f.patient.ID, string(domain.RoleDoctor)); err == nil {
		t.Fatal("expected grant to fail")
	}
	if f.patient.Role != domain.RolePatient || f.patient.Status != domain.AccountPending {
		t.Errorf("expected account untouched, got %s/%s", f.patient.Role, f.patient.Status)
	}
}
