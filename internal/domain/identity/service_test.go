package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/domain/audit"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/internal/platform/db"
)

// -- Mocks --

type mockAccountRepo struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*Account
	// beforeCreate lets a test simulate a concurrent registration.
	beforeCreate func(a *Account)
}

func newMockAccountRepo() *mockAccountRepo {
	return &mockAccountRepo{accounts: make(map[uuid.UUID]*Account)}
}

func (m *mockAccountRepo) find(match func(*Account) bool) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if match(a) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("account not found")
}

func (m *mockAccountRepo) Create(_ context.Context, a *Account) error {
	if m.beforeCreate != nil {
		hook := m.beforeCreate
		m.beforeCreate = nil
		hook(a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.accounts {
		if ex.WalletAddress == a.WalletAddress || ex.UID == a.UID || ex.Username == a.Username {
			return apperr.Conflict("account already exists")
		}
	}
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *mockAccountRepo) GetByID(_ context.Context, id uuid.UUID) (*Account, error) {
	return m.find(func(a *Account) bool { return a.ID == id })
}

func (m *mockAccountRepo) GetByWallet(_ context.Context, w string) (*Account, error) {
	return m.find(func(a *Account) bool { return a.WalletAddress == w })
}

func (m *mockAccountRepo) GetByUID(_ context.Context, uid string) (*Account, error) {
	return m.find(func(a *Account) bool { return a.UID == uid })
}

func (m *mockAccountRepo) GetByUsername(_ context.Context, u string) (*Account, error) {
	return m.find(func(a *Account) bool { return a.Username == u })
}

func (m *mockAccountRepo) UIDExists(ctx context.Context, uid string) (bool, error) {
	_, err := m.GetByUID(ctx, uid)
	return err == nil, nil
}

func (m *mockAccountRepo) UsernameExists(ctx context.Context, u string) (bool, error) {
	_, err := m.GetByUsername(ctx, u)
	return err == nil, nil
}

func (m *mockAccountRepo) UpdateInfo(_ context.Context, id uuid.UUID, in UpdateInfoInput) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, apperr.NotFound("account not found")
	}
	if in.Username != nil {
		for _, ex := range m.accounts {
			if ex.ID != id && ex.Username == *in.Username {
				return nil, apperr.Conflict("username already taken")
			}
		}
		a.Username = *in.Username
	}
	if in.HospitalName != nil {
		a.HospitalName = in.HospitalName
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccountRepo) SetProfilePicture(_ context.Context, id uuid.UUID, pic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return apperr.NotFound("account not found")
	}
	a.ProfilePicture = &pic
	return nil
}

func (m *mockAccountRepo) SetStatus(_ context.Context, id uuid.UUID, st domain.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return apperr.NotFound("account not found")
	}
	a.Status = st
	return nil
}

func (m *mockAccountRepo) SetRoleAndStatus(_ context.Context, id uuid.UUID, r domain.Role, st domain.AccountStatus) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, apperr.NotFound("account not found")
	}
	a.Role, a.Status = r, st
	cp := *a
	return &cp, nil
}

func (m *mockAccountRepo) List(_ context.Context, limit, offset int) ([]*Account, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Account
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
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

// rollbackTx restores the account table when the unit of work fails.
type rollbackTx struct {
	repo *mockAccountRepo
}

func (r rollbackTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.repo.mu.Lock()
	saved := make(map[uuid.UUID]Account, len(r.repo.accounts))
	for id, a := range r.repo.accounts {
		saved[id] = *a
	}
	r.repo.mu.Unlock()

	if err := (db.NoTx{}).WithinTx(ctx, fn); err != nil {
		r.repo.mu.Lock()
		r.repo.accounts = make(map[uuid.UUID]*Account, len(saved))
		for id, a := range saved {
			a := a
			r.repo.accounts[id] = &a
		}
		r.repo.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeAudit) actions() []domain.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AuditAction
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type scriptedUIDs struct {
	candidates []string
	calls      int
	fallback   string
}

func (s *scriptedUIDs) Candidate() string {
	c := s.candidates[s.calls%len(s.candidates)]
	s.calls++
	return c
}

func (s *scriptedUIDs) Fallback() string { return s.fallback }

const (
	adminWallet   = "0x1111111111111111111111111111111111111111"
	patientWallet = "0xabcdef0123456789abcdef0123456789abcdef01"
)

func newTestService() (*Service, *mockAccountRepo, *fakeAudit) {
	repo := newMockAccountRepo()
	rec := &fakeAudit{}
	svc := NewService(repo, db.NoTx{}, rec, Config{AdminWallets: []string{adminWallet}}, nil, zerolog.Nop())
	return svc, repo, rec
}

// -- Tests --

func TestResolve_RegistersPatient(t *testing.T) {
	svc, repo, rec := newTestService()

	acct, created, err := svc.Resolve(context.Background(), "  0xABCDEF0123456789ABCDEF0123456789ABCDEF01 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true on first contact")
	}
	if acct.WalletAddress != patientWallet {
		t.Errorf("expected lower-cased wallet, got %s", acct.WalletAddress)
	}
	if acct.Role != domain.RolePatient || acct.Status != domain.AccountPending {
		t.Errorf("expected pending patient, got %s/%s", acct.Role, acct.Status)
	}
	if acct.Username != "user_abcdef" {
		t.Errorf("expected username user_abcdef, got %s", acct.Username)
	}
	if !strings.HasPrefix(acct.UID, "HID") || len(acct.UID) != 12 {
		t.Errorf("expected HID + 9 digits, got %s", acct.UID)
	}
	if len(repo.accounts) != 1 {
		t.Errorf("expected 1 account, got %d", len(repo.accounts))
	}
	if len(rec.entries) != 1 || rec.entries[0].Action != domain.ActionUserRegistered {
		t.Fatalf("expected one user_registered entry, got %v", rec.actions())
	}
	if rec.entries[0].Metadata["isAdmin"] != false || rec.entries[0].Metadata["walletAddress"] != patientWallet {
		t.Errorf("unexpected metadata %v", rec.entries[0].Metadata)
	}
}

func TestResolve_ExistingIsPureRead(t *testing.T) {
	svc, repo, rec := newTestService()
	first, _, _ := svc.Resolve(context.Background(), patientWallet)

	again, created, err := svc.Resolve(context.Background(), patientWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected created=false for existing wallet")
	}
	if again.ID != first.ID || again.UID != first.UID {
		t.Error("expected the same account")
	}
	if len(repo.accounts) != 1 || len(rec.entries) != 1 {
		t.Errorf("expected no new rows, got %d accounts and %d entries", len(repo.accounts), len(rec.entries))
	}
}

func TestResolve_Admin(t *testing.T) {
	svc, _, rec := newTestService()
	acct, _, err := svc.Resolve(context.Background(), adminWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct.Role != domain.RoleAdmin || acct.Status != domain.AccountVerified {
		t.Errorf("expected verified admin, got %s/%s", acct.Role, acct.Status)
	}
	if rec.entries[0].Metadata["isAdmin"] != true {
		t.Error("expected isAdmin=true in metadata")
	}
}

func TestResolve_InvalidWallet(t *testing.T) {
	svc, repo, _ := newTestService()
	for _, w := range []string{"", "   ", "0x123", "abcdef0123456789abcdef0123456789abcdef0123", "0xZZcdef0123456789abcdef0123456789abcdef01"} {
		_, _, err := svc.Resolve(context.Background(), w)
		if !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("Resolve(%q): expected validation error, got %v", w, err)
		}
	}
	if len(repo.accounts) != 0 {
		t.Error("expected no accounts created")
	}
}

func TestResolve_UIDCollisionsUseFallback(t *testing.T) {
	svc, repo, _ := newTestService()
	taken := "HID123456789"
	repo.accounts[uuid.New()] = &Account{ID: uuid.New(), WalletAddress: "0x9999999999999999999999999999999999999999", UID: taken, Username: "someone"}

	uids := &scriptedUIDs{candidates: []string{taken}, fallback: "HID1700000000000042"}
	svc.uids = uids

	acct, _, err := svc.Resolve(context.Background(), patientWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uids.calls != uidMaxAttempts {
		t.Errorf("expected %d candidate attempts, got %d", uidMaxAttempts, uids.calls)
	}
	if acct.UID != "HID1700000000000042" {
		t.Errorf("expected fallback UID, got %s", acct.UID)
	}
}

func TestResolve_UIDRetryFindsFreeCandidate(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.accounts[uuid.New()] = &Account{ID: uuid.New(), WalletAddress: "0x9999999999999999999999999999999999999999", UID: "HID111111111", Username: "x"}
	svc.uids = &scriptedUIDs{candidates: []string{"HID111111111", "HID222222222"}, fallback: "unused"}

	acct, _, err := svc.Resolve(context.Background(), patientWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct.UID != "HID222222222" {
		t.Errorf("expected second candidate, got %s", acct.UID)
	}
}

func TestResolve_ConcurrentFirstContactRetries(t *testing.T) {
	svc, repo, _ := newTestService()
	winner := &Account{ID: uuid.New(), WalletAddress: patientWallet, UID: "HID999999999", Username: "user_abcdef_w", CreatedAt: time.Now()}
	repo.beforeCreate = func(*Account) {
		repo.mu.Lock()
		repo.accounts[winner.ID] = winner
		repo.mu.Unlock()
	}

	acct, created, err := svc.Resolve(context.Background(), patientWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected the loser to observe created=false")
	}
	if acct.ID != winner.ID {
		t.Errorf("expected the winner's account, got %s", acct.ID)
	}
}

func TestResolve_ConcurrentGoroutinesOneAccount(t *testing.T) {
	svc, repo, _ := newTestService()
	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, _, err := svc.Resolve(context.Background(), patientWallet)
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids <- a.ID
		}()
	}
	wg.Wait()
	close(ids)

	var first uuid.UUID
	for id := range ids {
		if first == uuid.Nil {
			first = id
		} else if id != first {
			t.Errorf("expected a single account id, got %s and %s", first, id)
		}
	}
	if len(repo.accounts) != 1 {
		t.Errorf("expected 1 account, got %d", len(repo.accounts))
	}
}

func TestResolve_UsernamePrefixCollision(t *testing.T) {
	svc, _, _ := newTestService()
	a, _, _ := svc.Resolve(context.Background(), "0xabcdef0000000000000000000000000000000000")
	b, _, err := svc.Resolve(context.Background(), "0xabcdef1111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Username == b.Username {
		t.Errorf("expected distinct usernames, both %s", a.Username)
	}
	if !strings.HasPrefix(b.Username, "user_abcdef_") {
		t.Errorf("expected suffixed username, got %s", b.Username)
	}
}

func TestResolve_UsernameSuffixTakenUsesFullUID(t *testing.T) {
	svc, repo, _ := newTestService()
	existing := []*Account{
		{ID: uuid.New(), WalletAddress: "0xabcdef0000000000000000000000000000000000", UID: "HID100000001", Username: "user_abcdef"},
		{ID: uuid.New(), WalletAddress: "0xabcdef1111111111111111111111111111111111", UID: "HID100000002", Username: "user_abcdef_6789"},
	}
	for _, a := range existing {
		repo.accounts[a.ID] = a
	}
	svc.uids = &scriptedUIDs{candidates: []string{"HID123456789"}}

	acct, _, err := svc.Resolve(context.Background(), patientWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct.Username != "user_abcdef_HID123456789" {
		t.Errorf("expected full-UID username, got %s", acct.Username)
	}
}

func TestResolve_ManyAccountsUniqueUIDs(t *testing.T) {
	if testing.Short() {
		t.Skip("registers 10000 accounts")
	}
	svc, repo, _ := newTestService()
	const (
		n       = 10000
		workers = 32
	)

	// Every wallet shares the 000000 prefix, so default usernames collide.
	wallets := make(chan string, n)
	for i := 1; i <= n; i++ {
		wallets <- fmt.Sprintf("0x%040x", i)
	}
	close(wallets)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for wallet := range wallets {
				if _, _, err := svc.Resolve(context.Background(), wallet); err != nil {
					t.Errorf("resolve %s: %v", wallet, err)
				}
			}
		}()
	}
	wg.Wait()

	if len(repo.accounts) != n {
		t.Fatalf("expected %d accounts, got %d", n, len(repo.accounts))
	}
	uidFormat := regexp.MustCompile(`^HID\d{9,}$`)
	uids := make(map[string]bool, n)
	names := make(map[string]bool, n)
	for _, a := range repo.accounts {
		if !uidFormat.MatchString(a.UID) {
			t.Errorf("malformed uid %q", a.UID)
		}
		if uids[a.UID] {
			t.Errorf("duplicate uid %s", a.UID)
		}
		if names[a.Username] {
			t.Errorf("duplicate username %s", a.Username)
		}
		uids[a.UID] = true
		names[a.Username] = true
	}
}

func TestResolve_AuditFailureRegistersNothing(t *testing.T) {
	_, repo, rec := newTestService()
	rec.failOn = domain.ActionUserRegistered
	svc := NewService(repo, rollbackTx{repo: repo}, rec, Config{}, nil, zerolog.Nop())

	if _, _, err := svc.Resolve(context.Background(), patientWallet); !apperr.Is(err, apperr.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(repo.accounts) != 0 {
		t.Errorf("expected no account without its ledger entry, got %d", len(repo.accounts))
	}

	rec.failOn = ""
	if _, created, err := svc.Resolve(context.Background(), patientWallet); err != nil || !created {
		t.Errorf("expected registration once the ledger recovers, got created=%v err=%v", created, err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _, rec := newTestService()
	acct, _, _ := svc.Resolve(context.Background(), patientWallet)

	p, err := svc.Authenticate(context.Background(), strings.ToUpper(patientWallet[:2])+patientWallet[2:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.AccountID != acct.ID || p.UID != acct.UID {
		t.Error("expected principal for the registered account")
	}

	_, err = svc.Authenticate(context.Background(), "0x2222222222222222222222222222222222222222")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found for unknown wallet, got %v", err)
	}
	if len(rec.entries) != 1 {
		t.Error("authenticate must never register")
	}
}

func TestFindByUIDOrUsername(t *testing.T) {
	svc, _, _ := newTestService()
	acct, _, _ := svc.Resolve(context.Background(), patientWallet)

	byUID, err := svc.FindByUIDOrUsername(context.Background(), acct.UID)
	if err != nil || byUID.ID != acct.ID {
		t.Errorf("expected lookup by uid, got %v", err)
	}
	byName, err := svc.FindByUIDOrUsername(context.Background(), acct.Username)
	if err != nil || byName.ID != acct.ID {
		t.Errorf("expected lookup by username, got %v", err)
	}
	if _, err := svc.FindByUIDOrUsername(context.Background(), "nobody"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := svc.FindByUIDOrUsername(context.Background(), " "); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func strPtr(s string) *string { return &s }

func TestUpdateInfo(t *testing.T) {
	svc, _, rec := newTestService()
	a, _, _ := svc.Resolve(context.Background(), patientWallet)
	b, _, _ := svc.Resolve(context.Background(), adminWallet)

	updated, err := svc.UpdateInfo(context.Background(), a.Principal(), UpdateInfoInput{Username: strPtr(" alice "), HospitalName: strPtr("St. Mary")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Username != "alice" || updated.HospitalName == nil || *updated.HospitalName != "St. Mary" {
		t.Errorf("unexpected account %+v", updated)
	}
	last := rec.entries[len(rec.entries)-1]
	if last.Action != domain.ActionUserInfoUpdated || last.Metadata["username"] != "alice" {
		t.Errorf("unexpected audit entry %+v", last)
	}

	_, err = svc.UpdateInfo(context.Background(), b.Principal(), UpdateInfoInput{Username: strPtr("alice")})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("expected conflict for taken username, got %v", err)
	}
	if _, err := svc.UpdateInfo(context.Background(), a.Principal(), UpdateInfoInput{Username: strPtr("  ")}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for blank username, got %v", err)
	}
	if _, err := svc.UpdateInfo(context.Background(), a.Principal(), UpdateInfoInput{}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for empty update, got %v", err)
	}
}

func TestSetProfilePicture(t *testing.T) {
	svc, repo, rec := newTestService()
	a, _, _ := svc.Resolve(context.Background(), patientWallet)
	p := a.Principal()

	if err := svc.SetProfilePicture(context.Background(), p, "data:image/png;base64,AAAA"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.accounts[a.ID].ProfilePicture; got == nil || *got != "data:image/png;base64,AAAA" {
		t.Errorf("picture not stored: %v", got)
	}
	if rec.entries[len(rec.entries)-1].Action != domain.ActionProfilePictureUpdated {
		t.Error("expected profile_picture_updated entry")
	}

	if err := svc.SetProfilePicture(context.Background(), p, ""); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for empty picture, got %v", err)
	}
	big := strings.Repeat("a", MaxPictureBytes+1)
	if err := svc.SetProfilePicture(context.Background(), p, big); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for oversized picture, got %v", err)
	}
}

func TestAssignRoleAndMarkVerified(t *testing.T) {
	svc, repo, _ := newTestService()
	a, _, _ := svc.Resolve(context.Background(), patientWallet)

	if err := svc.MarkVerified(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.accounts[a.ID].Status != domain.AccountVerified {
		t.Error("expected verified status")
	}

	updated, err := svc.AssignRole(context.Background(), a.ID, domain.RoleDoctor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Role != domain.RoleDoctor || updated.Status != domain.AccountVerified {
		t.Errorf("expected verified doctor, got %s/%s", updated.Role, updated.Status)
	}
	if _, err := svc.AssignRole(context.Background(), a.ID, "wizard"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for unknown role, got %v", err)
	}
}

func TestAdminSet(t *testing.T) {
	set := NewAdminSet([]string{" 0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA ", "not-a-wallet"})
	if !set.Contains("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa") {
		t.Error("expected normalized admin wallet")
	}
	if len(set.wallets) != 1 {
		t.Errorf("expected malformed entry dropped, got %d entries", len(set.wallets))
	}
}

func TestRandomUIDs(t *testing.T) {
	r := randomUIDs{now: func() time.Time { return time.UnixMilli(1700000000000) }}
	for i := 0; i < 100; i++ {
		c := r.Candidate()
		var n int
		if _, err := fmt.Sscanf(c, "HID%d", &n); err != nil {
			t.Fatalf("bad candidate %q", c)
		}
		if n < uidMin || n > 999999999 {
			t.Errorf("candidate %d out of range", n)
		}
	}
	if fb := r.Fallback(); !strings.HasPrefix(fb, "HID1700000000000") {
		t.Errorf("unexpected fallback %q", fb)
	}
}

var _ auth.Authenticator = (*Service)(nil)
