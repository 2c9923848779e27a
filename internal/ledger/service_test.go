package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/haulpoints/backend/internal/actor"
	"github.com/haulpoints/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory Store with transaction staging, so commit/rollback semantics
// (both-or-neither) can be exercised without a database.
// ---------------------------------------------------------------------------

type mockStore struct {
	mu         sync.Mutex
	envs       map[string]*models.DriverSponsorEnvironment
	entries    []*models.LedgerEntry
	clock      time.Time
	failInsert bool
}

func envKey(driverID, sponsorID uuid.UUID) string {
	return driverID.String() + "|" + sponsorID.String()
}

func newMockStore(envs ...*models.DriverSponsorEnvironment) *mockStore {
	s := &mockStore{envs: make(map[string]*models.DriverSponsorEnvironment), clock: time.Now()}
	for _, e := range envs {
		cp := *e
		s.envs[envKey(e.DriverID, e.SponsorID)] = &cp
	}
	return s
}

type fakeTx struct {
	pgx.Tx
	store    *mockStore
	balances map[string]int
	entries  []*models.LedgerEntry
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for key, bal := range t.balances {
		t.store.envs[key].Balance = bal
	}
	for _, e := range t.entries {
		t.store.clock = t.store.clock.Add(time.Millisecond)
		e.CreatedAt = t.store.clock
		t.store.entries = append(t.store.entries, e)
	}
	t.balances = nil
	t.entries = nil
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	t.balances = nil
	t.entries = nil
	return nil
}

func (s *mockStore) Begin(_ context.Context) (pgx.Tx, error) {
	return &fakeTx{store: s, balances: make(map[string]int)}, nil
}

func (s *mockStore) GetEnvironment(_ context.Context, driverID, sponsorID uuid.UUID) (*models.DriverSponsorEnvironment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envs[envKey(driverID, sponsorID)]
	if !ok {
		return nil, &NotFoundError{Resource: "driver-sponsor environment", ID: driverID.String()}
	}
	cp := *env
	return &cp, nil
}

func (s *mockStore) ApplyBalanceDelta(_ context.Context, tx pgx.Tx, driverID, sponsorID uuid.UUID, delta int) (int, int, error) {
	ft := tx.(*fakeTx)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := envKey(driverID, sponsorID)
	env, ok := s.envs[key]
	if !ok {
		return 0, 0, &NotFoundError{Resource: "driver-sponsor environment", ID: driverID.String()}
	}
	prev := env.Balance
	if staged, ok := ft.balances[key]; ok {
		prev = staged
	}
	now := prev + delta
	if now < 0 {
		now = 0
	}
	ft.balances[key] = now
	return prev, now, nil
}

func (s *mockStore) InsertEntry(_ context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	if s.failInsert {
		return errors.New("insert failed")
	}
	ft := tx.(*fakeTx)
	cp := *e
	ft.entries = append(ft.entries, &cp)
	return nil
}

func (s *mockStore) GetEntry(_ context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, &NotFoundError{Resource: "ledger entry", ID: id.String()}
}

func (s *mockStore) ListEntries(_ context.Context, driverID, sponsorID uuid.UUID) ([]*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range s.entries {
		if e.DriverID == driverID && e.SponsorID == sponsorID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *mockStore) balance(driverID, sponsorID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.envs[envKey(driverID, sponsorID)].Balance
}

// ---

type fixedPolicy struct {
	min, max int
	err      error
}

func (p fixedPolicy) GetThresholds(_ context.Context, _ uuid.UUID) (Thresholds, error) {
	if p.err != nil {
		return Thresholds{}, p.err
	}
	return Thresholds{Min: p.min, Max: p.max}, nil
}

type rolesMap map[uuid.UUID]models.Role

func (m rolesMap) RoleOf(_ context.Context, id uuid.UUID) (models.Role, error) {
	role, ok := m[id]
	if !ok {
		return models.RoleUnknown, errors.New("account not found")
	}
	return role, nil
}

type recordedNotification struct {
	kind      string
	driverID  uuid.UUID
	delta     int
	balance   int
	threshold int
}

type recordingFanout struct {
	mu    sync.Mutex
	sent  []recordedNotification
	fail  bool
}

func (f *recordingFanout) NotifyPointsChanged(_ context.Context, driverID uuid.UUID, delta int, _ string, balanceAfter int, _ uuid.UUID) error {
	if f.fail {
		return errors.New("smtp down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recordedNotification{kind: "points_changed", driverID: driverID, delta: delta, balance: balanceAfter})
	return nil
}

func (f *recordingFanout) NotifyLowBalance(_ context.Context, driverID uuid.UUID, balance, threshold int) error {
	if f.fail {
		return errors.New("smtp down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recordedNotification{kind: "low_balance", driverID: driverID, balance: balance, threshold: threshold})
	return nil
}

func (f *recordingFanout) NotifyDisputeResolved(_ context.Context, driverID uuid.UUID, outcome, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recordedNotification{kind: "dispute_" + outcome, driverID: driverID})
	return nil
}

func (f *recordingFanout) byKind(kind string) []recordedNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedNotification
	for _, n := range f.sent {
		if n.kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func testEnv(driverID, sponsorID uuid.UUID, balance int, lowThreshold *int) *models.DriverSponsorEnvironment {
	return &models.DriverSponsorEnvironment{
		ID:                  uuid.New(),
		DriverID:            driverID,
		SponsorID:           sponsorID,
		Balance:             balance,
		Status:              models.MembershipActive,
		LowBalanceThreshold: lowThreshold,
	}
}

type fixture struct {
	svc     Service
	store   *mockStore
	fanout  *recordingFanout
	sponsor *models.Account
}

func newFixture(t *testing.T, policy PolicyProvider, envs ...*models.DriverSponsorEnvironment) *fixture {
	t.Helper()
	store := newMockStore(envs...)
	fanout := &recordingFanout{}
	sponsor := &models.Account{ID: uuid.New(), Email: "s@example.com", Name: "Sponsor Inc", Role: models.RoleSponsor}
	roles := rolesMap{sponsor.ID: models.RoleSponsor}
	svc := NewService(store, policy, actor.NewResolver(roles), fanout, nil)
	return &fixture{svc: svc, store: store, fanout: fanout, sponsor: sponsor}
}

func intPtr(n int) *int { return &n }

// ---------------------------------------------------------------------------
// ApplyDelta
// ---------------------------------------------------------------------------

func TestApplyDelta_CreditAppendsAuditRow(t *testing.T) {
	driver, sponsorOrg := uuid.New(), uuid.New()
	f := newFixture(t, fixedPolicy{min: 1, max: 1000}, testEnv(driver, sponsorOrg, 100, nil))

	entry, err := f.svc.ApplyDelta(context.Background(), driver, sponsorOrg, 50, "safe driving bonus", f.sponsor, actor.ImpersonationContext{})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if got := f.store.balance(driver, sponsorOrg); got != 150 {
		t.Errorf("balance: got %d, want 150", got)
	}
	if entry.Delta != 50 || entry.BalanceAfter != 150 {
		t.Errorf("entry delta/balance: got %d/%d, want 50/150", entry.Delta, entry.BalanceAfter)
	}
	if entry.Attribution.ActorRoleCode != models.RoleSponsor {
		t.Errorf("actor role: got %s, want SPONSOR", entry.Attribution.ActorRoleCode)
	}
	if entry.InitiatedBy == nil || *entry.InitiatedBy != f.sponsor.ID {
		t.Error("entry should record the initiating account")
	}
	if n := len(f.fanout.byKind("points_changed")); n != 1 {
		t.Errorf("points_changed notifications: got %d, want 1", n)
	}
}

func TestApplyDelta_ThresholdEnforcement(t *testing.T) {
	driver, sponsorOrg := uuid.New(), uuid.New()
	f := newFixture(t, fixedPolicy{min: 1, max: 1000}, testEnv(driver, sponsorOrg, 100, nil))

	_, err := f.svc.ApplyDelta(context.Background(), driver, sponsorOrg, 5000, "x", f.sponsor, actor.ImpersonationContext{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got: %v", err)
	}
	if got := f.store.balance(driver, sponsorOrg); got != 100 {
		t.Errorf("balance must be unchanged: got %d, want 100", got)
	}
	if len(f.store.entries) != 0 {
		t.Error("no ledger entry may be written on validation failure")
	}
	if len(f.fanout.sent) != 0 {
		t.Error("no notification may be sent on validation failure")
	}
}

func TestApplyDelta_MinThresholdAndZeroDelta(t *testing.T) {
	driver, sponsorOrg := uuid.New(), uuid.New()
	f := newFixture(t, fixedPolicy{min: 10, max: 1000}, testEnv(driver, sponsorOrg, 100, nil))

	var verr *ValidationError
	if _, err := f.svc.ApplyDelta(context.Background(), driver, sponsorOrg, 5, "x", f.sponsor, actor.ImpersonationContext{}); !errors.As(err, &verr) {
		t.Errorf("delta below min: expected ValidationError, got %v", err)
	}
	if _, err := f.svc.ApplyDelta(context.Background(), driver, sponsorOrg, 0, "x", f.sponsor, actor.ImpersonationContext{}); !errors.As(err, &verr) {
		t.Errorf("zero delta: expected ValidationError, got %v", err)
	}
}

func TestApplyDelta_MissingEnvironment(t *testing.T) {
	f := newFixture(t, fixedPolicy{min: 1, max: 1000})

	_, err := f.svc.ApplyDelta(context.Background(), uuid.New(), uuid.New(), 10, "x", f.sponsor, actor.ImpersonationContext{})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got: %v", err)
	}
}

// Over-deductions clamp the balance at zero. The entry keeps the
// requested delta and the reason records the shortfall.
func TestApplyDelta_ClampAtZero(t *testing.T) {
	driver, sponsorOrg := uuid.New(), uuid.New()
	f := newFixture(t, fixedPolicy{min: 1, max: 1000}, testEnv(driver, sponsorOrg, 30, nil))

	entry, err := f.svc.ApplyDelta(context.Background(), driver, sponsorOrg, -40, "damage fee", f.sponsor, actor.ImpersonationContext{})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if got := f.store.balance(driver, sponsorOrg); got != 0 {
		t.Errorf("balance: got %d, want 0", got)
	}
	if entry.Delta != -40 {
		t.Errorf("entry keeps the requested delta: got %d, want -40", entry.Delta)
	}
	if entry.BalanceAfter != 0 {
		t.Errorf("balance after: got %d, want 0", entry.BalanceAfter)
	}
	if !strings.Contains(entry.Reason, "clamped at zero") || !strings.Contains(entry.Reason, "30 of 40") {
		t.Errorf("reason should record the shortfall: %q", entry.Reason)
	}
}

func TestApplyDelta_LowBalanceAlertOnCrossing(t *testing.T) {
	driver, sponsorOrg := uuid.New(), uuid.New()
	f := newFixture(t, fixedPolicy{min: 1, max: 1000}, testEnv(driver, sponsorOrg, 60, intPtr(50)))
	ctx := context.Background()

	// 60 -> 40 crosses the threshold: one alert.
	if _, err := f.svc.ApplyDelta(ctx, driver, sponsorOrg, -20, "fee", f.sponsor, actor.ImpersonationContext{}); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	alerts := f.fanout.byKind("low_balance")
	if len(alerts) != 1 {
		t.Fatalf("low_balance alerts: got %d, want 1", len(alerts))
	}
	if alerts[0].balance != 40 || alerts[0].threshold != 50 {
		t.Errorf("alert payload: got balance=%d threshold=%d, want 40/50", alerts[0].balance, alerts[0].threshold)
	}

	// 40 -> 20 is already below: no second alert.
	if _, err := f.svc.ApplyDelta(ctx, driver, sponsorOrg, -20, "fee", f.sponsor, actor.ImpersonationContext{}); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if n := len(f.fanout.byKind("low_balance")); n != 1 {
		t.Errorf("low_balance alerts after second debit: got %d, want 1", n)
	}

	// Credits never alert.
	if _, err := f.svc.ApplyDelta(ctx, driver, sponsorOrg, 5, "bonus", f.sponsor, actor.ImpersonationContext{}); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if n := len(f.fanout.byKind("low_balance")); n != 1 {
		t.Errorf("low_balance alerts after credit: got %d, want 1", n)
	}
}

func TestApplyDelta_NotificationFailureDoesNotFailMutation(t *testing.T) {
	driver, sponsorOrg := uuid.New(), uuid.New()
	f := newFixture(t, fixedPolicy{min: 1, max: 1000}, testEnv(driver, sponsorOrg, 100, nil))
	f.fanout.fail = true

	entry, err := f.svc.ApplyDelta(context.Background(), driver, sponsorOrg, 25, "bonus", f.sponsor, actor.ImpersonationContext{})
	if err != nil {
		t.Fatalf("notification failure must not fail the mutation: %v", err)
	}
	if entry == nil || f.store.balance(driver, sponsorOrg) != 125 {
		t.Error("mutation should have committed despite notification failure")
	}
}

func TestApplyDelta_InsertFailureRollsBackBalance(t *testing.T) {
	driver, sponsorOrg := uuid.New(), uuid.New()
	f := newFixture(t, fixedPolicy{min: 1, max: 1000}, testEnv(driver, sponsorOrg, 100, nil))
	f.store.failInsert = true

	_, err := f.svc.ApplyDelta(context.Background(), driver, sponsorOrg, 25, "bonus", f.sponsor, actor.ImpersonationContext{})
	if err == nil {
		t.Fatal("expected error when entry insert fails")
	}
	if got := f.store.balance(driver, sponsorOrg); got != 100 {
		t.Errorf("balance must roll back with the failed entry: got %d, want 100", got)
	}
	if len(f.fanout.sent) != 0 {
		t.Error("no notification may be sent for a rolled-back mutation")
	}
}

// ---------------------------------------------------------------------------
// Reversal
// ---------------------------------------------------------------------------

func TestReverseDebit_RestoresBalance(t *testing.T) {
	driver, sponsorOrg := uuid.New(), uuid.New()
	f := newFixture(t, fixedPolicy{min: 1, max: 1000}, testEnv(driver, sponsorOrg, 100, nil))
	ctx := context.Background()

	debit, err := f.svc.ApplyDelta(ctx, driver, sponsorOrg, -40, "late delivery", f.sponsor, actor.ImpersonationContext{})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if got := f.store.balance(driver, sponsorOrg); got != 60 {
		t.Fatalf("balance after debit: got %d, want 60", got)
	}

	rev, err := f.svc.ReverseDebit(ctx, debit.ID, f.sponsor, actor.ImpersonationContext{})
	if err != nil {
		t.Fatalf("ReverseDebit: %v", err)
	}
	if rev == nil {
		t.Fatal("expected a reversal entry")
	}
	if got := f.store.balance(driver, sponsorOrg); got != 100 {
		t.Errorf("balance after reversal: got %d, want 100", got)
	}
	if rev.Delta != 40 {
		t.Errorf("reversal delta: got %d, want 40", rev.Delta)
	}
	if !strings.Contains(rev.Reason, "Reversal of entry") || !strings.Contains(rev.Reason, debit.ID.String()) {
		t.Errorf("reversal reason should reference the original entry: %q", rev.Reason)
	}
}

func TestReverseDebit_NoOpOnCredit(t *testing.T) {
	driver, sponsorOrg := uuid.New(), uuid.New()
	f := newFixture(t, fixedPolicy{min: 1, max: 1000}, testEnv(driver, sponsorOrg, 100, nil))
	ctx := context.Background()

	credit, err := f.svc.ApplyDelta(ctx, driver, sponsorOrg, 40, "bonus", f.sponsor, actor.ImpersonationContext{})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	rev, err := f.svc.ReverseDebit(ctx, credit.ID, f.sponsor, actor.ImpersonationContext{})
	if err != nil {
		t.Fatalf("ReverseDebit: %v", err)
	}
	if rev != nil {
		t.Error("reversing a credit must be a no-op")
	}
	if got := f.store.balance(driver, sponsorOrg); got != 140 {
		t.Errorf("balance: got %d, want 140", got)
	}
}

// ---------------------------------------------------------------------------
// Bulk
// ---------------------------------------------------------------------------

func TestApplyDeltaToMany_PartialSuccess(t *testing.T) {
	sponsorOrg := uuid.New()
	d1, d2, d3 := uuid.New(), uuid.New(), uuid.New()
	// d2 has no environment with this sponsor.
	f := newFixture(t, fixedPolicy{min: 1, max: 1000},
		testEnv(d1, sponsorOrg, 10, nil),
		testEnv(d3, sponsorOrg, 20, nil),
	)

	results := f.svc.ApplyDeltaToMany(context.Background(), []uuid.UUID{d1, d2, d3}, sponsorOrg, 15, "quarterly bonus", f.sponsor, actor.ImpersonationContext{})
	if len(results) != 3 {
		t.Fatalf("results: got %d, want 3", len(results))
	}
	if results[0].Err != nil || results[0].Entry == nil {
		t.Errorf("driver 1 should succeed: %v", results[0].Err)
	}
	var nf *NotFoundError
	if !errors.As(results[1].Err, &nf) {
		t.Errorf("driver 2 should fail with NotFoundError: %v", results[1].Err)
	}
	if results[2].Err != nil || results[2].Entry == nil {
		t.Errorf("driver 3 must not be blocked by driver 2's failure: %v", results[2].Err)
	}
	if f.store.balance(d1, sponsorOrg) != 25 || f.store.balance(d3, sponsorOrg) != 35 {
		t.Error("successful drivers should have their balances applied")
	}
}

// ---------------------------------------------------------------------------
// Invariant: replaying the ledger reproduces the stored balance.
// ---------------------------------------------------------------------------

func TestBalanceMatchesLedgerReplay(t *testing.T) {
	driver, sponsorOrg := uuid.New(), uuid.New()
	f := newFixture(t, fixedPolicy{min: 1, max: 1000}, testEnv(driver, sponsorOrg, 0, nil))
	ctx := context.Background()

	deltas := []int{120, -50, -90, 200, -10} // -90 clamps at zero
	for _, d := range deltas {
		if _, err := f.svc.ApplyDelta(ctx, driver, sponsorOrg, d, "step", f.sponsor, actor.ImpersonationContext{}); err != nil {
			t.Fatalf("ApplyDelta(%d): %v", d, err)
		}
	}

	entries, err := f.svc.History(ctx, driver, sponsorOrg)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	replayed := 0
	for _, e := range entries {
		replayed += e.Delta
		if replayed < 0 {
			replayed = 0
		}
		if e.BalanceAfter != replayed {
			t.Errorf("entry %s: balance_after %d, replay says %d", e.ID, e.BalanceAfter, replayed)
		}
	}
	if got := f.store.balance(driver, sponsorOrg); got != replayed {
		t.Errorf("stored balance %d does not match ledger replay %d", got, replayed)
	}
}
