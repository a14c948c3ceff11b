package projects

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"impact-escrow/escrow-engine/internal/ledger"
	"impact-escrow/escrow-engine/internal/validators"
	"impact-escrow/escrow-engine/pkg/locking"
)

var site = Location{Lat: 14.7167, Lng: -17.4677, Country: "Senegal", Region: "Dakar"}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	engine   *Engine
	repo     Repository
	ledger   *ledger.MemoryLedger
	registry *validators.Registry
	clock    *testClock
}

func newFixture(t require.TestingT) *fixture {
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	locks := locking.NewKeyedMutex()
	registry := validators.NewRegistry(validators.NewMemoryRepository(), locks,
		validators.DefaultRegistryConfig(), nil, zap.NewNop())

	for _, v := range []validators.RegisterRequest{
		{Address: "rHigh1", Name: "Awa", Reputation: 90},
		{Address: "rHigh2", Name: "Kofi", Reputation: 85},
		{Address: "rHigh3", Name: "Lina", Reputation: 80},
		{Address: "rLow", Name: "Sam", Reputation: 60},
	} {
		v.Location = validators.Location{Country: "Senegal", Lat: site.Lat, Lng: site.Lng}
		v.Specialties = []validators.Category{validators.CategoryWater}
		_, err := registry.Register(context.Background(), v)
		require.NoError(t, err)
	}

	mem := ledger.NewMemoryLedger()
	repo := NewMemoryRepository()
	engine := NewEngine(repo, mem, registry, locks, DefaultEngineConfig(), nil, zap.NewNop())
	engine.now = clock.Now

	return &fixture{engine: engine, repo: repo, ledger: mem, registry: registry, clock: clock}
}

func (f *fixture) request() CreateRequest {
	return CreateRequest{
		Title:              "Borehole in Pikine",
		Category:           validators.CategoryWater,
		Location:           site,
		Amount:             5000,
		PhotosRequired:     3,
		ValidatorsRequired: 2,
		Deadline:           f.clock.Now().Add(30 * 24 * time.Hour),
		Validators:         []string{"rHigh1", "rHigh2", "rHigh3", "rLow"},
	}
}

func (f *fixture) create(t *testing.T, mutate ...func(*CreateRequest)) *Project {
	req := f.request()
	for _, m := range mutate {
		m(&req)
	}
	p, err := f.engine.Create(context.Background(), req)
	require.NoError(t, err)
	return p
}

func proofFrom(address string) ProofSubmission {
	return ProofSubmission{
		ValidatorAddress: address,
		PhotoURL:         "https://evidence.example.org/" + address + ".jpg",
		PhotoGPS:         PhotoGPS{Lat: site.Lat, Lng: site.Lng, TakenAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"zero amount", func(r *CreateRequest) { r.Amount = 0 }},
		{"past deadline", func(r *CreateRequest) { r.Deadline = f.clock.Now().Add(-time.Hour) }},
		{"no validators required", func(r *CreateRequest) { r.ValidatorsRequired = 0 }},
		{"unknown category", func(r *CreateRequest) { r.Category = "Mining" }},
		{"empty title", func(r *CreateRequest) { r.Title = "  " }},
		{"zero fence radius", func(r *CreateRequest) { r.GeoFence = &GeoFence{Lat: site.Lat, Lng: site.Lng} }},
		{"unknown urgency", func(r *CreateRequest) { r.Urgency = "NOW" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request()
			tt.mutate(&req)
			_, err := f.engine.Create(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
	assert.Equal(t, 0, f.ledger.Calls("create"))
}

func TestCreateHoldsFunds(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)

	assert.Equal(t, StatusPending, p.Status)
	require.NotNil(t, p.Hold)
	assert.Equal(t, 5000.0, p.Hold.Amount)
	assert.Equal(t, p.Conditions.Deadline, p.Hold.FinishAfter)
	assert.Equal(t, p.Conditions.Deadline.Add(7*24*time.Hour), p.Hold.CancelAfter)
	assert.Equal(t, 1, f.ledger.Calls("create"))
}

func TestCreateLedgerFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.ledger.FailNext("create", ledger.ErrUnavailable)

	_, err := f.engine.Create(context.Background(), f.request())
	assert.ErrorIs(t, err, ErrLedgerUnavailable)

	all, err := f.engine.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateLedgerTimeout(t *testing.T) {
	f := newFixture(t)
	f.engine.ledger = ledger.WithTimeout(f.ledger, 10*time.Millisecond)
	f.ledger.SetDelay(time.Second)

	_, err := f.engine.Create(context.Background(), f.request())
	assert.ErrorIs(t, err, ErrLedgerTimeout)
}

func TestProofsReleaseFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t)

	p, err := f.engine.AddProof(ctx, p.ID, proofFrom("rLow"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, 1, p.Conditions.PhotosReceived)
	assert.Equal(t, 0, p.Conditions.ValidatorsApproved)

	p, err = f.engine.AddProof(ctx, p.ID, proofFrom("rHigh1"))
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Equal(t, 1, p.Conditions.ValidatorsApproved)

	p, err = f.engine.AddProof(ctx, p.ID, proofFrom("rHigh2"))
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, p.Status)
	assert.Equal(t, 3, p.Conditions.PhotosReceived)
	assert.Equal(t, 2, p.Conditions.ValidatorsApproved)
	require.NotNil(t, p.FundedAt)
	assert.Equal(t, f.clock.Now(), *p.FundedAt)
	assert.NotEmpty(t, p.ReleaseTx)
	assert.Equal(t, OpNone, p.PendingOp)
	assert.Equal(t, 1, f.ledger.Calls("finish"))

	v, err := f.registry.Get(ctx, "rHigh1")
	require.NoError(t, err)
	assert.Equal(t, 95.0, v.Reputation)
	assert.Equal(t, 1, v.ValidationsAccepted)
}

func TestProofSnapshotsReputationAndDigest(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)

	p, err := f.engine.AddProof(context.Background(), p.ID, proofFrom("rHigh3"))
	require.NoError(t, err)
	require.Len(t, p.Proofs, 1)

	proof := p.Proofs[0]
	assert.Equal(t, 80.0, proof.ValidatorReputation)
	assert.Equal(t, "Lina", proof.ValidatorName)
	assert.Len(t, proof.Digest, 64)
	assert.Equal(t, proofDigest(p.ID, proofFrom("rHigh3")), proof.Digest)
	assert.Equal(t, 1, p.Conditions.ValidatorsApproved)
}

func TestProofRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, func(r *CreateRequest) {
		r.GeoFence = &GeoFence{Lat: site.Lat, Lng: site.Lng, RadiusMeters: 100}
	})

	_, err := f.engine.AddProof(ctx, p.ID, proofFrom("rHigh1"))
	require.NoError(t, err)

	_, err = f.engine.AddProof(ctx, p.ID, proofFrom("rHigh1"))
	assert.ErrorIs(t, err, ErrDuplicateProof)

	_, err = f.engine.AddProof(ctx, p.ID, proofFrom("rStranger"))
	assert.ErrorIs(t, err, ErrUnauthorizedValidator)

	far := proofFrom("rLow")
	far.PhotoGPS.Lat += 0.01 // roughly 1.1km north
	_, err = f.engine.AddProof(ctx, p.ID, far)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = f.engine.AddProof(ctx, "missing", proofFrom("rLow"))
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.engine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Conditions.PhotosReceived)
	assert.Len(t, got.Proofs, 1)
	assert.Equal(t, StatusInProgress, got.Status)

	low, err := f.registry.Get(ctx, "rLow")
	require.NoError(t, err)
	assert.Equal(t, 50.0, low.Reputation)
	assert.Equal(t, 1, low.ValidationsRejected)
}

func TestProofInsideFenceBoundary(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, func(r *CreateRequest) {
		r.GeoFence = &GeoFence{Lat: site.Lat, Lng: site.Lng, RadiusMeters: 2000}
	})

	near := proofFrom("rHigh1")
	near.PhotoGPS.Lat += 0.01
	_, err := f.engine.AddProof(context.Background(), p.ID, near)
	assert.NoError(t, err)
}

func TestInvalidProofInput(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)

	bad := proofFrom("rHigh1")
	bad.PhotoGPS.Lat = 91
	_, err := f.engine.AddProof(context.Background(), p.ID, bad)
	assert.ErrorIs(t, err, ErrInvalidProof)

	_, err = f.engine.AddProof(context.Background(), p.ID, ProofSubmission{ValidatorAddress: "rHigh1"})
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestDeadlineAlertAndClawback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t)

	_, err := f.engine.AddProof(ctx, p.ID, proofFrom("rHigh1"))
	require.NoError(t, err)

	_, err = f.engine.Clawback(ctx, p.ID)
	assert.ErrorIs(t, err, ErrClawbackTooEarly)

	p, err = f.engine.EvaluateDeadline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, p.Status)

	f.clock.Advance(31 * 24 * time.Hour)

	_, err = f.engine.Clawback(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotAlerted)

	p, err = f.engine.EvaluateDeadline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAlert, p.Status)
	require.NotNil(t, p.AlertedAt)
	assert.Equal(t, 0, f.ledger.Calls("cancel"))

	p, err = f.engine.Clawback(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, p.Status)
	require.NotNil(t, p.CancelledAt)
	assert.Equal(t, 1, f.ledger.Calls("cancel"))

	_, err = f.engine.Clawback(ctx, p.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, 1, f.ledger.Calls("cancel"))
}

func TestProofDuringAlertIsRecordedWithoutRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, func(r *CreateRequest) { r.PhotosRequired = 1; r.ValidatorsRequired = 1 })

	f.clock.Advance(31 * 24 * time.Hour)
	_, err := f.engine.EvaluateDeadline(ctx, p.ID)
	require.NoError(t, err)

	p, err = f.engine.AddProof(ctx, p.ID, proofFrom("rHigh1"))
	require.NoError(t, err)
	assert.Equal(t, StatusAlert, p.Status)
	assert.Equal(t, 1, p.Conditions.PhotosReceived)
	assert.Equal(t, 0, f.ledger.Calls("finish"))
}

func TestTerminalProjectIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, func(r *CreateRequest) { r.PhotosRequired = 1; r.ValidatorsRequired = 1 })

	p, err := f.engine.AddProof(ctx, p.ID, proofFrom("rHigh1"))
	require.NoError(t, err)
	require.Equal(t, StatusFunded, p.Status)

	_, err = f.engine.AddProof(ctx, p.ID, proofFrom("rHigh2"))
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	_, err = f.engine.Release(ctx, p.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	f.clock.Advance(60 * 24 * time.Hour)
	_, err = f.engine.EvaluateDeadline(ctx, p.ID)
	assert.NoError(t, err)
	_, err = f.engine.Clawback(ctx, p.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	got, err := f.engine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, got.Status)
	assert.Equal(t, 1, got.Conditions.PhotosReceived)
	assert.Equal(t, 1, f.ledger.Calls("finish"))
	assert.Equal(t, 0, f.ledger.Calls("cancel"))
}

func TestClawbackBeforeDeadlineIsTooEarlyEvenWhenSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, func(r *CreateRequest) { r.PhotosRequired = 1; r.ValidatorsRequired = 1 })

	p, err := f.engine.AddProof(ctx, p.ID, proofFrom("rHigh1"))
	require.NoError(t, err)
	require.Equal(t, StatusFunded, p.Status)
	require.True(t, f.clock.Now().Before(p.Conditions.Deadline))

	p, err = f.engine.Clawback(ctx, p.ID)
	assert.ErrorIs(t, err, ErrClawbackTooEarly)
	assert.NotErrorIs(t, err, ErrAlreadyTerminal)
	require.NotNil(t, p)
	assert.Equal(t, StatusFunded, p.Status)
	assert.Equal(t, 0, f.ledger.Calls("cancel"))
}

func TestReleaseFailureKeepsProofAndRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, func(r *CreateRequest) { r.PhotosRequired = 2; r.ValidatorsRequired = 2 })

	_, err := f.engine.AddProof(ctx, p.ID, proofFrom("rHigh1"))
	require.NoError(t, err)

	f.ledger.FailNext("finish", ledger.ErrUnavailable)
	p, err = f.engine.AddProof(ctx, p.ID, proofFrom("rHigh2"))
	assert.ErrorIs(t, err, ErrReleaseFailed)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	require.NotNil(t, p)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Equal(t, 2, p.Conditions.PhotosReceived)
	assert.Equal(t, OpNone, p.PendingOp)
	require.NotNil(t, p.ConditionsMet)

	// conditions were met in time, so the missed deadline does not alert
	f.clock.Advance(31 * 24 * time.Hour)
	p, err = f.engine.EvaluateDeadline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, p.Status)

	p, err = f.engine.Release(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, p.Status)
	assert.Equal(t, 2, f.ledger.Calls("finish"))
}

func TestReleaseTreatsSettledHoldAsSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, func(r *CreateRequest) { r.PhotosRequired = 1; r.ValidatorsRequired = 1 })

	f.ledger.FailNext("finish", ledger.ErrTimeout)
	p, err := f.engine.AddProof(ctx, p.ID, proofFrom("rHigh1"))
	require.ErrorIs(t, err, ErrLedgerTimeout)

	// the timed-out call actually landed
	_, err = f.ledger.FinishHold(ctx, *p.Hold)
	require.NoError(t, err)

	p, err = f.engine.Release(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, p.Status)
	assert.Empty(t, p.ReleaseTx)
}

func TestReleaseRequiresConditions(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)

	_, err := f.engine.Release(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrConditionsNotMet)
	assert.Equal(t, 0, f.ledger.Calls("finish"))
}

func TestClawbackLosesToReleaseInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, func(r *CreateRequest) { r.PhotosRequired = 1; r.ValidatorsRequired = 1 })

	f.ledger.SetDelay(200 * time.Millisecond)
	done := make(chan *Project, 1)
	go func() {
		released, err := f.engine.AddProof(ctx, p.ID, proofFrom("rHigh1"))
		assert.NoError(t, err)
		done <- released
	}()

	require.Eventually(t, func() bool {
		got, err := f.engine.Get(ctx, p.ID)
		return err == nil && got.PendingOp == OpRelease
	}, time.Second, 5*time.Millisecond)

	_, err := f.engine.Clawback(ctx, p.ID)
	assert.ErrorIs(t, err, ErrClawbackTooEarly)
	_, err = f.engine.Release(ctx, p.ID)
	assert.ErrorIs(t, err, ErrOperationInProgress)

	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.engine.Clawback(ctx, p.ID)
	assert.ErrorIs(t, err, ErrOperationInProgress)

	released := <-done
	assert.Equal(t, StatusFunded, released.Status)
	assert.Equal(t, 1, f.ledger.Calls("finish"))
	assert.Equal(t, 0, f.ledger.Calls("cancel"))
}

func TestStaleSettlementMarkerIsTakenOver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, func(r *CreateRequest) { r.PhotosRequired = 1; r.ValidatorsRequired = 1 })

	p.Proofs = []ValidationProof{{ValidatorAddress: "rHigh1", ValidatorReputation: 90}}
	p.Conditions.PhotosReceived = 1
	p.Conditions.ValidatorsApproved = 1
	since := f.clock.Now()
	p.ConditionsMet = &since
	p.PendingOp = OpRelease
	p.PendingSince = &since
	require.NoError(t, f.repo.Save(ctx, p))

	_, err := f.engine.Release(ctx, p.ID)
	assert.ErrorIs(t, err, ErrOperationInProgress)

	f.clock.Advance(5 * time.Minute)
	p, err = f.engine.Release(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, p.Status)
	assert.Equal(t, OpNone, p.PendingOp)
}

func TestConcurrentProofsReleaseOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	addresses := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		addr := "rCrowd" + string(rune('A'+i))
		_, err := f.registry.Register(ctx, validators.RegisterRequest{
			Address:    addr,
			Name:       addr,
			Reputation: 90,
			Location:   validators.Location{Lat: site.Lat, Lng: site.Lng},
		})
		require.NoError(t, err)
		addresses = append(addresses, addr)
	}
	p := f.create(t, func(r *CreateRequest) {
		r.PhotosRequired = 10
		r.ValidatorsRequired = 10
		r.Validators = addresses
	})

	var wg sync.WaitGroup
	for _, addr := range addresses {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			_, err := f.engine.AddProof(ctx, p.ID, proofFrom(addr))
			assert.NoError(t, err)
		}(addr)
	}
	wg.Wait()

	got, err := f.engine.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, got.Status)
	assert.Equal(t, 10, got.Conditions.PhotosReceived)
	assert.Equal(t, 1, f.ledger.Calls("finish"))
}

type stubRecruiter struct {
	addresses []string
	err       error
}

func (s *stubRecruiter) Recruit(ctx context.Context, p *Project) ([]string, error) {
	return s.addresses, s.err
}

func TestCreateRecruitsValidators(t *testing.T) {
	f := newFixture(t)
	f.engine.SetRecruiter(&stubRecruiter{addresses: []string{"rHigh2", "rHigh1", "rHigh2"}})

	p := f.create(t, func(r *CreateRequest) { r.Validators = nil })
	assert.Equal(t, []string{"rHigh2", "rHigh1"}, p.Validators)

	got, err := f.engine.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Validators, got.Validators)
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Archive(ctx context.Context, p *Project) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func TestTerminalProjectsAreArchived(t *testing.T) {
	f := newFixture(t)
	archiver := new(MockArchiver)
	archiver.On("Archive", mock.Anything, mock.MatchedBy(func(p *Project) bool {
		return p.Status == StatusFunded
	})).Return(nil).Once()
	f.engine.SetArchiver(archiver)

	p := f.create(t, func(r *CreateRequest) { r.PhotosRequired = 1; r.ValidatorsRequired = 1 })
	_, err := f.engine.AddProof(context.Background(), p.ID, proofFrom("rHigh1"))
	require.NoError(t, err)

	archiver.AssertExpectations(t)
}

func TestStatsAndMap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	funded := f.create(t, func(r *CreateRequest) { r.PhotosRequired = 1; r.ValidatorsRequired = 1 })
	_, err := f.engine.AddProof(ctx, funded.ID, proofFrom("rHigh1"))
	require.NoError(t, err)
	f.create(t, func(r *CreateRequest) { r.Category = validators.CategoryHealth; r.Amount = 1500 })

	stats, err := f.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[StatusFunded])
	assert.Equal(t, 1, stats.ByStatus[StatusPending])
	assert.Equal(t, 1, stats.ByCategory[validators.CategoryHealth])
	assert.Equal(t, 6500.0, stats.TotalAmount)
	assert.Equal(t, 5000.0, stats.TotalDeployed)

	fc, err := f.engine.Map(ctx)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "green", fc.Features[0].Properties["pin_color"])
	assert.Equal(t, "yellow", fc.Features[1].Properties["pin_color"])
	assert.Equal(t, 30, fc.Features[1].Properties["days_remaining"])
}

func TestDaysRemainingAndOverdue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &Project{Conditions: Conditions{Deadline: now.Add(36 * time.Hour)}}

	assert.Equal(t, 2, p.DaysRemaining(now))
	assert.Equal(t, 0, p.DaysOverdue(now))
	assert.Equal(t, 0, p.DaysRemaining(now.Add(72*time.Hour)))
	assert.Equal(t, 1, p.DaysOverdue(now.Add(72*time.Hour)))
}
