package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/varanames/registrar-client/interfaces"
	"github.com/varanames/registrar-client/ledger/simledger"
	"github.com/varanames/registrar-client/registry"
	"github.com/varanames/registrar-client/signer"
)

var testProgram = common.HexToAddress("0x000000000000000000000000000000000000a11c")

const (
	minCommitAge = 60_000
	maxCommitAge = 86_400_000
	oneYear      = interfaces.LedgerSpan(365 * 24 * 60 * 60 * 1000)
	millis       = interfaces.TimeUnit(time.Millisecond)
)

// countingWriter counts register submissions reaching the registrar.
type countingWriter struct {
	interfaces.RegistrarWriter
	registers atomic.Int32
}

func (w *countingWriter) Register(ctx context.Context, req *interfaces.RegisterArgs) (interfaces.TxOutcome, error) {
	w.registers.Add(1)
	return w.RegistrarWriter.Register(ctx, req)
}

type testEnv struct {
	clock  *clock.Mock
	client *registry.OnchainRegistrarClient
	writer *countingWriter
	orch   *Orchestrator
	owner  interfaces.OwnerID
}

func setupTestEnv(t *testing.T, attemptTimeout time.Duration) *testEnv {
	t.Helper()
	user, err := signer.Generate()
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	ledger, err := simledger.New(&simledger.Config{
		Program:  testProgram,
		TimeUnit: millis,
		Clock:    clk,
		Params: simledger.Params{
			BasePrice:    big.NewInt(2),
			PremiumPrice: big.NewInt(3),
			MinCommitAge: minCommitAge,
			MaxCommitAge: maxCommitAge,
			GracePeriod:  1000,
		},
	})
	require.NoError(t, err)

	client, err := registry.NewOnchainRegistrarClient(slog.Default(), ledger, testProgram)
	require.NoError(t, err)
	client.SetSigner(user)

	writer := &countingWriter{RegistrarWriter: client}
	orch, err := New(slog.Default(), writer, Config{
		TimeUnit:       millis,
		MinCommitAge:   minCommitAge,
		MaxCommitAge:   maxCommitAge,
		AttemptTimeout: attemptTimeout,
		Clock:          clk,
	})
	require.NoError(t, err)

	return &testEnv{clock: clk, client: client, writer: writer, orch: orch, owner: user.Owner()}
}

func (e *testEnv) request(name string) ClaimRequest {
	return ClaimRequest{Name: interfaces.Name(name), Owner: e.owner, Duration: oneYear}
}

func TestOrchestrator_CommitThenRegister(t *testing.T) {
	env := setupTestEnv(t, 0)
	ctx := context.Background()

	var mu sync.Mutex
	var phases []Phase
	env.orch.OnProgress(func(v IntentView) {
		mu.Lock()
		phases = append(phases, v.Phase)
		mu.Unlock()
	})

	view, err := env.orch.Commit(ctx, env.request("alice"))
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingMinAge, view.Phase)
	require.NotNil(t, view.Commitment)
	require.NotNil(t, view.CommitBlock)
	require.NotNil(t, view.CommittedAt)
	assert.Equal(t, env.clock.Now().Add(time.Minute), *view.RegisterAfter)
	assert.Len(t, env.orch.Active(), 1)

	// Too early: refused locally, intent stays usable.
	_, err = env.orch.Register(ctx, view.ID)
	var timing *interfaces.TimingViolation
	require.ErrorAs(t, err, &timing)
	assert.Equal(t, interfaces.TimingTooEarly, timing.Reason)
	assert.EqualValues(t, 0, env.writer.registers.Load())

	got, ok := env.orch.Get(view.ID)
	require.True(t, ok)
	assert.Equal(t, PhaseAwaitingMinAge, got.Phase)

	env.clock.Add(time.Minute)
	expected := millis.At(env.clock.Now()) + interfaces.LedgerTime(oneYear)

	ev, err := env.orch.Register(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.Name("alice"), ev.Name)
	assert.Equal(t, env.owner, ev.Owner)
	assert.Equal(t, expected, ev.Expires)
	assert.EqualValues(t, 1, env.writer.registers.Load())

	got, ok = env.orch.Get(view.ID)
	require.True(t, ok)
	assert.Equal(t, PhaseSucceeded, got.Phase)
	assert.Equal(t, ev, got.Result)
	assert.Empty(t, env.orch.Active())

	st, err := env.client.Status(ctx, interfaces.Name("alice"))
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusActive, st.Kind)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseIdle, PhaseCommitting, PhaseAwaitingMinAge, PhaseRegistering, PhaseSucceeded}, phases)
}

func TestOrchestrator_ExpiredCommitmentFails(t *testing.T) {
	env := setupTestEnv(t, 0)
	ctx := context.Background()

	view, err := env.orch.Commit(ctx, env.request("bob"))
	require.NoError(t, err)

	env.clock.Add(24*time.Hour + time.Millisecond)

	_, err = env.orch.Register(ctx, view.ID)
	var timing *interfaces.TimingViolation
	require.ErrorAs(t, err, &timing)
	assert.Equal(t, interfaces.TimingExpired, timing.Reason)
	assert.EqualValues(t, 0, env.writer.registers.Load())

	got, _ := env.orch.Get(view.ID)
	assert.Equal(t, PhaseFailed, got.Phase)
	assert.ErrorAs(t, got.Err, &timing)

	_, err = env.orch.Register(ctx, view.ID)
	assert.ErrorIs(t, err, ErrIntentFinished)

	available, err := env.client.Available(ctx, interfaces.Name("bob"), nil)
	require.NoError(t, err)
	assert.True(t, available)
}

func TestOrchestrator_BusyName(t *testing.T) {
	env := setupTestEnv(t, 0)
	ctx := context.Background()

	first, err := env.orch.Commit(ctx, env.request("carol"))
	require.NoError(t, err)

	_, err = env.orch.Commit(ctx, env.request("carol"))
	require.ErrorIs(t, err, interfaces.ErrBusy)
	var conflict *interfaces.ConcurrencyConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.IntentID)

	_, err = env.orch.Commit(ctx, env.request("dave"))
	require.NoError(t, err)

	require.NoError(t, env.orch.Cancel(first.ID))
	_, err = env.orch.Commit(ctx, env.request("carol"))
	assert.NoError(t, err)
}

func TestOrchestrator_WaitAndRegister(t *testing.T) {
	env := setupTestEnv(t, 0)
	ctx := context.Background()

	view, err := env.orch.Commit(ctx, env.request("erin"))
	require.NoError(t, err)

	type result struct {
		ev  *interfaces.NameRegistered
		err error
	}
	done := make(chan result, 1)
	go func() {
		ev, err := env.orch.WaitAndRegister(ctx, view.ID)
		done <- result{ev, err}
	}()

	var res result
	for i := 0; ; i++ {
		require.Less(t, i, 600, "registration never happened")
		select {
		case res = <-done:
		default:
			env.clock.Add(time.Second)
			continue
		}
		break
	}
	require.NoError(t, res.err)
	assert.Equal(t, interfaces.Name("erin"), res.ev.Name)

	got, _ := env.orch.Get(view.ID)
	require.NotNil(t, got.CommittedAt)
	assert.False(t, env.clock.Now().Before(got.CommittedAt.Add(time.Minute)))
	assert.Equal(t, PhaseSucceeded, got.Phase)
}

func TestOrchestrator_CancelWhileWaiting(t *testing.T) {
	env := setupTestEnv(t, 0)
	ctx := context.Background()

	view, err := env.orch.Commit(ctx, env.request("frank"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := env.orch.WaitAndRegister(ctx, view.ID)
		done <- err
	}()

	require.NoError(t, env.orch.Cancel(view.ID))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not return")
	}

	require.Eventually(t, func() bool {
		got, _ := env.orch.Get(view.ID)
		return got.Phase == PhaseFailed
	}, 5*time.Second, 10*time.Millisecond)

	got, _ := env.orch.Get(view.ID)
	assert.ErrorIs(t, got.Err, ErrCancelled)
	assert.EqualValues(t, 0, env.writer.registers.Load())
	assert.ErrorIs(t, env.orch.Cancel(view.ID), ErrIntentFinished)
	assert.ErrorIs(t, env.orch.Cancel("missing"), ErrUnknownIntent)
}

func TestOrchestrator_AttemptTimeout(t *testing.T) {
	env := setupTestEnv(t, 200*time.Millisecond)

	// The mock clock never advances, so the wait can only end by timeout.
	view, err := env.orch.Claim(context.Background(), env.request("grace"))
	require.ErrorIs(t, err, ErrAttemptTimeout)
	assert.Equal(t, PhaseFailed, view.Phase)
	assert.EqualValues(t, 0, env.writer.registers.Load())
	assert.Empty(t, env.orch.Active())
}

func TestOrchestrator_RejectedCommit(t *testing.T) {
	reg := &registry.MockRegistrar{}
	rejected := &interfaces.TransactionRejected{Op: "commit", Phase: "submit", Message: "nonce too low"}
	reg.On("Commit", mock.Anything, mock.Anything).Return(nil, rejected)

	orch, err := New(slog.Default(), reg, Config{TimeUnit: millis, MinCommitAge: 10, MaxCommitAge: 100, Clock: clock.NewMock()})
	require.NoError(t, err)

	view, err := orch.Commit(context.Background(), ClaimRequest{Name: interfaces.Name("heidi"), Duration: 1})
	require.ErrorIs(t, err, rejected)
	assert.Equal(t, PhaseFailed, view.Phase)
	assert.Equal(t, rejected.Error(), view.Error)
	reg.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)

	_, err = orch.Commit(context.Background(), ClaimRequest{Name: interfaces.Name("heidi"), Duration: 1})
	assert.ErrorIs(t, err, rejected)
}

func TestOrchestrator_Validation(t *testing.T) {
	reg := &registry.MockRegistrar{}
	orch, err := New(slog.Default(), reg, Config{TimeUnit: millis, MinCommitAge: 10, MaxCommitAge: 100})
	require.NoError(t, err)

	var verr *interfaces.ValidationError
	_, err = orch.Commit(context.Background(), ClaimRequest{Name: interfaces.Name("a.b"), Duration: 1})
	assert.ErrorAs(t, err, &verr)
	_, err = orch.Commit(context.Background(), ClaimRequest{Name: interfaces.Name("ivan"), Duration: 0})
	assert.ErrorAs(t, err, &verr)
	reg.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)

	_, err = New(slog.Default(), reg, Config{TimeUnit: millis, MinCommitAge: 100, MaxCommitAge: 10})
	assert.ErrorAs(t, err, &verr)
	_, err = New(slog.Default(), reg, Config{MinCommitAge: 1, MaxCommitAge: 10})
	assert.ErrorAs(t, err, &verr)
}

func TestOrchestrator_CommitAgesRefresh(t *testing.T) {
	orch, err := New(slog.Default(), &registry.MockRegistrar{}, Config{TimeUnit: millis, MinCommitAge: 10, MaxCommitAge: 100})
	require.NoError(t, err)

	require.NoError(t, orch.OnCommitAgesSet(context.Background(), &interfaces.CommitAgesSet{Min: 2000, Max: 9000}))
	min, max := orch.CommitAges()
	assert.Equal(t, 2*time.Second, min)
	assert.Equal(t, 9*time.Second, max)

	assert.Error(t, orch.OnCommitAgesSet(context.Background(), &interfaces.CommitAgesSet{Min: 5, Max: 4}))
	min, _ = orch.CommitAges()
	assert.Equal(t, 2*time.Second, min)
}

func TestOrchestrator_AttemptTimeoutWhileAwaiting(t *testing.T) {
	env := setupTestEnv(t, 20*time.Millisecond)
	ctx := context.Background()

	view, err := env.orch.Commit(ctx, env.request("alice"))
	require.NoError(t, err)
	require.Equal(t, PhaseAwaitingMinAge, view.Phase)

	time.Sleep(40 * time.Millisecond)
	env.clock.Add(time.Minute)

	_, err = env.orch.Register(ctx, view.ID)
	require.ErrorIs(t, err, ErrAttemptTimeout)
	assert.EqualValues(t, 0, env.writer.registers.Load())

	got, _ := env.orch.Get(view.ID)
	assert.Equal(t, PhaseFailed, got.Phase)
	assert.ErrorIs(t, got.Err, ErrAttemptTimeout)
	assert.Empty(t, env.orch.Active())

	available, err := env.client.Available(ctx, interfaces.Name("alice"), nil)
	require.NoError(t, err)
	assert.True(t, available)
}

func TestOrchestrator_WaitAfterAttemptTimeout(t *testing.T) {
	env := setupTestEnv(t, 20*time.Millisecond)
	ctx := context.Background()

	view, err := env.orch.Commit(ctx, env.request("bruno"))
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)

	_, err = env.orch.WaitAndRegister(ctx, view.ID)
	require.ErrorIs(t, err, ErrAttemptTimeout)
	assert.EqualValues(t, 0, env.writer.registers.Load())

	got, _ := env.orch.Get(view.ID)
	assert.Equal(t, PhaseFailed, got.Phase)
}

func TestOrchestrator_ExpiryCountsFromLedgerCommitTime(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	writer := &fakeWriter{clock: clk, lag: 5 * time.Second}
	orch, err := New(slog.Default(), writer, Config{
		TimeUnit:     millis,
		MinCommitAge: 10_000,
		MaxCommitAge: 60_000,
		Clock:        clk,
	})
	require.NoError(t, err)

	view, err := orch.Commit(context.Background(), ClaimRequest{Name: interfaces.Name("kate"), Duration: 1})
	require.NoError(t, err)
	require.NotNil(t, view.LedgerCommittedAt)
	assert.Equal(t, 5*time.Second, view.CommittedAt.Sub(*view.LedgerCommittedAt))

	// 58s after local finalization is 63s after the ledger recorded the commit.
	clk.Add(58 * time.Second)
	_, err = orch.Register(context.Background(), view.ID)
	var timing *interfaces.TimingViolation
	require.ErrorAs(t, err, &timing)
	assert.Equal(t, interfaces.TimingExpired, timing.Reason)
	assert.Zero(t, writer.registers)

	got, _ := orch.Get(view.ID)
	assert.Equal(t, PhaseFailed, got.Phase)
}

func TestOrchestrator_MinAgeCountsFromLocalFinalization(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	writer := &fakeWriter{clock: clk, lag: 5 * time.Second}
	orch, err := New(slog.Default(), writer, Config{
		TimeUnit:     millis,
		MinCommitAge: 10_000,
		MaxCommitAge: 60_000,
		Clock:        clk,
	})
	require.NoError(t, err)

	view, err := orch.Commit(context.Background(), ClaimRequest{Name: interfaces.Name("liam"), Duration: 1})
	require.NoError(t, err)

	clk.Add(8 * time.Second)
	_, err = orch.Register(context.Background(), view.ID)
	var timing *interfaces.TimingViolation
	require.ErrorAs(t, err, &timing)
	assert.Equal(t, interfaces.TimingTooEarly, timing.Reason)

	clk.Add(2 * time.Second)
	_, err = orch.Register(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, writer.registers)
}

// fakeWriter confirms every commit as submitted and counts register calls.
// Commits are stamped lag before the current time.
type fakeWriter struct {
	interfaces.RegistrarWriter
	clock     clock.Clock
	lag       time.Duration
	registers int
}

func (w *fakeWriter) Commit(_ context.Context, c interfaces.Commitment) (interfaces.TxOutcome, error) {
	ts := millis.At(w.clock.Now().Add(-w.lag))
	return registry.NewResolvedOutcome(common.Hash{1}, 1, &interfaces.CommitSubmitted{Commitment: c, Timestamp: ts}), nil
}

func (w *fakeWriter) Register(_ context.Context, req *interfaces.RegisterArgs) (interfaces.TxOutcome, error) {
	w.registers++
	return registry.NewResolvedOutcome(common.Hash{2}, 2, &interfaces.NameRegistered{Name: req.Name, Owner: req.Owner}), nil
}

// A register transaction is submitted only inside the commit-age window.
func TestOrchestrator_NoRegisterOutsideWindow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		minSecs := rapid.IntRange(1, 120).Draw(rt, "min")
		maxSecs := rapid.IntRange(minSecs, 600).Draw(rt, "max")
		waitMillis := rapid.IntRange(0, 700_000).Draw(rt, "wait")

		clk := clock.NewMock()
		clk.Set(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
		writer := &fakeWriter{clock: clk}
		orch, err := New(slog.Default(), writer, Config{
			TimeUnit:     millis,
			MinCommitAge: interfaces.LedgerSpan(minSecs * 1000),
			MaxCommitAge: interfaces.LedgerSpan(maxSecs * 1000),
			Clock:        clk,
		})
		if err != nil {
			rt.Fatalf("new: %v", err)
		}

		view, err := orch.Commit(context.Background(), ClaimRequest{Name: interfaces.Name("judy"), Duration: 1})
		if err != nil {
			rt.Fatalf("commit: %v", err)
		}
		clk.Add(time.Duration(waitMillis) * time.Millisecond)

		_, err = orch.Register(context.Background(), view.ID)
		got, _ := orch.Get(view.ID)

		var timing *interfaces.TimingViolation
		switch {
		case waitMillis < minSecs*1000:
			if !errors.As(err, &timing) || timing.Reason != interfaces.TimingTooEarly {
				rt.Fatalf("expected too-early violation, got %v", err)
			}
			if got.Phase != PhaseAwaitingMinAge {
				rt.Fatalf("phase %s after too-early attempt", got.Phase)
			}
			if writer.registers != 0 {
				rt.Fatalf("register submitted %d ms after commit", waitMillis)
			}
		case waitMillis > maxSecs*1000:
			if !errors.As(err, &timing) || timing.Reason != interfaces.TimingExpired {
				rt.Fatalf("expected expired violation, got %v", err)
			}
			if got.Phase != PhaseFailed {
				rt.Fatalf("phase %s after expired attempt", got.Phase)
			}
			if writer.registers != 0 {
				rt.Fatalf("register submitted %d ms after commit", waitMillis)
			}
		default:
			if err != nil {
				rt.Fatalf("register inside window: %v", err)
			}
			if writer.registers != 1 {
				rt.Fatalf("expected one register, got %d", writer.registers)
			}
		}
	})
}
