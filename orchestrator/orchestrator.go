package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/varanames/registrar-client/cryptoutils"
	"github.com/varanames/registrar-client/interfaces"
	"github.com/varanames/registrar-client/metrics"
)

// DefaultRetainFinished is how long terminal intents stay visible through Get.
const DefaultRetainFinished = time.Hour

var (
	ErrUnknownIntent   = errors.New("unknown intent")
	ErrIntentFinished  = errors.New("intent already finished")
	ErrInvalidPhase    = errors.New("intent is not awaiting registration")
	ErrIntentRunning   = errors.New("intent is already being driven")
	ErrCancelled       = errors.New("intent cancelled")
	ErrAttemptTimeout  = errors.New("attempt timed out")
	ErrUnexpectedEvent = errors.New("unexpected registrar event")
)

// Config holds the orchestrator's timing parameters and dependencies.
type Config struct {
	// TimeUnit is the ledger tick length.
	TimeUnit interfaces.TimeUnit
	// MinCommitAge and MaxCommitAge mirror the registrar's commit-age window, in ticks.
	MinCommitAge interfaces.LedgerSpan
	MaxCommitAge interfaces.LedgerSpan
	// AttemptTimeout bounds a whole attempt from commit to registration. Zero disables it.
	AttemptTimeout time.Duration
	// RetainFinished bounds how long terminal intents are kept.
	RetainFinished time.Duration
	// Resolver is passed to every register call.
	Resolver common.Address

	Clock   clock.Clock
	Rand    io.Reader
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// ProgressFunc observes every phase change.
type ProgressFunc func(IntentView)

// Orchestrator drives registration intents through commit, wait and register.
// At most one intent per name is in flight.
type Orchestrator struct {
	log       *slog.Logger
	registrar interfaces.RegistrarWriter
	cfg       Config
	clock     clock.Clock
	tracer    trace.Tracer

	mu        sync.Mutex
	minAge    time.Duration
	maxAge    time.Duration
	intents   map[string]*intent
	byName    map[string]string
	listeners map[int]ProgressFunc
	nextID    int
}

// New creates an orchestrator sending transactions through registrar.
func New(log *slog.Logger, registrar interfaces.RegistrarWriter, cfg Config) (*Orchestrator, error) {
	if err := cfg.TimeUnit.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/varanames/registrar-client/orchestrator")
	}
	if cfg.RetainFinished <= 0 {
		cfg.RetainFinished = DefaultRetainFinished
	}

	o := &Orchestrator{
		log:       log.With("component", "orchestrator"),
		registrar: registrar,
		cfg:       cfg,
		clock:     cfg.Clock,
		tracer:    cfg.Tracer,
		intents:   make(map[string]*intent),
		byName:    make(map[string]string),
		listeners: make(map[int]ProgressFunc),
	}
	if err := o.SetCommitAges(cfg.MinCommitAge, cfg.MaxCommitAge); err != nil {
		return nil, err
	}
	return o, nil
}

// SetCommitAges replaces the commit-age window used for timing checks.
func (o *Orchestrator) SetCommitAges(min, max interfaces.LedgerSpan) error {
	if min > max {
		return &interfaces.ValidationError{Field: "commit_ages", Reason: fmt.Sprintf("min %d exceeds max %d", min, max)}
	}
	minAge, err := o.cfg.TimeUnit.Duration(min)
	if err != nil {
		return err
	}
	maxAge, err := o.cfg.TimeUnit.Duration(max)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.minAge, o.maxAge = minAge, maxAge
	o.mu.Unlock()

	o.log.Info("commit age window set", "min", minAge, "max", maxAge)
	return nil
}

// OnCommitAgesSet keeps the window in sync with the registrar's own settings.
func (o *Orchestrator) OnCommitAgesSet(_ context.Context, ev *interfaces.CommitAgesSet) error {
	return o.SetCommitAges(ev.Min, ev.Max)
}

// CommitAges returns the current window.
func (o *Orchestrator) CommitAges() (min, max time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.minAge, o.maxAge
}

// OnProgress registers fn for phase changes. Callbacks run synchronously on
// the goroutine driving the intent and must not block.
func (o *Orchestrator) OnProgress(fn ProgressFunc) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// Get returns a copy of the intent with the given id.
func (o *Orchestrator) Get(id string) (IntentView, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	in, ok := o.intents[id]
	if !ok {
		return IntentView{}, false
	}
	return in.snapshot(), true
}

// Active lists intents that have not reached a terminal phase.
func (o *Orchestrator) Active() []IntentView {
	o.mu.Lock()
	defer o.mu.Unlock()
	res := make([]IntentView, 0, len(o.byName))
	for _, id := range o.byName {
		res = append(res, o.intents[id].snapshot())
	}
	return res
}

// Commit starts an intent and returns once the commitment is finalized.
func (o *Orchestrator) Commit(ctx context.Context, req ClaimRequest) (IntentView, error) {
	in, err := o.newIntent(req)
	if err != nil {
		return IntentView{}, err
	}
	defer o.stopRunning(in)

	err = o.commit(ctx, in)
	return o.view(in), err
}

// Register reveals the commitment of an intent awaiting registration. A
// commitment younger than the minimum age is refused with a TimingViolation
// and the intent stays usable; an expired one fails the intent. Neither case
// submits a transaction.
func (o *Orchestrator) Register(ctx context.Context, id string) (*interfaces.NameRegistered, error) {
	in, err := o.drive(id)
	if err != nil {
		return nil, err
	}
	defer o.stopRunning(in)

	return o.register(ctx, in)
}

// WaitAndRegister sleeps until the commitment reaches the minimum age, then
// registers. Cancelling ctx or the intent while waiting fails the intent
// without submitting anything.
func (o *Orchestrator) WaitAndRegister(ctx context.Context, id string) (*interfaces.NameRegistered, error) {
	in, err := o.drive(id)
	if err != nil {
		return nil, err
	}
	defer o.stopRunning(in)

	return o.waitAndRegister(ctx, in)
}

// Claim commits and registers name in one call.
func (o *Orchestrator) Claim(ctx context.Context, req ClaimRequest) (IntentView, error) {
	in, err := o.newIntent(req)
	if err != nil {
		return IntentView{}, err
	}
	defer o.stopRunning(in)

	err = o.claim(ctx, in)
	return o.view(in), err
}

// Start runs Claim in the background and returns the new intent immediately.
func (o *Orchestrator) Start(req ClaimRequest) (IntentView, error) {
	in, err := o.newIntent(req)
	if err != nil {
		return IntentView{}, err
	}
	go func() {
		defer o.stopRunning(in)
		if err := o.claim(context.Background(), in); err != nil {
			o.log.Warn("claim failed", "intent", in.view.ID, "name", in.view.Name.String(), "err", err)
		}
	}()
	return o.view(in), nil
}

// Cancel stops an intent. Whatever step is running observes the cancellation
// and fails the intent; an idle intent is failed directly.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	in, ok := o.intents[id]
	if !ok {
		o.mu.Unlock()
		return ErrUnknownIntent
	}
	if in.view.Phase.Terminal() {
		o.mu.Unlock()
		return ErrIntentFinished
	}
	in.cancelled = true
	running := in.running
	o.mu.Unlock()

	in.cancel()
	if !running {
		o.fail(in, context.Canceled)
	}
	return nil
}

func (o *Orchestrator) claim(ctx context.Context, in *intent) error {
	if err := o.commit(ctx, in); err != nil {
		return err
	}
	_, err := o.waitAndRegister(ctx, in)
	return err
}

func (o *Orchestrator) commit(ctx context.Context, in *intent) (err error) {
	ctx, span := o.startSpan(ctx, "vns.commit", in)
	defer func() { endSpan(span, err) }()

	ctx, done := o.attemptContext(ctx, in)
	defer done()
	if err := o.attemptErr(in); err != nil {
		return o.fail(in, err)
	}

	o.transition(in, PhaseCommitting, nil)

	secret, salt, err := cryptoutils.NewBlinding(o.cfg.Rand)
	if err != nil {
		return o.fail(in, err)
	}
	commitment, err := cryptoutils.BuildCommitment(in.view.Name, in.view.Owner, secret, salt)
	if err != nil {
		return o.fail(in, err)
	}
	o.mu.Lock()
	in.secret, in.salt = secret, salt
	in.view.Commitment = &commitment
	o.mu.Unlock()
	cryptoutils.Wipe(&secret, &salt)

	outcome, err := o.registrar.Commit(ctx, commitment)
	if err != nil {
		return o.fail(in, err)
	}
	o.log.Debug("commit submitted", "intent", in.view.ID, "tx", outcome.TxHash().Hex())

	fin, err := outcome.Wait(ctx)
	if err != nil {
		return o.fail(in, err)
	}
	ev, ok := fin.Event.(*interfaces.CommitSubmitted)
	if !ok || ev.Commitment != commitment {
		return o.fail(in, fmt.Errorf("%w: commit produced %v", ErrUnexpectedEvent, fin.Event))
	}

	o.transition(in, PhaseAwaitingMinAge, func(v *IntentView) {
		now := o.clock.Now()
		after := now.Add(o.minAge)
		onLedger := o.cfg.TimeUnit.Time(ev.Timestamp)
		block := fin.Block
		v.CommitBlock = &block
		v.CommittedAt = &now
		v.LedgerCommittedAt = &onLedger
		v.RegisterAfter = &after
	})
	return nil
}

func (o *Orchestrator) waitAndRegister(ctx context.Context, in *intent) (*interfaces.NameRegistered, error) {
	if err := o.waitMinAge(ctx, in); err != nil {
		return nil, err
	}
	return o.register(ctx, in)
}

func (o *Orchestrator) waitMinAge(ctx context.Context, in *intent) (err error) {
	ctx, span := o.startSpan(ctx, "vns.wait_min_age", in)
	defer func() { endSpan(span, err) }()

	ctx, done := o.attemptContext(ctx, in)
	defer done()
	if err := o.attemptErr(in); err != nil {
		return o.fail(in, err)
	}

	// The window can move while waiting, so re-check after every wake-up.
	for {
		o.mu.Lock()
		remaining := in.view.CommittedAt.Add(o.minAge).Sub(o.clock.Now())
		o.mu.Unlock()
		if remaining <= 0 {
			return nil
		}

		timer := o.clock.Timer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return o.fail(in, ctx.Err())
		}
	}
}

func (o *Orchestrator) register(ctx context.Context, in *intent) (_ *interfaces.NameRegistered, err error) {
	ctx, span := o.startSpan(ctx, "vns.register", in)
	defer func() { endSpan(span, err) }()

	if err := o.attemptErr(in); err != nil {
		return nil, o.fail(in, err)
	}

	// The minimum age counts from local finalization, the maximum from
	// whichever of the local and ledger commit times is earlier.
	o.mu.Lock()
	now := o.clock.Now()
	elapsed := now.Sub(*in.view.CommittedAt)
	age := elapsed
	if in.view.LedgerCommittedAt != nil && in.view.LedgerCommittedAt.Before(*in.view.CommittedAt) {
		age = now.Sub(*in.view.LedgerCommittedAt)
	}
	minAge, maxAge := o.minAge, o.maxAge
	name := in.view.Name.String()
	o.mu.Unlock()

	if elapsed < minAge {
		return nil, &interfaces.TimingViolation{Name: name, Reason: interfaces.TimingTooEarly, Elapsed: elapsed.String(), Bound: minAge.String()}
	}
	if age > maxAge {
		return nil, o.fail(in, &interfaces.TimingViolation{Name: name, Reason: interfaces.TimingExpired, Elapsed: age.String(), Bound: maxAge.String()})
	}

	ctx, done := o.attemptContext(ctx, in)
	defer done()
	if err := ctx.Err(); err != nil {
		return nil, o.fail(in, err)
	}

	o.transition(in, PhaseRegistering, nil)

	o.mu.Lock()
	args := &interfaces.RegisterArgs{
		Name:     in.view.Name,
		Owner:    in.view.Owner,
		Duration: in.view.Duration,
		Secret:   in.secret,
		Salt:     in.salt,
		Resolver: o.cfg.Resolver,
	}
	o.mu.Unlock()
	defer cryptoutils.Wipe(&args.Secret, &args.Salt)

	outcome, err := o.registrar.Register(ctx, args)
	if err != nil {
		return nil, o.fail(in, err)
	}
	o.log.Debug("register submitted", "intent", in.view.ID, "tx", outcome.TxHash().Hex())

	fin, err := outcome.Wait(ctx)
	if err != nil {
		return nil, o.fail(in, err)
	}
	ev, ok := fin.Event.(*interfaces.NameRegistered)
	if !ok {
		return nil, o.fail(in, fmt.Errorf("%w: register produced %v", ErrUnexpectedEvent, fin.Event))
	}

	o.finish(in, PhaseSucceeded, func(v *IntentView) {
		v.Result = ev
	})
	o.log.Info("name registered", "intent", in.view.ID, "name", name, "expires", ev.Expires)
	return ev, nil
}

func (o *Orchestrator) newIntent(req ClaimRequest) (*intent, error) {
	if err := req.Name.Validate(); err != nil {
		return nil, err
	}
	if req.Duration == 0 {
		return nil, &interfaces.ValidationError{Field: "duration", Reason: "must be positive"}
	}

	o.mu.Lock()
	o.prune()
	key := req.Name.String()
	if id, busy := o.byName[key]; busy {
		o.mu.Unlock()
		return nil, &interfaces.ConcurrencyConflict{Name: key, IntentID: id}
	}

	now := o.clock.Now()
	in := &intent{
		view: IntentView{
			ID:        uuid.NewString(),
			Name:      append(interfaces.Name(nil), req.Name...),
			Owner:     req.Owner,
			Duration:  req.Duration,
			Phase:     PhaseIdle,
			CreatedAt: now,
			UpdatedAt: now,
		},
		running: true,
	}
	if o.cfg.AttemptTimeout > 0 {
		in.ctx, in.cancel = context.WithTimeout(context.Background(), o.cfg.AttemptTimeout)
	} else {
		in.ctx, in.cancel = context.WithCancel(context.Background())
	}
	o.intents[in.view.ID] = in
	o.byName[key] = in.view.ID
	view := in.snapshot()
	o.mu.Unlock()

	o.log.Info("intent created", "intent", view.ID, "name", key)
	o.emit(view)
	return in, nil
}

// drive marks an intent awaiting registration as running.
func (o *Orchestrator) drive(id string) (*intent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	in, ok := o.intents[id]
	switch {
	case !ok:
		return nil, ErrUnknownIntent
	case in.view.Phase.Terminal():
		return nil, ErrIntentFinished
	case in.running:
		return nil, ErrIntentRunning
	case in.view.Phase != PhaseAwaitingMinAge:
		return nil, ErrInvalidPhase
	}
	in.running = true
	return in, nil
}

// stopRunning releases the intent. A cancellation that arrived while a step
// returned without failing is applied here.
func (o *Orchestrator) stopRunning(in *intent) {
	o.mu.Lock()
	in.running = false
	pending := in.cancelled && !in.view.Phase.Terminal()
	o.mu.Unlock()

	if pending {
		o.fail(in, context.Canceled)
	}
}

// attemptErr reports whether the intent was cancelled or its attempt timeout
// has passed, reading the intent context directly.
func (o *Orchestrator) attemptErr(in *intent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return in.ctx.Err()
}

// attemptContext derives a context that also ends with the intent.
func (o *Orchestrator) attemptContext(ctx context.Context, in *intent) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(in.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (o *Orchestrator) transition(in *intent, phase Phase, mutate func(*IntentView)) {
	o.mu.Lock()
	if in.view.Phase.Terminal() {
		o.mu.Unlock()
		return
	}
	in.view.Phase = phase
	in.view.UpdatedAt = o.clock.Now()
	if mutate != nil {
		mutate(&in.view)
	}
	view := in.snapshot()
	o.mu.Unlock()

	o.cfg.Metrics.IncrementPhase(string(phase))
	o.emit(view)
}

// fail moves the intent to Failed and returns the error it recorded.
func (o *Orchestrator) fail(in *intent, cause error) error {
	o.mu.Lock()
	err := cause
	switch {
	case in.cancelled && (errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)):
		err = fmt.Errorf("%w: %w", ErrCancelled, cause)
	case errors.Is(in.ctx.Err(), context.DeadlineExceeded) && (errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)):
		err = fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, o.cfg.AttemptTimeout, cause)
	}
	o.mu.Unlock()

	o.finish(in, PhaseFailed, func(v *IntentView) {
		v.Err = err
		v.Error = err.Error()
	})
	o.log.Warn("intent failed", "intent", in.view.ID, "name", in.view.Name.String(), "err", err)
	return err
}

// finish enters a terminal phase, wipes the blinding values and frees the name.
func (o *Orchestrator) finish(in *intent, phase Phase, mutate func(*IntentView)) {
	o.mu.Lock()
	if in.view.Phase.Terminal() {
		o.mu.Unlock()
		return
	}
	now := o.clock.Now()
	in.view.Phase = phase
	in.view.UpdatedAt = now
	mutate(&in.view)
	cryptoutils.Wipe(&in.secret, &in.salt)
	key := in.view.Name.String()
	if o.byName[key] == in.view.ID {
		delete(o.byName, key)
	}
	view := in.snapshot()
	elapsed := now.Sub(in.view.CreatedAt)
	o.mu.Unlock()

	in.cancel()
	o.cfg.Metrics.IncrementPhase(string(phase))
	o.cfg.Metrics.ObserveClaimDuration(elapsed)
	o.emit(view)
}

func (o *Orchestrator) view(in *intent) IntentView {
	o.mu.Lock()
	defer o.mu.Unlock()
	return in.snapshot()
}

func (o *Orchestrator) emit(view IntentView) {
	o.mu.Lock()
	fns := make([]ProgressFunc, 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(view)
	}
}

// prune drops terminal intents past retention. Caller holds o.mu.
func (o *Orchestrator) prune() {
	cutoff := o.clock.Now().Add(-o.cfg.RetainFinished)
	for id, in := range o.intents {
		if in.view.Phase.Terminal() && in.view.UpdatedAt.Before(cutoff) {
			delete(o.intents, id)
		}
	}
}

func (o *Orchestrator) startSpan(ctx context.Context, name string, in *intent) (context.Context, trace.Span) {
	o.mu.Lock()
	attrs := []attribute.KeyValue{
		attribute.String("vns.intent", in.view.ID),
		attribute.String("vns.name", in.view.Name.String()),
	}
	o.mu.Unlock()
	return o.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
