// Package events streams registrar events from the ledger to in-process handlers.
//
// A Subscriber keeps one log subscription open against the ledger for the
// registrar program, re-establishing it with back-off when it drops. Each
// decoded event is handed to the handlers registered for its kind, one after
// another in registration order. A handler that fails or panics is logged and
// counted; it never stops delivery to the others or tears down the listener.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/varanames/registrar-client/codec"
	"github.com/varanames/registrar-client/interfaces"
	"github.com/varanames/registrar-client/metrics"
)

const (
	DefaultBackoff = 30 * time.Second
	DefaultBuffer  = 256
)

var ErrAlreadyStarted = errors.New("subscriber already started")

// Handler processes one event. Returned errors are logged, not propagated.
type Handler func(ctx context.Context, ev interfaces.Event) error

type Config struct {
	// Backoff caps the delay between resubscription attempts.
	Backoff time.Duration
	// Buffer is the capacity of the log channel.
	Buffer  int
	Metrics *metrics.Metrics
}

type registration struct {
	id      int
	handler Handler
}

// Subscriber fans registrar events out to handlers.
type Subscriber struct {
	log     *slog.Logger
	ledger  interfaces.Ledger
	codec   *codec.Codec
	program common.Address
	cfg     Config

	mu       sync.Mutex
	handlers map[interfaces.EventKind][]registration
	nextID   int

	started bool
	sub     event.Subscription
	logs    chan types.Log
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewSubscriber creates a subscriber for events emitted by program.
func NewSubscriber(log *slog.Logger, ledger interfaces.Ledger, program common.Address, cfg Config) (*Subscriber, error) {
	c, err := codec.New()
	if err != nil {
		return nil, err
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	return &Subscriber{
		log:      log.With("component", "events", "program", program.Hex()),
		ledger:   ledger,
		codec:    c,
		program:  program,
		cfg:      cfg,
		handlers: make(map[interfaces.EventKind][]registration),
	}, nil
}

// Subscribe registers h for events of kind. The returned function removes it
// and is safe to call more than once.
func (s *Subscriber) Subscribe(kind interfaces.EventKind, h Handler) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[kind] = append(s.handlers[kind], registration{id: id, handler: h})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			regs := s.handlers[kind]
			for i, r := range regs {
				if r.id == id {
					s.handlers[kind] = append(regs[:i:i], regs[i+1:]...)
					break
				}
			}
		})
	}
}

// On registers a handler typed by its event record, e.g.
//
//	events.On(s, func(ctx context.Context, ev *interfaces.NameRegistered) error { ... })
//
// T must be one of the pointer event types from the interfaces package.
func On[T interfaces.Event](s *Subscriber, fn func(ctx context.Context, ev T) error) (unsubscribe func()) {
	var zero T
	return s.Subscribe(zero.Kind(), func(ctx context.Context, ev interfaces.Event) error {
		typed, ok := ev.(T)
		if !ok {
			return fmt.Errorf("unexpected event type %T", ev)
		}
		return fn(ctx, typed)
	})
}

// Start opens the ledger subscription and begins dispatching. It returns once
// the first subscription is established or ctx ends.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.logs = make(chan types.Log, s.cfg.Buffer)
	s.quit = make(chan struct{})
	s.mu.Unlock()

	topics := make([]common.Hash, 0, len(interfaces.AllEventKinds))
	for _, kind := range interfaces.AllEventKinds {
		topics = append(topics, s.codec.EventID(kind))
	}
	query := ethereum.FilterQuery{
		Addresses: []common.Address{s.program},
		Topics:    [][]common.Hash{topics},
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	sub := event.ResubscribeErr(s.cfg.Backoff, func(ctx context.Context, lastErr error) (event.Subscription, error) {
		if lastErr != nil {
			s.log.Warn("log subscription dropped, resubscribing", "err", lastErr)
		}
		sub, err := s.ledger.Subscribe(ctx, query, s.logs)
		if err != nil {
			s.log.Error("failed to subscribe to logs", "err", err)
			return nil, err
		}
		readyOnce.Do(func() { close(ready) })
		return sub, nil
	})
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	select {
	case <-ready:
		s.log.Info("event subscriber started")
		return nil
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	}
}

// Stop closes the subscription and waits for the dispatch loop to exit.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if !s.started || s.sub == nil {
		s.mu.Unlock()
		return
	}
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	sub.Unsubscribe()
	close(s.quit)
	s.wg.Wait()
}

func (s *Subscriber) loop() {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case lg := <-s.logs:
			s.dispatch(ctx, &lg)
		case <-s.quit:
			return
		}
	}
}

// dispatch decodes lg and runs the handlers for its kind in order.
func (s *Subscriber) dispatch(ctx context.Context, lg *types.Log) {
	if lg.Removed || lg.Address != s.program {
		return
	}
	ev, err := s.codec.DecodeLog(lg)
	if err != nil {
		if !errors.Is(err, codec.ErrUnknownEvent) {
			s.log.Warn("failed to decode registrar log", "tx", lg.TxHash.Hex(), "err", err)
		}
		return
	}

	kind := ev.Kind()
	s.mu.Lock()
	regs := append([]registration(nil), s.handlers[kind]...)
	s.mu.Unlock()

	s.cfg.Metrics.IncrementDispatched(string(kind))
	for _, r := range regs {
		if err := s.invoke(ctx, r.handler, ev); err != nil {
			s.cfg.Metrics.IncrementHandlerFailure(string(kind))
			s.log.Error("event handler failed", "kind", kind, "block", lg.BlockNumber, "tx", lg.TxHash.Hex(), "err", err)
		}
	}
}

func (s *Subscriber) invoke(ctx context.Context, h Handler, ev interfaces.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, ev)
}
