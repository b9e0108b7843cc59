// Package outbox implements the offline-durable delivery core: every
// accepted contact submission is either delivered to the integration
// endpoint or durably retained for a later attempt — never silently dropped
// before its tries are exhausted.
//
// The processor never holds a long-lived in-memory copy of the queue. Each
// flush pass reloads the persisted snapshot, attempts every item in FIFO
// order, and rewrites the snapshot wholesale. A single-flight gate keeps two
// passes from interleaving over the same snapshot (the classic lost-update
// race of whole-snapshot load/save stores).
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/snehjoshi/contactrelay/internal/node"
	"github.com/snehjoshi/contactrelay/internal/store"
	"github.com/snehjoshi/contactrelay/internal/types"
)

// ErrFlushInFlight is returned by Flush when another pass is already
// running. The trigger is dropped, not queued: the running pass will handle
// everything currently persisted, and anything enqueued after its snapshot
// is merged back at rewrite time.
var ErrFlushInFlight = errors.New("outbox: flush already in progress")

// DefaultMaxTries is how many failed delivery attempts an item survives
// before it is abandoned.
const DefaultMaxTries = 5

// Deliverer is the single-attempt delivery dependency.
// *delivery.Client is the production implementation.
type Deliverer interface {
	// Ready reports whether an attempt could be made at all
	// (delivery.ErrNotConfigured / delivery.ErrOffline / nil).
	Ready() error

	// Deliver makes exactly one network attempt for payload.
	Deliver(ctx context.Context, payload json.RawMessage) error
}

// Sink consumes delivery outcome events. Events are observability only;
// a Sink must never influence queue behaviour.
type Sink interface {
	Record(ev types.Event)
}

// Sinks fans one event out to several sinks (activity log + metrics).
func Sinks(sinks ...Sink) Sink {
	return fanSink(sinks)
}

type fanSink []Sink

func (f fanSink) Record(ev types.Event) {
	for _, s := range f {
		s.Record(ev)
	}
}

type noopSink struct{}

func (noopSink) Record(types.Event) {}

// Archiver retains items that exhausted their tries, so an abandoned
// submission can still be inspected and replayed by an operator.
type Archiver interface {
	Put(item types.Item, deliveryErr string) error
	Take(n int) ([]types.Item, error)
}

// Option configures a Processor.
type Option func(*Processor)

// WithMaxTries overrides DefaultMaxTries. Values below 1 are ignored.
func WithMaxTries(n int) Option {
	return func(p *Processor) {
		if n >= 1 {
			p.maxTries = n
		}
	}
}

// WithArchive wires an Archiver for exhausted items.
func WithArchive(a Archiver) Option {
	return func(p *Processor) { p.archive = a }
}

// Processor is the queue processor: it owns the submit path, the enqueue
// path, and the flush pass.
type Processor struct {
	store    store.Store
	client   Deliverer
	sink     Sink
	archive  Archiver
	maxTries int

	// flushMu is the single-flight gate around Flush.
	flushMu sync.Mutex

	// storeMu serialises every load-mutate-save of the persisted snapshot
	// (Enqueue, Purge, and the rewrite at the end of a flush pass), so a
	// submission landing mid-pass is never lost.
	storeMu sync.Mutex
}

// New builds a Processor. sink may be nil.
func New(st store.Store, client Deliverer, sink Sink, opts ...Option) *Processor {
	if sink == nil {
		sink = noopSink{}
	}
	p := &Processor{
		store:    st,
		client:   client,
		sink:     sink,
		maxTries: DefaultMaxTries,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ─── Submit path ─────────────────────────────────────────────────────────────

// Submit handles one contact submission and returns the outcome event that
// was recorded. It never surfaces a delivery failure to the caller: a failed
// immediate attempt transitions to the enqueue-and-report path instead.
//
// The three-way branch:
//   - sendNow=false          → "local"; the outbox is never touched.
//   - sendNow, attempt ok    → "sent".
//   - sendNow, attempt fails → enqueue with tries=0, "queued".
func (p *Processor) Submit(ctx context.Context, payload json.RawMessage, sendNow bool) types.Event {
	now := time.Now()

	if !sendNow {
		ev := types.Event{Outcome: types.OutcomeLocal, Payload: payload, At: now}
		p.sink.Record(ev)
		return ev
	}

	if err := p.client.Deliver(ctx, payload); err != nil {
		desc := err.Error()
		if _, qerr := p.Enqueue(payload); qerr != nil {
			// The store itself failed. Nothing durable to fall back on;
			// report both failures through the event and the log.
			slog.Error("enqueue after failed delivery", "err", qerr)
			desc = fmt.Sprintf("%s (enqueue failed: %v)", desc, qerr)
		}
		ev := types.Event{Outcome: types.OutcomeQueued, Payload: payload, At: now, Error: desc}
		p.sink.Record(ev)
		return ev
	}

	ev := types.Event{Outcome: types.OutcomeSent, Payload: payload, At: now}
	p.sink.Record(ev)
	return ev
}

// Enqueue appends a fresh item (tries=0) to the persisted sequence and saves
// immediately.
func (p *Processor) Enqueue(payload json.RawMessage) (types.Item, error) {
	item := types.Item{
		ID:         node.MustNewID(),
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	if err := p.append(item); err != nil {
		return types.Item{}, err
	}
	return item, nil
}

func (p *Processor) append(item types.Item) error {
	p.storeMu.Lock()
	defer p.storeMu.Unlock()

	items, err := p.store.Load()
	if err != nil {
		return fmt.Errorf("outbox: load before enqueue: %w", err)
	}
	items = append(items, item)
	if err := p.store.Save(items); err != nil {
		return fmt.Errorf("outbox: persist enqueue: %w", err)
	}
	return nil
}

// ─── Flush pass ──────────────────────────────────────────────────────────────

// Flush runs one complete delivery pass over the persisted outbox.
//
// It is a no-op — no events, no store write, no tries incremented — when the
// queue is empty, the endpoint is unset, or the agent is offline. Items are
// attempted strictly sequentially in FIFO order. An item is dropped when its
// attempt succeeds ("sent") or when the failed attempt brings it to the
// maximum tries ("retry" followed by "abandoned"); otherwise it is carried
// into the rewritten snapshot.
//
// Returns ErrFlushInFlight when another pass holds the single-flight gate.
func (p *Processor) Flush(ctx context.Context) error {
	if !p.flushMu.TryLock() {
		return ErrFlushInFlight
	}
	defer p.flushMu.Unlock()

	// Skip the pass entirely before loading: never rewrite the store, and
	// never charge a try, for items that were not actually attempted.
	if err := p.client.Ready(); err != nil {
		slog.Debug("flush skipped", "reason", err)
		return nil
	}

	p.storeMu.Lock()
	snapshot, err := p.store.Load()
	p.storeMu.Unlock()
	if err != nil {
		return fmt.Errorf("outbox: load snapshot: %w", err)
	}
	if len(snapshot) == 0 {
		return nil
	}

	var kept []types.Item
	attempted := 0
	for i := range snapshot {
		item := snapshot[i]

		// A cancelled context stops the pass; the remaining items keep
		// their try counts untouched since no attempt was made.
		if ctx.Err() != nil {
			kept = append(kept, snapshot[i:]...)
			break
		}
		attempted++

		err := p.client.Deliver(ctx, item.Payload)
		now := time.Now()
		if err == nil {
			p.sink.Record(types.Event{Outcome: types.OutcomeSent, Payload: item.Payload, At: now})
			continue
		}

		item.Tries++
		p.sink.Record(types.Event{
			Outcome: types.OutcomeRetry,
			Payload: item.Payload,
			At:      now,
			Error:   err.Error(),
			Tries:   item.Tries,
		})

		if item.Tries < p.maxTries {
			kept = append(kept, item)
			continue
		}

		p.sink.Record(types.Event{
			Outcome: types.OutcomeAbandoned,
			Payload: item.Payload,
			At:      now,
			Error:   err.Error(),
			Tries:   item.Tries,
		})
		if p.archive != nil {
			if aerr := p.archive.Put(item, err.Error()); aerr != nil {
				slog.Warn("archive abandoned item", "id", item.ID, "err", aerr)
			}
		}
		slog.Warn("item abandoned", "id", item.ID, "tries", item.Tries, "err", err)
	}

	slog.Info("flush pass complete",
		"attempted", attempted,
		"kept", len(kept),
		"dropped", len(snapshot)-len(kept),
	)
	return p.rewrite(snapshot, kept)
}

// rewrite persists the post-pass sequence. Items that were enqueued while
// the pass was running are not in the snapshot; they are appended after the
// kept retries so they are never lost to the wholesale overwrite.
func (p *Processor) rewrite(snapshot, kept []types.Item) error {
	seen := make(map[string]struct{}, len(snapshot))
	for _, it := range snapshot {
		seen[it.ID] = struct{}{}
	}

	p.storeMu.Lock()
	defer p.storeMu.Unlock()

	current, err := p.store.Load()
	if err != nil {
		// Degrade to writing just the kept items rather than losing the
		// pass's bookkeeping.
		slog.Warn("reload before rewrite failed", "err", err)
		current = nil
	}
	for _, it := range current {
		if _, ok := seen[it.ID]; !ok {
			kept = append(kept, it)
		}
	}

	if err := p.store.Save(kept); err != nil {
		return fmt.Errorf("outbox: persist pass result: %w", err)
	}
	return nil
}

// ─── Introspection & maintenance ─────────────────────────────────────────────

// Pending returns the currently persisted sequence in FIFO order.
func (p *Processor) Pending() ([]types.Item, error) {
	p.storeMu.Lock()
	defer p.storeMu.Unlock()
	return p.store.Load()
}

// Purge drops every pending item and returns how many were removed.
func (p *Processor) Purge() (int, error) {
	p.storeMu.Lock()
	defer p.storeMu.Unlock()

	items, err := p.store.Load()
	if err != nil {
		return 0, fmt.Errorf("outbox: load before purge: %w", err)
	}
	if err := p.store.Save(nil); err != nil {
		return 0, fmt.Errorf("outbox: purge: %w", err)
	}
	return len(items), nil
}

// ReplayArchived moves up to n abandoned items from the archive back into
// the outbox. Replayed items keep their ID and payload but start over with
// tries=0 and a fresh enqueue time. Returns how many were replayed.
func (p *Processor) ReplayArchived(n int) (int, error) {
	if p.archive == nil {
		return 0, errors.New("outbox: no archive configured")
	}
	items, err := p.archive.Take(n)
	if err != nil {
		return 0, fmt.Errorf("outbox: take from archive: %w", err)
	}

	replayed := 0
	for _, it := range items {
		fresh := types.Item{
			ID:         it.ID, // keep the ID so a double replay stays idempotent downstream
			Payload:    it.Payload,
			EnqueuedAt: time.Now(),
		}
		if err := p.append(fresh); err != nil {
			slog.Warn("replay archived item", "id", it.ID, "err", err)
			continue
		}
		replayed++
	}
	return replayed, nil
}
