// Package reconcile merges the two independently arriving
// representations of a chat message, the instant broadcast event and
// the later persisted row, into one deduplicated and chronologically
// ordered list per topic.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/murmur3"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/roomline/roomline/internal/backend"
	"github.com/roomline/roomline/internal/model"
	logger "github.com/roomline/roomline/middleware/log"
)

var (
	ErrEmptyTopic = errors.New("topic id must not be empty")
	ErrEmptyBody  = errors.New("message body must not be empty")
	ErrClosed     = errors.New("reconciler is closed")
)

// SendError reports a failed durable write. Body carries the original
// text so the caller can restore the user's input for a retry.
type SendError struct {
	Body string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// State tags an entry's lifecycle. The only legal transition is
// Provisional -> Confirmed, consumed by the merge on persisted arrival.
type State int

const (
	// StateProvisional marks an optimistic entry built from a broadcast
	// event, not yet confirmed by the database.
	StateProvisional State = iota
	// StateConfirmed marks an entry backed by a persisted row.
	StateConfirmed
)

// Entry is one displayed message plus its lifecycle state.
type Entry struct {
	Message model.Message
	State   State
}

// Options tunes a Reconciler.
type Options struct {
	// MergeWindow is the timestamp tolerance under which a broadcast
	// and a persisted row with the same body and author are treated as
	// one logical message.
	MergeWindow time.Duration

	// SweepGrace is how long a sequence gap may stay open before the
	// list is refreshed from the store. Zero disables the sweep.
	SweepGrace time.Duration

	// SeqWindow is the size of the sequence tracking window.
	SeqWindow uint

	// EventName is the broadcast event name used on the channel.
	EventName string
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MergeWindow == 0 {
		out.MergeWindow = 2 * time.Second
	}
	if out.EventName == "" {
		out.EventName = "message"
	}
	return out
}

type task struct {
	gen uint64 // subscription generation; 0 runs regardless
	fn  func()
}

// Reconciler owns the authoritative message list for one open topic.
// All list mutations run on a single loop goroutine; the channel
// listeners and the public operations post onto it, so no lock guards
// the list itself.
type Reconciler struct {
	querier  backend.Querier
	channel  backend.Channel
	writer   backend.DurableWriter
	identity backend.Identity
	log      *logger.Logger
	opts     Options

	tasks chan task
	quit  chan struct{}
	done  chan struct{}

	closeOnce sync.Once

	// Everything below is owned by the run loop.
	topicID    string
	entries    []*Entry
	byID       map[string]*Entry
	byContent  map[uint64][]*Entry
	sub        backend.Subscription
	gen        uint64
	user       backend.UserInfo
	userLoaded bool
	seq        *seqWindow
	onChange   func([]model.Message)
	sweeping   bool
}

// New builds a reconciler against the injected platform capabilities
// and starts its dispatch loop. Call Close to release it.
func New(querier backend.Querier, channel backend.Channel, writer backend.DurableWriter, identity backend.Identity, log *logger.Logger, opts Options) *Reconciler {
	r := &Reconciler{
		querier:   querier,
		channel:   channel,
		writer:    writer,
		identity:  identity,
		log:       log,
		opts:      opts.withDefaults(),
		tasks:     make(chan task, 128),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		byID:      make(map[string]*Entry),
		byContent: make(map[uint64][]*Entry),
		seq:       newSeqWindow(opts.SeqWindow),
	}
	go r.run()
	return r
}

func (r *Reconciler) run() {
	defer close(r.done)

	var tick <-chan time.Time
	if r.opts.SweepGrace > 0 {
		ticker := time.NewTicker(r.opts.SweepGrace / 2)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case t := <-r.tasks:
			if t.gen != 0 && t.gen != r.gen {
				// Late event from a released subscription.
				continue
			}
			t.fn()
		case <-tick:
			r.maybeSweep()
		case <-r.quit:
			return
		}
	}
}

// post enqueues a task without waiting for it.
func (r *Reconciler) post(t task) {
	select {
	case r.tasks <- t:
	case <-r.quit:
	}
}

// do runs fn on the loop and waits for it. Returns false if the
// reconciler closed before fn could run.
func (r *Reconciler) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case r.tasks <- task{fn: func() { fn(); close(done) }}:
	case <-r.quit:
		return false
	}
	select {
	case <-done:
		return true
	case <-r.quit:
		return false
	}
}

// SetOnChange registers the callback invoked with a fresh snapshot
// after every mutation of the list. Set it before opening the channel.
func (r *Reconciler) SetOnChange(fn func([]model.Message)) {
	r.do(func() { r.onChange = fn })
}

// LoadInitial fetches the topic's persisted messages, preferring the
// profile join and falling back to the bare query once if the join
// path is unavailable. On success the list is replaced; on failure the
// previously loaded list is left untouched.
func (r *Reconciler) LoadInitial(ctx context.Context, topicID string) ([]model.Message, error) {
	if topicID == "" {
		return nil, ErrEmptyTopic
	}

	rows, err := r.querier.Messages(ctx, topicID)
	if err != nil {
		r.log.WarnContext(ctx, "profile join failed, retrying without profiles",
			zap.String("topic_id", topicID), zap.Error(err))
		rows, err = r.querier.MessagesWithoutProfiles(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("initial load for topic %s failed: %w", topicID, err)
		}
	}

	var snap []model.Message
	ok := r.do(func() {
		r.topicID = topicID
		r.resetList(rows)
		snap = r.snapshot()
		r.notify()
	})
	if !ok {
		return nil, ErrClosed
	}
	return snap, nil
}

// OpenChannel establishes the topic's realtime subscription. Calling it
// again for the same open view releases the previous subscription
// first, so no duplicate listeners exist.
func (r *Reconciler) OpenChannel(ctx context.Context, topicID string) error {
	if topicID == "" {
		return ErrEmptyTopic
	}

	if _, err := r.currentUser(ctx); err != nil {
		r.log.WarnContext(ctx, "identity unavailable, attribution disabled", zap.Error(err))
	}

	var prev backend.Subscription
	if ok := r.do(func() {
		prev = r.sub
		r.sub = nil
		r.gen++
	}); !ok {
		return ErrClosed
	}
	if prev != nil {
		_ = prev.Close()
	}

	sub, err := r.channel.Subscribe(ctx, topicID)
	if err != nil {
		return fmt.Errorf("failed to open channel for topic %s: %w", topicID, err)
	}

	var gen uint64
	if ok := r.do(func() {
		r.topicID = topicID
		r.sub = sub
		r.gen++
		gen = r.gen
	}); !ok {
		_ = sub.Close()
		return ErrClosed
	}

	go r.pumpBroadcasts(gen, sub)
	go r.pumpRows(gen, sub)
	return nil
}

func (r *Reconciler) pumpBroadcasts(gen uint64, sub backend.Subscription) {
	for raw := range sub.Broadcasts() {
		raw := raw
		r.post(task{gen: gen, fn: func() { r.handleBroadcastRaw(raw) }})
	}
}

func (r *Reconciler) pumpRows(gen uint64, sub backend.Subscription) {
	for raw := range sub.Rows() {
		raw := raw
		r.post(task{gen: gen, fn: func() { r.handlePersistedRaw(raw) }})
	}
}

// OnBroadcastArrived ingests a raw broadcast event payload.
func (r *Reconciler) OnBroadcastArrived(raw []byte) {
	r.do(func() { r.handleBroadcastRaw(raw) })
}

// OnPersistedArrived ingests a raw persisted-row payload.
func (r *Reconciler) OnPersistedArrived(raw []byte) {
	r.do(func() { r.handlePersistedRaw(raw) })
}

// Send publishes the broadcast event and invokes the durable write,
// concurrently and independently. A publish failure is logged only: the
// persisted copy is still on its way. A write failure is returned as a
// *SendError carrying the original body; an optimistic entry already
// displayed is not retracted.
func (r *Reconciler) Send(ctx context.Context, topicID, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ErrEmptyBody
	}

	user, err := r.currentUser(ctx)
	if err != nil {
		return &SendError{Body: body, Err: err}
	}

	meta := map[string]any{
		model.MetaCorrelationKey: uuid.New().String(),
	}
	broadcast := model.BroadcastMessage{
		Body:      trimmed,
		UserID:    user.ID,
		CreatedAt: time.Now().UTC(),
		Meta:      meta,
	}

	var wg sync.WaitGroup
	var writeErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		// Fire and forget: our own copy comes back through the channel
		// and is suppressed there if the row beat it.
		if err := r.channel.Publish(ctx, topicID, r.opts.EventName, broadcast); err != nil {
			r.log.WarnContext(ctx, "broadcast publish failed", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		writeErr = r.writer.Write(ctx, topicID, user.ID, trimmed, meta)
	}()
	wg.Wait()

	if writeErr != nil {
		return &SendError{Body: body, Err: writeErr}
	}
	return nil
}

// Messages returns a snapshot of the reconciled list.
func (r *Reconciler) Messages() []model.Message {
	var snap []model.Message
	r.do(func() { snap = r.snapshot() })
	return snap
}

// Entries returns a snapshot including each entry's lifecycle state.
func (r *Reconciler) Entries() []Entry {
	var snap []Entry
	r.do(func() {
		snap = make([]Entry, len(r.entries))
		for i, e := range r.entries {
			snap[i] = *e
		}
	})
	return snap
}

// Close releases the subscription and stops the dispatch loop. It is
// idempotent and safe to call on a reconciler that never opened a
// channel; no event delivered after Close mutates the list.
func (r *Reconciler) Close() {
	r.closeOnce.Do(func() {
		var sub backend.Subscription
		r.do(func() {
			sub = r.sub
			r.sub = nil
			r.gen++
		})
		if sub != nil {
			_ = sub.Close()
		}
		close(r.quit)
		<-r.done
	})
}

// currentUser loads the identity once per session.
func (r *Reconciler) currentUser(ctx context.Context) (backend.UserInfo, error) {
	var user backend.UserInfo
	var loaded bool
	if ok := r.do(func() { user, loaded = r.user, r.userLoaded }); !ok {
		return backend.UserInfo{}, ErrClosed
	}
	if loaded {
		return user, nil
	}

	user, err := r.identity.Current(ctx)
	if err != nil {
		return backend.UserInfo{}, err
	}
	r.do(func() {
		r.user = user
		r.userLoaded = true
	})
	return user, nil
}

// --- loop-owned internals ---

func (r *Reconciler) handleBroadcastRaw(raw []byte) {
	var b model.BroadcastMessage
	if err := json.Unmarshal(raw, &b); err != nil {
		// The persisted copy is still pending; never surfaced.
		r.log.Warn("dropping undecodable broadcast", zap.Error(err))
		return
	}
	if r.applyBroadcast(b) {
		r.notify()
	}
}

func (r *Reconciler) handlePersistedRaw(raw []byte) {
	var m model.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		r.log.Warn("dropping undecodable row", zap.Error(err))
		return
	}
	if m.ID == "" {
		r.log.Warn("dropping row without id")
		return
	}
	if r.applyPersisted(m) {
		r.notify()
	}
}

// applyBroadcast appends a provisional entry unless an equivalent one
// is already listed (own broadcast echoed back, duplicate delivery, or
// the row arrived first).
func (r *Reconciler) applyBroadcast(b model.BroadcastMessage) bool {
	if r.findEquivalent(b.UserID, b.Body, b.CreatedAt, b.CorrelationID(), false) != nil {
		return false
	}

	msg := model.Message{
		ID:        localID(),
		TopicID:   r.topicID,
		Body:      b.Body,
		UserID:    b.UserID,
		CreatedAt: b.CreatedAt,
	}
	if b.Meta != nil {
		msg.Meta = datatypes.JSONMap(b.Meta)
	}
	r.insert(&Entry{Message: msg, State: StateProvisional})
	return true
}

// applyPersisted is the source of truth: a canonical row replaces its
// provisional counterpart and redeliveries are no-ops.
func (r *Reconciler) applyPersisted(m model.Message) bool {
	if m.SeqID > 0 {
		r.seq.mark(uint64(m.SeqID), time.Now())
	}
	if _, ok := r.byID[m.ID]; ok {
		return false
	}
	if e := r.findEquivalent(m.UserID, m.Body, m.CreatedAt, m.CorrelationID(), true); e != nil {
		r.remove(e)
	}
	r.insert(&Entry{Message: m, State: StateConfirmed})
	return true
}

// findEquivalent scans the content bucket for an entry representing the
// same logical message. With provisionalOnly set, confirmed entries are
// skipped: two canonical rows are distinct no matter how close.
func (r *Reconciler) findEquivalent(userID, body string, ts time.Time, corr string, provisionalOnly bool) *Entry {
	for _, e := range r.byContent[contentKey(userID, body)] {
		if provisionalOnly && e.State != StateProvisional {
			continue
		}
		if e.Message.UserID != userID || e.Message.Body != body {
			// Hash collision.
			continue
		}
		ecorr := e.Message.CorrelationID()
		if corr != "" && ecorr != "" {
			if corr == ecorr {
				return e
			}
			continue
		}
		d := ts.Sub(e.Message.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d < r.opts.MergeWindow {
			return e
		}
	}
	return nil
}

// insert places the entry by timestamp, walking back from the tail.
// New arrivals land at or near the end, so this stays cheap without
// re-sorting the list.
func (r *Reconciler) insert(e *Entry) {
	i := len(r.entries)
	for i > 0 && r.entries[i-1].Message.CreatedAt.After(e.Message.CreatedAt) {
		i--
	}
	r.entries = append(r.entries, nil)
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = e

	r.byID[e.Message.ID] = e
	k := contentKey(e.Message.UserID, e.Message.Body)
	r.byContent[k] = append(r.byContent[k], e)
}

func (r *Reconciler) remove(e *Entry) {
	for i, cur := range r.entries {
		if cur == e {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	delete(r.byID, e.Message.ID)

	k := contentKey(e.Message.UserID, e.Message.Body)
	bucket := r.byContent[k]
	for i, cur := range bucket {
		if cur == e {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(r.byContent, k)
	} else {
		r.byContent[k] = bucket
	}
}

// resetList replaces the list with canonical rows from the store.
func (r *Reconciler) resetList(rows []model.Message) {
	r.entries = r.entries[:0]
	r.byID = make(map[string]*Entry)
	r.byContent = make(map[uint64][]*Entry)

	var maxSeq int64
	for i := range rows {
		r.insert(&Entry{Message: rows[i], State: StateConfirmed})
		if rows[i].SeqID > maxSeq {
			maxSeq = rows[i].SeqID
		}
	}
	if maxSeq > 0 {
		r.seq.seed(uint64(maxSeq))
	}
}

func (r *Reconciler) snapshot() []model.Message {
	out := make([]model.Message, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Message
	}
	return out
}

func (r *Reconciler) notify() {
	if r.onChange != nil {
		r.onChange(r.snapshot())
	}
}

// maybeSweep kicks off a refresh when a sequence gap has outlived the
// grace period, recovering rows whose notifications were lost.
func (r *Reconciler) maybeSweep() {
	if r.topicID == "" || r.sweeping {
		return
	}
	if !r.seq.gapExceeded(r.opts.SweepGrace, time.Now()) {
		return
	}
	r.sweeping = true
	topicID := r.topicID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		rows, err := r.querier.Messages(ctx, topicID)
		if err != nil {
			rows, err = r.querier.MessagesWithoutProfiles(ctx, topicID)
		}

		r.post(task{fn: func() {
			r.sweeping = false
			if r.topicID != topicID {
				return
			}
			if err != nil {
				r.log.Warn("refresh after sequence gap failed",
					zap.String("topic_id", topicID), zap.Error(err))
				return
			}
			changed := false
			for i := range rows {
				if r.applyPersisted(rows[i]) {
					changed = true
				}
			}
			r.seq.fill()
			if changed {
				r.notify()
			}
		}})
	}()
}

func contentKey(userID, body string) uint64 {
	return murmur3.Sum64([]byte(userID + "\x00" + body))
}

func localID() string {
	return "local-" + uuid.New().String()
}
