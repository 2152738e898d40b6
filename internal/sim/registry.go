package sim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marketsim/internal/catalog"
	"marketsim/pkg/types"
)

// BotStartingCash seeds every bot-registered session.
const BotStartingCash = 100_000

// sessionSlot pairs a running session with its scheduler's cancel func.
type sessionSlot struct {
	sess   *Session
	cancel context.CancelFunc
}

// Registry is the concurrent map of active sessions, human and bot.
// Reader-writer discipline: broadcast fan-out and lookups take the read lock,
// create/delete take the write lock.
type Registry struct {
	mu       sync.RWMutex
	slots    map[string]*sessionSlot
	primary  map[string]string // owner -> primary human session id
	catalog  *catalog.Catalog
	sink     Sink
	logger   *slog.Logger
	baseCtx  context.Context
	wg       sync.WaitGroup
	stopped  bool

	// OnClose, when set, observes each removed session's fractional return.
	// Used to roll results into user stats.
	OnClose func(owner string, ret float64)
}

// NewRegistry creates a registry. Sessions created through it get a scheduler
// goroutine bound to ctx; cancelling ctx stops every scheduler.
func NewRegistry(ctx context.Context, cat *catalog.Catalog, sink Sink, logger *slog.Logger) *Registry {
	return &Registry{
		slots:   make(map[string]*sessionSlot),
		primary: make(map[string]string),
		catalog: cat,
		sink:    sink,
		logger:  logger.With("component", "registry"),
		baseCtx: ctx,
	}
}

// CreateHuman starts a session for a user, replacing any existing primary
// session for that owner (each human has at most one primary at a time).
func (r *Registry) CreateHuman(owner string, cfg types.GameConfig, speed float64) *Session {
	r.mu.Lock()
	if prev, ok := r.primary[owner]; ok {
		r.removeLocked(prev)
	}
	sess := NewSession(owner, cfg, r.catalog, time.Now().UTC(), speed, 0)
	r.addLocked(sess)
	r.primary[owner] = sess.ID
	r.mu.Unlock()

	r.logger.Info("session created", "session", sess.ID, "owner", owner, "mode", cfg.Mode)
	return sess
}

// CreateBot starts a fresh bot session seeded at the bot starting cash.
// The session id doubles as the bot id.
func (r *Registry) CreateBot(owner string, cfg types.GameConfig) *Session {
	cfg.StartingCapital = BotStartingCash
	cfg = cfg.Normalize()
	sess := NewSession(owner, cfg, r.catalog, time.Now().UTC(), 1.0, 0)

	r.mu.Lock()
	r.addLocked(sess)
	r.mu.Unlock()

	r.logger.Info("bot session created", "session", sess.ID, "owner", owner)
	return sess
}

// Adopt registers an externally built session (snapshot restore) as the
// owner's primary.
func (r *Registry) Adopt(sess *Session) {
	r.mu.Lock()
	if prev, ok := r.primary[sess.Owner]; ok {
		r.removeLocked(prev)
	}
	r.addLocked(sess)
	r.primary[sess.Owner] = sess.ID
	r.mu.Unlock()
}

// addLocked registers the session and starts its scheduler. Callers hold r.mu.
func (r *Registry) addLocked(sess *Session) {
	ctx, cancel := context.WithCancel(r.baseCtx)
	r.slots[sess.ID] = &sessionSlot{sess: sess, cancel: cancel}

	sched := NewScheduler(sess, r.sink, r.logger)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		sched.Run(ctx)
	}()
}

// Get returns the session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.slots[id]
	if !ok {
		return nil, false
	}
	return slot.sess, true
}

// Primary returns the owner's primary human session.
func (r *Registry) Primary(owner string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.primary[owner]
	if !ok {
		return nil, false
	}
	slot, ok := r.slots[id]
	if !ok {
		return nil, false
	}
	return slot.sess, true
}

// List returns a consistent snapshot of active sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.slots))
	for _, slot := range r.slots {
		out = append(out, slot.sess)
	}
	return out
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Remove deletes a session and stops its scheduler. Idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	r.removeLocked(id)
	r.mu.Unlock()
}

func (r *Registry) removeLocked(id string) {
	slot, ok := r.slots[id]
	if !ok {
		return
	}
	slot.cancel()
	delete(r.slots, id)
	if r.primary[slot.sess.Owner] == id {
		delete(r.primary, slot.sess.Owner)
	}
	if r.OnClose != nil {
		r.OnClose(slot.sess.Owner, slot.sess.Return())
	}
	r.logger.Info("session removed", "session", id, "owner", slot.sess.Owner)
}

// Shutdown stops all schedulers and waits for them to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for id := range r.slots {
		r.removeLocked(id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
