package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Directory routes requests to per-user actors, spawning or rehydrating them
// on first contact. It is the public entry point of the ledger: callers never
// hold an actor directly, so no shared mutable state crosses actor boundaries.
type Directory struct {
	store Store
	cfg   Config

	mu     sync.Mutex
	actors map[string]*actorEntry
	closed bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

type actorEntry struct {
	actor     *actor
	lastTouch time.Time
}

// NewDirectory creates a directory backed by the given store.
func NewDirectory(store Store, cfg Config) (*Directory, error) {
	if store == nil {
		return nil, ErrStorageUnavailable
	}
	d := &Directory{
		store:     store,
		cfg:       cfg.withDefaults(),
		actors:    make(map[string]*actorEntry),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go d.sweep()
	return d, nil
}

func (d *Directory) actorFor(userID string) (*actor, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrActorClosed
	}
	e, ok := d.actors[userID]
	if !ok {
		e = &actorEntry{actor: newActor(userID, d.store, d.cfg)}
		d.actors[userID] = e
	}
	e.lastTouch = d.cfg.Clock.Now()
	return e.actor, nil
}

// Initialize creates fresh state for a user on the given plan. It is a no-op
// for an already-initialized user and returns the current standing either way.
func (d *Directory) Initialize(ctx context.Context, userID string, plan Plan) (UsageStatus, error) {
	a, err := d.actorFor(userID)
	if err != nil {
		return UsageStatus{}, err
	}
	return a.Initialize(ctx, plan)
}

// HasCredits answers the quota check for a user from actor memory.
func (d *Directory) HasCredits(ctx context.Context, userID string) (CreditCheck, error) {
	a, err := d.actorFor(userID)
	if err != nil {
		return CreditCheck{}, err
	}
	return a.HasCredits(ctx)
}

// Status returns the read-only usage projection for a user.
func (d *Directory) Status(ctx context.Context, userID string) (UsageStatus, error) {
	a, err := d.actorFor(userID)
	if err != nil {
		return UsageStatus{}, err
	}
	return a.Status(ctx)
}

// StartSession starts a session for a user.
func (d *Directory) StartSession(ctx context.Context, userID string, opts StartOptions) (StartResult, error) {
	a, err := d.actorFor(userID)
	if err != nil {
		return StartResult{}, err
	}
	return a.StartSession(ctx, opts)
}

// Heartbeat refreshes liveness for a user's session.
func (d *Directory) Heartbeat(ctx context.Context, userID, sessionID string) (HeartbeatResult, error) {
	a, err := d.actorFor(userID)
	if err != nil {
		return HeartbeatResult{}, err
	}
	return a.Heartbeat(ctx, sessionID)
}

// EndSession ends a user's session. Duplicate and mismatched calls return
// zero minutes, not an error. An empty reason defaults to EndReasonUser.
func (d *Directory) EndSession(ctx context.Context, userID, sessionID string, reason EndReason) (EndResult, error) {
	a, err := d.actorFor(userID)
	if err != nil {
		return EndResult{}, err
	}
	return a.EndSession(ctx, sessionID, reason)
}

// ChangePlan applies a plan change for a user, creating the actor if the
// billing event arrives before first use.
func (d *Directory) ChangePlan(ctx context.Context, userID string, plan Plan, resetUsage bool) (UsageStatus, error) {
	a, err := d.actorFor(userID)
	if err != nil {
		return UsageStatus{}, err
	}
	return a.ChangePlan(ctx, plan, resetUsage)
}

// Close stops the sweeper and shuts down all actors, flushing their state.
func (d *Directory) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	entries := make([]*actorEntry, 0, len(d.actors))
	for _, e := range d.actors {
		entries = append(entries, e)
	}
	d.mu.Unlock()

	close(d.sweepStop)
	<-d.sweepDone

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			return e.actor.closeAndWait(ctx)
		})
	}
	return g.Wait()
}

// sweep periodically evicts actors that have sat idle past IdleActorTTL.
// Their state is flushed on shutdown and rehydrated on next contact.
func (d *Directory) sweep() {
	defer close(d.sweepDone)
	if d.cfg.IdleActorTTL < 0 {
		return
	}

	interval := d.cfg.IdleActorTTL / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.sweepStop:
			return
		case <-ticker.C:
			d.evictIdle()
		}
	}
}

func (d *Directory) evictIdle() {
	now := d.cfg.Clock.Now()

	d.mu.Lock()
	candidates := make(map[string]*actorEntry)
	for id, e := range d.actors {
		if now.Sub(e.lastTouch) > d.cfg.IdleActorTTL {
			candidates[id] = e
		}
	}
	d.mu.Unlock()

	for id, e := range candidates {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		idle, err := e.actor.idle(ctx)
		cancel()
		if err != nil || !idle {
			continue
		}

		d.mu.Lock()
		// Re-check under the lock: the actor may have been touched since.
		if cur, ok := d.actors[id]; ok && cur == e && now.Sub(cur.lastTouch) > d.cfg.IdleActorTTL {
			delete(d.actors, id)
			d.mu.Unlock()
			e.actor.close()
			d.cfg.Logger.Debug("evicted idle actor", Field{Key: "user_id", Value: id})
			continue
		}
		d.mu.Unlock()
	}
}
