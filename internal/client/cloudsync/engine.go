// Package cloudsync keeps the local store and the selected remote provider
// converged: per-entity last-write-wins merges, a durable queue for work
// that could not run, connectivity tracking and the periodic tasks that
// drive all of it.
package cloudsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pixelartvj/officesync/internal/client/bus"
	"github.com/pixelartvj/officesync/internal/client/encryption"
	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/client/providers"
	"github.com/pixelartvj/officesync/internal/client/repositories/metadata"
	"github.com/pixelartvj/officesync/internal/client/repositories/queue"
	"github.com/pixelartvj/officesync/internal/client/store"
	"github.com/pixelartvj/officesync/internal/cryptox"
	"github.com/pixelartvj/officesync/internal/logging"
)

const (
	DefaultProbeInterval = 10 * time.Second
	DefaultSyncInterval  = 30 * time.Second
	DefaultFeedRetry     = 5 * time.Second
)

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithProber(p Prober) Option { return func(e *Engine) { e.prober = p } }

func WithMetadata(m metadata.Repository) Option { return func(e *Engine) { e.meta = m } }

func WithGate(g *encryption.Gate) Option { return func(e *Engine) { e.gate = g } }

func WithBus(b *bus.Bus) Option { return func(e *Engine) { e.bus = b } }

// WithEntities overrides the entities a full sync walks, in order.
func WithEntities(entities ...string) Option {
	return func(e *Engine) { e.entities = append([]string(nil), entities...) }
}

func WithIntervals(probe, sync time.Duration) Option {
	return func(e *Engine) {
		if probe > 0 {
			e.probeInterval = probe
		}
		if sync > 0 {
			e.syncInterval = sync
		}
	}
}

func WithDeviceID(id string) Option { return func(e *Engine) { e.deviceID = id } }

// Engine is the cloud sync service. It is inert until Init and runs its
// background tasks between Start and Dispose.
type Engine struct {
	provider providers.Provider
	store    store.EntityStore
	queue    queue.Repository
	meta     metadata.Repository
	gate     *encryption.Gate
	bus      *bus.Bus
	prober   Prober
	clock    clockwork.Clock
	logger   logging.Logger

	entities      []string
	probeInterval time.Duration
	syncInterval  time.Duration
	deviceID      string

	mu          sync.RWMutex
	user        *models.User
	password    string
	online      bool
	initialized bool
	lastSync    time.Time
	feedCancel  context.CancelFunc

	syncing    atomic.Bool
	draining   atomic.Bool
	feedWakeup chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(p providers.Provider, st store.EntityStore, q queue.Repository, logger logging.Logger, opts ...Option) *Engine {
	if p == nil {
		p = providers.Disabled{}
	}
	e := &Engine{
		provider:      p,
		store:         st,
		queue:         q,
		prober:        StaticProber(true),
		clock:         clockwork.NewRealClock(),
		logger:        logger.With("component", "cloudsync", "provider", p.Name()),
		entities:      append([]string(nil), store.SyncedEntities...),
		probeInterval: DefaultProbeInterval,
		syncInterval:  DefaultSyncInterval,
		feedWakeup:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Provider() providers.Provider { return e.provider }

func (e *Engine) disabled() bool { return providers.IsDisabled(e.provider) }

// Init seeds connectivity from the prober, loads the last sync time and
// makes the engine operational.
func (e *Engine) Init(ctx context.Context) error {
	online := e.prober.Reachable(ctx)

	var last time.Time
	if e.meta != nil {
		t, err := metadata.GetTime(ctx, e.meta, metadata.KeyLastSyncTime)
		if err != nil {
			e.logger.Warn(ctx, "failed to read last sync time", "error", err)
		}
		last = t
	}

	if !e.disabled() && online {
		if err := e.provider.HealthCheck(ctx); err != nil {
			e.logger.Warn(ctx, "provider health check failed", "error", err)
		}
	}

	e.mu.Lock()
	e.online = online
	e.lastSync = last
	e.initialized = true
	e.mu.Unlock()

	e.logger.Info(ctx, "cloud sync initialized", "online", online)
	return nil
}

// Start launches the connectivity probe, the periodic sync, the mutation
// listener and, when the provider offers one, the change feed.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	var sub *bus.Subscription
	if e.bus != nil {
		sub = e.bus.Subscribe(bus.TopicRecordChanged)
	}

	e.wg.Add(2)
	go e.probeLoop(ctx)
	go e.syncLoop(ctx)

	if sub != nil {
		e.wg.Add(1)
		go e.changeLoop(ctx, sub)
	}

	if src, ok := e.provider.(FeedSource); ok {
		e.wg.Add(1)
		go e.feedLoop(ctx, src)
	}
}

// Dispose stops every background task and waits for them.
func (e *Engine) Dispose() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.initialized = false
	e.mu.Unlock()
}

type tokenSetter interface {
	SetToken(token string)
}

// SetUser makes u the active user. Field encryption uses a password
// derived from the user's id and e-mail.
func (e *Engine) SetUser(u models.User, authToken string) {
	e.mu.Lock()
	user := u.Sanitized()
	e.user = &user
	e.password = cryptox.DeriveUserPassword(u.ID, u.Email)
	e.stopFeedLocked()
	e.mu.Unlock()

	if ts, ok := e.provider.(tokenSetter); ok {
		ts.SetToken(authToken)
	}
	e.wakeFeed()
}

func (e *Engine) ClearUser() {
	e.mu.Lock()
	e.user = nil
	e.password = ""
	e.stopFeedLocked()
	e.mu.Unlock()

	if ts, ok := e.provider.(tokenSetter); ok {
		ts.SetToken("")
	}
}

func (e *Engine) currentUser() (*models.User, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.user, e.password
}

func (e *Engine) IsOnline() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.online
}

func (e *Engine) isInitialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// SetOnline records connectivity. Only transitions act: going online
// replays the queue and, with a user set, runs a full sync.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()

	if was == online {
		return
	}

	e.logger.Info(ctx, "connectivity changed", "online", online)
	if !online {
		return
	}

	if err := e.ProcessQueue(ctx); err != nil {
		e.logger.Warn(ctx, "queue replay failed", "error", err)
	}
	if u, _ := e.currentUser(); u != nil {
		if err := e.SyncAll(ctx); err != nil {
			e.logger.Warn(ctx, "full sync failed", "error", err)
		}
	}
	e.wakeFeed()
}

// SyncAll syncs every entity in order. It does nothing when the provider is
// disabled, no user is set, the engine is offline or a full sync is
// already running. Per-entity failures are queued, not returned.
func (e *Engine) SyncAll(ctx context.Context) error {
	if e.disabled() || !e.isInitialized() || !e.IsOnline() {
		return nil
	}
	if u, _ := e.currentUser(); u == nil {
		return nil
	}
	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Debug(ctx, "full sync already running")
		return nil
	}
	defer e.syncing.Store(false)

	snapshot := e.fetchAll(ctx)
	for _, entity := range e.entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.syncOrQueue(ctx, entity, snapshot)
	}

	now := e.clock.Now()
	e.mu.Lock()
	e.lastSync = now
	e.mu.Unlock()

	if e.meta != nil {
		if err := metadata.SetTime(ctx, e.meta, metadata.KeyLastSyncTime, now); err != nil {
			e.logger.Warn(ctx, "failed to persist last sync time", "error", err)
		}
	}

	e.publish(bus.Event{Topic: bus.TopicSyncComplete})
	e.logger.Info(ctx, "full sync complete")
	return nil
}

// SyncEntity syncs one entity now, or queues the work when offline or
// without a user. Sync failures are queued for retry and never returned.
func (e *Engine) SyncEntity(ctx context.Context, entity string) error {
	if e.disabled() || !e.isInitialized() {
		return nil
	}
	u, _ := e.currentUser()
	if !e.IsOnline() || u == nil {
		return e.enqueueSync(ctx, entity)
	}
	e.syncOrQueue(ctx, entity, nil)
	return nil
}

// fetchAll reads every remote collection in one request when the provider
// supports it. A nil result makes each entity fetch its own collection.
func (e *Engine) fetchAll(ctx context.Context) map[string][]models.Record {
	bf, ok := e.provider.(BulkFetcher)
	if !ok {
		return nil
	}
	u, _ := e.currentUser()
	if u == nil {
		return nil
	}
	all, err := bf.FetchAll(ctx, u.ID)
	if err != nil {
		e.logger.Warn(ctx, "bulk fetch failed, fetching per entity", "error", err)
		return nil
	}
	if all == nil {
		all = map[string][]models.Record{}
	}
	return all
}

func (e *Engine) syncOrQueue(ctx context.Context, entity string, snapshot map[string][]models.Record) {
	if err := e.syncEntityFrom(ctx, entity, snapshot); err != nil {
		e.logger.Warn(ctx, "entity sync failed, queued for retry", "entity", entity, "error", err)
		if qerr := e.enqueueSync(ctx, entity); qerr != nil {
			e.logger.Error(ctx, "failed to queue sync", "entity", entity, "error", qerr)
		}
	}
}

// syncEntity runs read-local, read-remote, merge, write-local, write-remote
// in that order.
func (e *Engine) syncEntity(ctx context.Context, entity string) error {
	return e.syncEntityFrom(ctx, entity, nil)
}

// syncEntityFrom is syncEntity with the remote collection taken from
// snapshot when one was fetched up front.
func (e *Engine) syncEntityFrom(ctx context.Context, entity string, snapshot map[string][]models.Record) error {
	u, password := e.currentUser()
	if u == nil {
		return fmt.Errorf("sync %s: no active user", entity)
	}

	local, err := e.store.GetAll(ctx, entity)
	if err != nil {
		return fmt.Errorf("read local %s: %w", entity, err)
	}

	var remote []models.Record
	if snapshot != nil {
		remote = models.CloneRecords(snapshot[entity])
	} else if remote, err = e.provider.FetchEntity(ctx, u.ID, entity); err != nil {
		return fmt.Errorf("fetch remote %s: %w", entity, err)
	}
	if e.gate != nil {
		remote = e.gate.DecryptArray(ctx, entity, remote, password)
	}

	pull, push := Merge(local, remote)

	applied := 0
	for _, r := range pull {
		r = r.Clone()
		r[models.FieldSynced] = true
		// A local edit made after the read above wins over the remote copy.
		ok, err := e.store.PutIfNewer(ctx, entity, r)
		if err != nil {
			return fmt.Errorf("apply %s[%s]: %w", entity, r.ID(), err)
		}
		if ok {
			applied++
		}
	}

	if len(push) > 0 {
		if err := e.push(ctx, u.ID, password, entity, push); err != nil {
			return err
		}
	}

	if applied > 0 {
		e.publish(bus.Event{Topic: bus.TopicEntityUpdated, Entity: entity})
	}

	e.logger.Debug(ctx, "entity synced", "entity", entity, "pulled", applied, "pushed", len(push))
	return nil
}

// push encrypts and uploads records, then flags the local copies synced
// unless they changed while the push was in flight.
func (e *Engine) push(ctx context.Context, userID, password, entity string, recs []models.Record) error {
	out := make([]models.Record, 0, len(recs))
	for _, r := range recs {
		c := r.Clone()
		c[models.FieldSynced] = true
		out = append(out, c)
	}

	if e.gate != nil {
		var err error
		if out, err = e.gate.EncryptArray(ctx, entity, out, password); err != nil {
			return fmt.Errorf("encrypt %s: %w", entity, err)
		}
	}

	if err := e.provider.PushEntity(ctx, userID, entity, out); err != nil {
		return fmt.Errorf("push %s: %w", entity, err)
	}
	if err := e.store.MarkSynced(ctx, entity, recs); err != nil {
		return fmt.Errorf("mark %s synced: %w", entity, err)
	}
	return nil
}

func (e *Engine) enqueueSync(ctx context.Context, entity string) error {
	pending, err := e.queue.HasPending(ctx, entity, models.OpSync)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	return e.enqueue(ctx, entity, models.OpSync, nil)
}

func (e *Engine) enqueue(ctx context.Context, entity string, op models.Operation, data models.Record) error {
	entry := models.QueueEntry{
		ID:        uuid.NewString(),
		Entity:    entity,
		Operation: op,
		Data:      data,
		CreatedAt: e.clock.Now(),
		Priority:  op.Priority(),
	}
	if err := e.queue.Add(ctx, entry); err != nil {
		return fmt.Errorf("queue %s %s: %w", op, entity, err)
	}
	e.logger.Debug(ctx, "operation queued", "entity", entity, "op", op)
	return nil
}

func (e *Engine) publish(ev bus.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// Status reports the engine state.
func (e *Engine) Status(ctx context.Context) models.SyncStatus {
	n, err := e.queue.Count(ctx)
	if err != nil {
		e.logger.Warn(ctx, "failed to count queue", "error", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	st := models.SyncStatus{
		Online:           e.online,
		Syncing:          e.syncing.Load(),
		QueuedOperations: n,
		DeviceID:         e.deviceID,
		Provider:         e.provider.Name(),
		LastSyncTime:     e.lastSync,
	}
	if e.user != nil {
		st.UserID = e.user.ID
	}
	return st
}
