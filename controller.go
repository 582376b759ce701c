package statesync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-statesync/internal/dotpath"
	"github.com/goliatone/go-statesync/layering"
	"github.com/goliatone/go-statesync/pkg/activity"
	"github.com/goliatone/go-statesync/pkg/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Unit is one stored record after load and migration.
type Unit struct {
	// Key is the storage key the record was read from.
	Key string
	// Slice is the slice path for scoped records, "" for the global record.
	Slice string
	// Value is the migrated value. It is nil when Found is false.
	Value any
	Found bool
	// Raw holds the bytes read from storage.
	Raw []byte
	// Migrated lists the migrations applied, in order.
	Migrated []Migration
	// Err is the recovered error for this record, if any: a *StorageError
	// or *DeserializeError (the record counts as absent) or a
	// *MigrationError (Value holds the pre-migration value).
	Err error
}

// Controller keeps a live state container and a storage engine in sync. It
// hydrates the container once at Start and then writes every change back.
type Controller struct {
	id  string
	cfg resolved

	phase    atomic.Int32
	inflight atomic.Int64
	started  atomic.Bool

	// saveMu keeps writes in the order their trees were handed over.
	saveMu sync.Mutex

	mu          sync.Mutex
	lastRaw     map[string][]byte
	nextWrite   uint64
	pending     map[uint64]chan struct{}
	writeErrs   []error
	unsubscribe func()
	saveCtx     context.Context
}

// New validates opts and returns an idle controller. Configuration problems
// are returned as *ConfigError before any storage access.
func New(opts ...Option) (*Controller, error) {
	cfg := applyOptions(opts)
	res, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	id := cfg.id
	if id == "" {
		id = uuid.NewString()
	}
	c := &Controller{
		id:      id,
		cfg:     res,
		lastRaw: map[string][]byte{},
		pending: map[uint64]chan struct{}{},
		saveCtx: context.Background(),
	}
	c.cfg.logger = c.cfg.logger.With(zap.String("controller", id))
	return c, nil
}

// ID identifies the controller in logs and activity events.
func (c *Controller) ID() string {
	return c.id
}

// Phase reports the lifecycle phase. A ready controller with writes in flight
// reports PhaseSaving.
func (c *Controller) Phase() Phase {
	phase := Phase(c.phase.Load())
	if phase == PhaseReady && c.inflight.Load() > 0 {
		return PhaseSaving
	}
	return phase
}

// Engine returns the storage engine in use.
func (c *Controller) Engine() storage.Engine {
	return c.cfg.engine
}

// Start loads, migrates and merges every configured record, seeds container
// with the result and writes the seeded records back before returning. Every
// later container change is written as well. Storage, decoding and migration
// failures are logged and never fail Start; only a Seed error, a second Start
// or ctx cancellation do. Failed initial writes are returned by the next Flush.
func (c *Controller) Start(ctx context.Context, container Container) error {
	if container == nil {
		return fmt.Errorf("statesync: start: nil container")
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	merged := c.Load(ctx, container.Snapshot())

	c.mu.Lock()
	c.saveCtx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	// Subscribe before seeding so no change is missed; saveMu holds those
	// changes back until the seeded tree has been issued.
	c.saveMu.Lock()
	unsubscribe := container.Subscribe(func(tree Tree) {
		c.mu.Lock()
		saveCtx := c.saveCtx
		c.mu.Unlock()
		c.Save(saveCtx, tree)
	})
	if err := container.Seed(merged); err != nil {
		c.saveMu.Unlock()
		unsubscribe()
		return fmt.Errorf("statesync: seed: %w", err)
	}
	c.setPhase(PhaseReady)
	c.cfg.logger.Debug("state seeded", zap.Int("slices", len(merged)))
	c.save(ctx, merged)
	c.saveMu.Unlock()

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	// Failures of the initial write stay queued for the next Flush.
	return c.wait(ctx)
}

// Load returns live with every stored record merged over it. It does not seed
// anything and may be used without Start.
func (c *Controller) Load(ctx context.Context, live Tree) Tree {
	units := c.LoadUnits(ctx)

	c.setPhase(PhaseMerging)
	var overrides []layering.Override
	for _, unit := range units {
		if !unit.Found {
			continue
		}
		if unit.Slice != "" {
			overrides = append(overrides, layering.Override{Path: unit.Slice, Value: unit.Value})
			continue
		}
		global, ok := layering.GlobalOverrides(unit.Value)
		if !ok {
			c.cfg.logger.Warn("global record is not an object, ignoring",
				zap.String("key", unit.Key), zap.String("type", fmt.Sprintf("%T", unit.Value)))
			continue
		}
		overrides = append(overrides, global...)
	}

	merged, dropped := layering.Merge(map[string]any(live), overrides...)
	for _, path := range dropped {
		c.cfg.logger.Debug("dropping stored slice missing from live state", zap.String("slice", path))
	}
	return Tree(merged)
}

// LoadUnits reads every configured key concurrently, decodes and migrates
// the records. Failures are recovered per record and reported in Unit.Err.
func (c *Controller) LoadUnits(ctx context.Context) []Unit {
	if ctx == nil {
		ctx = context.Background()
	}
	c.setPhase(PhaseLoading)

	keys := c.cfg.keys.StorageKeys()
	units := make([]Unit, len(keys))
	var group errgroup.Group
	for i, key := range keys {
		group.Go(func() error {
			units[i] = c.read(ctx, key)
			return nil
		})
	}
	_ = group.Wait()

	c.setPhase(PhaseMigrating)
	for i := range units {
		c.migrate(ctx, &units[i])
	}
	return units
}

func (c *Controller) read(ctx context.Context, key string) Unit {
	unit := Unit{Key: key, Slice: c.cfg.keys.unitFor(key)}
	logger := c.cfg.logger.With(zap.String("key", key))

	item, err := c.cfg.engine.Get(ctx, key).Await(ctx)
	if err != nil {
		unit.Err = &StorageError{Op: "get", Key: key, Err: err}
		logger.Warn("read failed, using defaults", zap.Error(unit.Err))
		c.emit(ctx, activity.BuildFailedEvent(activity.RecordEventInput{
			ControllerID: c.id, Key: key, Unit: unit.Slice, Err: unit.Err,
		}))
		return unit
	}
	if !item.Found {
		logger.Debug("no stored record")
		return unit
	}
	unit.Raw = item.Raw

	value, ok, err := c.cfg.serializer.Deserialize(item.Raw)
	if err != nil {
		unit.Err = &DeserializeError{Key: key, Err: err}
		logger.Warn("stored record is malformed, using defaults", zap.Error(unit.Err))
		c.emit(ctx, activity.BuildFailedEvent(activity.RecordEventInput{
			ControllerID: c.id, Key: key, Unit: unit.Slice, Err: unit.Err, Bytes: len(item.Raw),
		}))
		return unit
	}
	if !ok {
		logger.Debug("stored record is empty")
		return unit
	}

	unit.Value = value
	unit.Found = true
	c.emit(ctx, activity.BuildLoadedEvent(activity.RecordEventInput{
		ControllerID: c.id, Key: key, Unit: unit.Slice, Bytes: len(item.Raw),
	}))
	return unit
}

func (c *Controller) migrate(ctx context.Context, unit *Unit) {
	if !unit.Found || len(c.cfg.migrator.Migrations) == 0 {
		return
	}
	logger := c.cfg.logger.With(zap.String("key", unit.Key))

	value, applied, err := c.cfg.migrator.Apply(unit.Slice, unit.Value)
	if err != nil {
		unit.Err = err
		logger.Warn("migration failed, keeping stored version", zap.Error(err))
		c.emit(ctx, activity.BuildFailedEvent(activity.RecordEventInput{
			ControllerID: c.id, Key: unit.Key, Unit: unit.Slice, Err: err,
		}))
		return
	}
	unit.Value = value
	unit.Migrated = applied
	if len(applied) == 0 {
		return
	}
	versions := make([]any, 0, len(applied))
	for _, migration := range applied {
		versions = append(versions, migration.Version)
	}
	logger.Info("record migrated", zap.Any("from_versions", versions))
	c.emit(ctx, activity.BuildMigratedEvent(activity.RecordEventInput{
		ControllerID: c.id, Key: unit.Key, Unit: unit.Slice, Versions: versions,
	}))
}

// WriteUnits rewrites the records of units that were migrated and waits for
// the writes. It is meant for offline tooling; a running controller rewrites
// migrated records at Start.
func (c *Controller) WriteUnits(ctx context.Context, units []Unit) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	for _, unit := range units {
		if !unit.Found || unit.Err != nil || len(unit.Migrated) == 0 {
			continue
		}
		raw, err := c.cfg.serializer.Serialize(unit.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("statesync: serialize %q: %w", unit.Key, err))
			continue
		}
		if _, err := c.cfg.engine.Set(ctx, unit.Key, raw).Await(ctx); err != nil {
			errs = append(errs, &StorageError{Op: "set", Key: unit.Key, Err: err})
			continue
		}
		c.emit(ctx, activity.BuildSavedEvent(activity.RecordEventInput{
			ControllerID: c.id, Key: unit.Key, Unit: unit.Slice, Bytes: len(raw),
		}))
	}
	return errors.Join(errs...)
}

// Save writes the records selected from tree. Writes are issued in order and
// not awaited; use Flush to wait for them. Slices missing from tree and
// records whose bytes match the last write are skipped.
func (c *Controller) Save(ctx context.Context, tree Tree) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	c.save(ctx, tree)
}

func (c *Controller) save(ctx context.Context, tree Tree) {
	root := map[string]any(tree)

	if c.cfg.keys.global {
		c.write(ctx, RootKey, "", root)
		return
	}
	for _, slice := range c.cfg.keys.slices {
		if _, ok := root[dotpath.Head(slice.Path)]; !ok {
			continue
		}
		value, ok := dotpath.Get(root, slice.Path)
		if !ok {
			continue
		}
		c.write(ctx, slice.StorageKey, slice.Path, value)
	}
}

func (c *Controller) write(ctx context.Context, key, slice string, value any) {
	logger := c.cfg.logger.With(zap.String("key", key))

	raw, err := c.cfg.serializer.Serialize(value)
	if err != nil {
		logger.Warn("serialize failed, skipping write", zap.Error(err))
		c.emit(ctx, activity.BuildFailedEvent(activity.RecordEventInput{
			ControllerID: c.id, Key: key, Unit: slice, Err: err,
			Metadata: map[string]any{"op": "serialize"},
		}))
		return
	}

	c.mu.Lock()
	if last, ok := c.lastRaw[key]; ok && bytes.Equal(last, raw) {
		c.mu.Unlock()
		return
	}
	c.lastRaw[key] = raw
	c.nextWrite++
	id := c.nextWrite
	done := make(chan struct{})
	c.pending[id] = done
	c.inflight.Add(1)
	c.mu.Unlock()

	ack := c.cfg.engine.Set(ctx, key, raw)
	go c.settle(ctx, id, done, key, slice, raw, ack)
}

// settle waits for a write and records its outcome. A failed write forgets
// the cached bytes so the next change retries it.
func (c *Controller) settle(ctx context.Context, id uint64, done chan struct{}, key, slice string, raw []byte, ack *storage.Ack) {
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		c.inflight.Add(-1)
		close(done)
	}()

	_, err := ack.Await(context.WithoutCancel(ctx))
	if err == nil {
		c.emit(ctx, activity.BuildSavedEvent(activity.RecordEventInput{
			ControllerID: c.id, Key: key, Unit: slice, Bytes: len(raw),
		}))
		return
	}

	storageErr := &StorageError{Op: "set", Key: key, Err: err}
	c.cfg.logger.Warn("write failed, dropping", zap.String("key", key), zap.Error(storageErr))
	c.mu.Lock()
	if last, ok := c.lastRaw[key]; ok && bytes.Equal(last, raw) {
		delete(c.lastRaw, key)
	}
	c.writeErrs = append(c.writeErrs, storageErr)
	c.mu.Unlock()
	c.emit(ctx, activity.BuildFailedEvent(activity.RecordEventInput{
		ControllerID: c.id, Key: key, Unit: slice, Err: storageErr,
		Metadata: map[string]any{"op": "set"},
	}))
}

// Flush waits for every write issued so far and returns the write failures
// seen since the previous Flush.
func (c *Controller) Flush(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	errs := c.writeErrs
	c.writeErrs = nil
	c.mu.Unlock()
	return errors.Join(errs...)
}

// wait blocks until every write issued so far has settled.
func (c *Controller) wait(ctx context.Context) error {
	c.mu.Lock()
	waiting := make([]chan struct{}, 0, len(c.pending))
	for _, done := range c.pending {
		waiting = append(waiting, done)
	}
	c.mu.Unlock()

	for _, done := range waiting {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops following the container, waits for pending writes and releases
// storage the controller opened itself.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}

	flushErr := c.Flush(ctx)
	if c.cfg.closer == nil {
		return flushErr
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return errors.Join(flushErr, c.cfg.closer(ctx))
}

func (c *Controller) setPhase(phase Phase) {
	c.phase.Store(int32(phase))
}

func (c *Controller) emit(ctx context.Context, event activity.Event) {
	if !c.cfg.emitter.Enabled() {
		return
	}
	if err := c.cfg.emitter.Emit(ctx, event); err != nil {
		c.cfg.logger.Debug("activity hook failed", zap.String("verb", event.Verb), zap.Error(err))
	}
}
