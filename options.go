package statesync

import (
	"context"
	"fmt"

	"github.com/goliatone/go-statesync/pkg/activity"
	"github.com/goliatone/go-statesync/pkg/storage"
	"github.com/goliatone/go-statesync/pkg/storage/boltdb"
	"go.uber.org/zap"
)

// StorageOption selects a built-in storage engine.
type StorageOption int

const (
	// StorageSession keeps records in process memory.
	StorageSession StorageOption = iota
	// StorageLocal keeps records in a bbolt file; see WithLocalPath.
	StorageLocal
)

// Option configures a Controller.
type Option func(*optionsConfig)

type optionsConfig struct {
	keys          []string
	keyOverrides  map[string]string
	storage       StorageOption
	engine        storage.Engine
	localPath     string
	localBucket   string
	migrations    []Migration
	versionKey    string
	serializer    Serializer
	logger        *zap.Logger
	activityHooks activity.Hooks
	activity      activity.Config
	id            string
}

func applyOptions(opts []Option) optionsConfig {
	cfg := optionsConfig{
		activity: activity.Config{Enabled: true},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithKeys selects the slices to persist. Without keys (or with RootKey alone)
// the whole tree is stored as one record.
func WithKeys(keys ...string) Option {
	return func(cfg *optionsConfig) {
		cfg.keys = append(cfg.keys, keys...)
	}
}

// WithSliceKey stores slice under storageKey instead of its own name.
func WithSliceKey(slice, storageKey string) Option {
	return func(cfg *optionsConfig) {
		if cfg.keyOverrides == nil {
			cfg.keyOverrides = map[string]string{}
		}
		cfg.keyOverrides[slice] = storageKey
	}
}

// WithStorage selects a built-in engine. It is ignored when WithEngine is set.
func WithStorage(option StorageOption) Option {
	return func(cfg *optionsConfig) {
		cfg.storage = option
	}
}

// WithLocalPath sets the bbolt file and bucket used by StorageLocal. An empty
// bucket uses boltdb.DefaultBucket.
func WithLocalPath(path, bucket string) Option {
	return func(cfg *optionsConfig) {
		cfg.localPath = path
		cfg.localBucket = bucket
	}
}

// WithEngine uses a custom storage engine.
func WithEngine(engine storage.Engine) Option {
	return func(cfg *optionsConfig) {
		cfg.engine = engine
	}
}

// WithMigrations appends migrations, evaluated in the order given.
func WithMigrations(migrations ...Migration) Option {
	return func(cfg *optionsConfig) {
		cfg.migrations = append(cfg.migrations, migrations...)
	}
}

// WithVersionKey changes the default version field for migrations that do not
// set their own.
func WithVersionKey(key string) Option {
	return func(cfg *optionsConfig) {
		cfg.versionKey = key
	}
}

// WithSerializer replaces the JSON serializer.
func WithSerializer(serializer Serializer) Option {
	return func(cfg *optionsConfig) {
		cfg.serializer = serializer
	}
}

// WithLogger sets the logger for recovered errors and lifecycle messages.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *optionsConfig) {
		cfg.logger = logger
	}
}

// WithControllerID sets the id reported as the actor of activity events. A
// random UUID is used otherwise.
func WithControllerID(id string) Option {
	return func(cfg *optionsConfig) {
		cfg.id = id
	}
}

// resolved is the immutable persistence configuration a Controller owns.
type resolved struct {
	keys       keySet
	engine     storage.Engine
	closer     func(context.Context) error
	migrator   Migrator
	serializer Serializer
	logger     *zap.Logger
	emitter    *activity.Emitter
}

func (cfg optionsConfig) resolve() (resolved, error) {
	keys, err := resolveKeys(cfg.keys, cfg.keyOverrides)
	if err != nil {
		return resolved{}, err
	}
	if cfg.versionKey != "" {
		if err := validatePath(cfg.versionKey); err != nil {
			return resolved{}, &ConfigError{Field: "version_key", Err: err}
		}
	}
	if err := validateMigrations(cfg.migrations, keys); err != nil {
		return resolved{}, err
	}

	out := resolved{
		keys:       keys,
		migrator:   Migrator{Migrations: append([]Migration(nil), cfg.migrations...), VersionKey: cfg.versionKey},
		serializer: cfg.serializer,
		logger:     cfg.logger,
		emitter:    activity.NewEmitter(cfg.activityHooks, cfg.activity),
	}
	if out.serializer == nil {
		out.serializer = JSONSerializer{}
	}
	if out.logger == nil {
		out.logger = zap.NewNop()
	}

	switch {
	case cfg.engine != nil:
		out.engine = cfg.engine
	case cfg.storage == StorageLocal:
		if cfg.localPath == "" {
			return resolved{}, &ConfigError{Field: "storage", Err: fmt.Errorf("local storage requires a path")}
		}
		backend, err := boltdb.Open(boltdb.Config{Path: cfg.localPath, Bucket: cfg.localBucket})
		if err != nil {
			return resolved{}, &ConfigError{Field: "storage", Err: err}
		}
		queued := storage.NewQueued(backend)
		out.engine = queued
		out.closer = func(ctx context.Context) error {
			if err := queued.Close(ctx); err != nil {
				return err
			}
			return backend.Close()
		}
	case cfg.storage == StorageSession:
		out.engine = storage.Wrap(storage.NewMemory())
	default:
		return resolved{}, &ConfigError{Field: "storage", Err: fmt.Errorf("unknown storage option %d", cfg.storage)}
	}
	return out, nil
}
