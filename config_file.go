package statesync

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileConfig is the file form of the persistence configuration. YAML and
// JSON files are both accepted.
//
//	key: [counter, todos]
//	slice_keys: {todos: "app:todos"}
//	storage: {kind: local, path: state.db}
//	migrations:
//	  - version: 1
//	    key: counter
//	    engine: cel
//	    migrate: '{"counts": count, "version": 2}'
type FileConfig struct {
	Key        []string              `mapstructure:"key"`
	SliceKeys  map[string]string     `mapstructure:"slice_keys"`
	Storage    FileStorageConfig     `mapstructure:"storage"`
	Serializer string                `mapstructure:"serializer"`
	VersionKey string                `mapstructure:"version_key"`
	Migrations []FileMigrationConfig `mapstructure:"migrations"`
}

// FileStorageConfig selects the storage engine.
type FileStorageConfig struct {
	// Kind is "session" (default) or "local".
	Kind   string `mapstructure:"kind"`
	Path   string `mapstructure:"path"`
	Bucket string `mapstructure:"bucket"`
}

// FileMigrationConfig is a migration whose step is an expression.
type FileMigrationConfig struct {
	Version    any    `mapstructure:"version"`
	Key        string `mapstructure:"key"`
	VersionKey string `mapstructure:"version_key"`
	// Engine is "expr" (default), "cel" or "js".
	Engine  string         `mapstructure:"engine"`
	Migrate string         `mapstructure:"migrate"`
	Args    map[string]any `mapstructure:"args"`
}

// ConfigFileOption configures how a config file is turned into options.
type ConfigFileOption func(*configFileSettings)

type configFileSettings struct {
	registry *FunctionRegistry
	logger   *zap.Logger
}

// ConfigWithFunctions exposes registry to migration expressions.
func ConfigWithFunctions(registry *FunctionRegistry) ConfigFileOption {
	return func(s *configFileSettings) {
		s.registry = registry
	}
}

// ConfigWithLogger logs every migration expression evaluation.
func ConfigWithLogger(logger *zap.Logger) ConfigFileOption {
	return func(s *configFileSettings) {
		s.logger = logger
	}
}

// LoadConfigFile reads path and returns the options it describes.
func LoadConfigFile(path string, opts ...ConfigFileOption) ([]Option, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "file", Err: err}
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, err
	}
	return cfg.Options(opts...)
}

// ParseConfig decodes a YAML or JSON document. key may be a single slice name
// or a list.
func ParseConfig(raw []byte) (FileConfig, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return FileConfig{}, &ConfigError{Field: "file", Err: err}
	}

	var cfg FileConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &cfg,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return FileConfig{}, &ConfigError{Field: "file", Err: err}
	}
	if err := decoder.Decode(doc); err != nil {
		return FileConfig{}, &ConfigError{Field: "file", Err: err}
	}
	for i, key := range cfg.Key {
		cfg.Key[i] = strings.TrimSpace(key)
	}
	return cfg, nil
}

// Options turns the file configuration into controller options. Migration
// expressions are compiled here, so syntax errors surface as *ConfigError.
func (cfg FileConfig) Options(opts ...ConfigFileOption) ([]Option, error) {
	settings := configFileSettings{}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	var out []Option
	if len(cfg.Key) > 0 {
		out = append(out, WithKeys(cfg.Key...))
	}
	for slice, key := range cfg.SliceKeys {
		out = append(out, WithSliceKey(slice, key))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Kind)) {
	case "", "session", "memory":
		out = append(out, WithStorage(StorageSession))
	case "local", "bolt":
		out = append(out, WithStorage(StorageLocal), WithLocalPath(cfg.Storage.Path, cfg.Storage.Bucket))
	default:
		return nil, &ConfigError{Field: "storage.kind", Err: fmt.Errorf("unknown storage kind %q", cfg.Storage.Kind)}
	}

	if cfg.Serializer != "" {
		serializer, err := SerializerByName(cfg.Serializer)
		if err != nil {
			return nil, &ConfigError{Field: "serializer", Err: err}
		}
		out = append(out, WithSerializer(serializer))
	}
	if cfg.VersionKey != "" {
		out = append(out, WithVersionKey(cfg.VersionKey))
	}

	if len(cfg.Migrations) > 0 {
		migrations, err := cfg.compileMigrations(settings)
		if err != nil {
			return nil, err
		}
		out = append(out, WithMigrations(migrations...))
	}
	return out, nil
}

func (cfg FileConfig) compileMigrations(settings configFileSettings) ([]Migration, error) {
	cache := NewProgramCache()
	evaluators := map[string]Evaluator{}
	migrations := make([]Migration, 0, len(cfg.Migrations))

	for i, entry := range cfg.Migrations {
		field := fmt.Sprintf("migrations[%d]", i)
		engine := strings.ToLower(strings.TrimSpace(entry.Engine))
		evaluator, ok := evaluators[engine]
		if !ok {
			var err error
			evaluator, err = EvaluatorByName(engine, settings.registry, cache)
			if err != nil {
				return nil, &ConfigError{Field: field + ".engine", Err: err}
			}
			evaluators[engine] = evaluator
		}

		exprOpts := []MigrationExprOption{WithMigrationArgs(entry.Args)}
		if entry.Key != "" {
			exprOpts = append(exprOpts, WithMigrationUnit(entry.Key))
		}
		if settings.logger != nil {
			exprOpts = append(exprOpts, WithMigrationLogger(ZapEvaluatorLogger(settings.logger)))
		}
		migrate, err := CompileMigration(evaluator, entry.Migrate, exprOpts...)
		if err != nil {
			return nil, &ConfigError{Field: field + ".migrate", Err: err}
		}
		migrations = append(migrations, Migration{
			Version:    entry.Version,
			Key:        entry.Key,
			VersionKey: entry.VersionKey,
			Migrate:    migrate,
		})
	}
	return migrations, nil
}
