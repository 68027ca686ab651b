package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// loader implements the Service interface for configuration management.
type loader struct {
	koanf      *koanf.Koanf
	validator  *validator.Validate
	sources    map[string]SourceType
	sourcesMu  sync.RWMutex
	lookupEnv  func() []string
	envEnabled bool
}

// sensitiveStringDecodeHook converts strings to SensitiveString.
func sensitiveStringDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(SensitiveString("")) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return SensitiveString(v), nil
	case []byte:
		return SensitiveString(v), nil
	default:
		return data, nil
	}
}

// sensitiveSliceDecodeHook splits comma separated strings into []SensitiveString.
func sensitiveSliceDecodeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf([]SensitiveString{}) {
		return data, nil
	}
	raw := strings.TrimSpace(data.(string))
	if raw == "" {
		return []SensitiveString{}, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]SensitiveString, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, SensitiveString(part))
		}
	}
	return out, nil
}

// NewService creates a new configuration service with validation support.
func NewService() Service {
	return &loader{
		koanf:      koanf.New("."),
		validator:  validator.New(),
		sources:    make(map[string]SourceType),
		envEnabled: true,
	}
}

// Load loads defaults, then each source in order, then the environment.
func (l *loader) Load(_ context.Context, sources ...Source) (*Config, error) {
	l.reset()
	if err := l.koanf.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	l.trackChanges(nil, SourceDefault)
	var cliSources []Source
	for _, source := range sources {
		if source == nil {
			continue
		}
		switch source.Type() {
		case SourceEnv:
			continue
		case SourceCLI:
			// flags outrank the environment
			cliSources = append(cliSources, source)
			continue
		}
		if err := l.loadSource(source); err != nil {
			return nil, err
		}
	}
	if l.envEnabled {
		if err := l.loadEnvironment(); err != nil {
			return nil, err
		}
	}
	for _, source := range cliSources {
		if err := l.loadSource(source); err != nil {
			return nil, err
		}
	}
	return l.unmarshalAndValidate()
}

func (l *loader) reset() {
	l.koanf = koanf.New(".")
	l.sourcesMu.Lock()
	l.sources = make(map[string]SourceType)
	l.sourcesMu.Unlock()
}

func (l *loader) snapshot() map[string]any {
	before := make(map[string]any)
	for _, key := range l.koanf.Keys() {
		before[key] = l.koanf.Get(key)
	}
	return before
}

func (l *loader) trackChanges(before map[string]any, source SourceType) {
	for _, key := range l.koanf.Keys() {
		prev, existed := before[key]
		if !existed || !reflect.DeepEqual(prev, l.koanf.Get(key)) {
			l.sourcesMu.Lock()
			l.sources[key] = source
			l.sourcesMu.Unlock()
		}
	}
}

// loadEnvironment maps env vars declared through `env` struct tags onto config paths.
func (l *loader) loadEnvironment() error {
	before := l.snapshot()
	envToPath := envPaths()
	opt := env.Opt{
		TransformFunc: func(key string, value string) (string, any) {
			path, ok := envToPath[key]
			if !ok {
				return "", nil
			}
			return path, value
		},
	}
	if l.lookupEnv != nil {
		opt.EnvironFunc = l.lookupEnv
	}
	if err := l.koanf.Load(env.Provider(".", opt), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	l.trackChanges(before, SourceEnv)
	return nil
}

func (l *loader) loadSource(source Source) error {
	data, err := source.Load()
	if err != nil {
		return fmt.Errorf("failed to load from source %s: %w", source.Type(), err)
	}
	if len(data) == 0 {
		return nil
	}
	before := l.snapshot()
	for key, value := range flattenMap("", data) {
		if err := l.koanf.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s from source %s: %w", key, source.Type(), err)
		}
	}
	l.trackChanges(before, source.Type())
	return nil
}

// flattenMap flattens a nested map into dot-notation keys
func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}

func (l *loader) unmarshalAndValidate() (*Config, error) {
	var cfg Config
	if err := l.koanf.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				sensitiveSliceDecodeHook,
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				sensitiveStringDecodeHook,
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (l *loader) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := l.validator.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if cfg.Database.ConnString == "" {
		if cfg.Database.Host == "" || cfg.Database.Port == "" || cfg.Database.DBName == "" {
			return fmt.Errorf("database configuration incomplete: either conn_string or host, port and name required")
		}
	}
	if (cfg.Crypto.PublicKey == "") != (cfg.Crypto.PrivateKey == "") {
		return fmt.Errorf("crypto public_key and private_key must be set together")
	}
	if cfg.Server.Auth.Enabled && len(cfg.Server.Auth.Tokens) == 0 {
		return fmt.Errorf("server auth enabled but no tokens configured")
	}
	for _, token := range cfg.Server.Auth.Tokens {
		if !strings.Contains(string(token), "=") {
			return fmt.Errorf("auth token entries must use token=organization_id:user_id")
		}
	}
	return nil
}

// GetSource returns the source type for a specific configuration key.
func (l *loader) GetSource(key string) SourceType {
	l.sourcesMu.RLock()
	defer l.sourcesMu.RUnlock()
	if source, ok := l.sources[key]; ok {
		return source
	}
	return SourceDefault
}
