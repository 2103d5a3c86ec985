// Package config loads runtime settings for the tasking CLI and its
// library callers: one viper instance binding defaults, CLI flags, and
// environment variables onto a typed Settings struct, grounded on
// 88lin-divinesense's cmd/divinesense/main.go wiring. There is no global
// singleton — Load returns a Settings value that callers thread explicitly
// into agent/workflow builders.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings is the fully resolved configuration for one process. Fields
// group by the subsystem they configure. ModelAPIKey has no default, so for
// the default "anthropic" provider (and for "openai") Load fails validation
// unless a key is supplied by flag or environment variable.
type Settings struct {
	// Mode selects logging verbosity and safety defaults: "dev" or "prod".
	Mode string

	// Model selects which pkg/model adapter to build and its connection
	// details.
	ModelProvider   string // "anthropic", "openai", or "bedrock"
	ModelAPIKey     string
	ModelName       string
	EmbeddingModel  string
	ModelMaxTokens  int
	BedrockRegion   string

	// ModelTokensPerMinute bounds the completion client with an adaptive
	// token-bucket rate limiter (pkg/model.AdaptiveRateLimiter). Zero
	// disables rate limiting entirely.
	ModelTokensPerMinute int

	// EmbedCacheSize bounds an LRU cache of Embed/EmbedBatch results
	// (pkg/model.EmbedCache) placed in front of the model client. Zero
	// disables embedding caching entirely.
	EmbedCacheSize int

	// Memory selects the pkg/memory adapters to build.
	VectorStoreDSN string // Postgres DSN for pkg/memory/vectorstore
	RedisAddr      string // pkg/memory/kvstore
	SQLiteDSN      string // pkg/memory/sqlstore; ":memory:" or a file path

	// Scheduler bounds default tree-run behavior.
	MaxHumanInterfereReentries int
	DefaultMaxRevisitCount     int

	// Durable optionally points at a Temporal server for internal/durable.
	// Empty HostPort means the in-memory scheduler runs standalone.
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string
}

func defaults() Settings {
	return Settings{
		Mode:                       "dev",
		ModelProvider:              "anthropic",
		ModelName:                  "claude-sonnet-4-5",
		ModelMaxTokens:             8192,
		EmbedCacheSize:             256,
		SQLiteDSN:                  "tasking.db",
		MaxHumanInterfereReentries: 0,
		DefaultMaxRevisitCount:     -1,
		TemporalNamespace:          "default",
		TemporalTaskQueue:          "tasking",
	}
}

// flagSpec is one bound setting: its viper key (also used as the CLI flag
// name), usage string, and primary/legacy environment variable names.
type flagSpec struct {
	key, usage  string
	env, legacy string
}

var stringFlags = []flagSpec{
	{key: "mode", usage: `process mode, "dev" or "prod"`, env: "TASKING_MODE", legacy: "MODE"},
	{key: "model-provider", usage: `model adapter: "anthropic", "openai", or "bedrock"`, env: "TASKING_MODEL_PROVIDER", legacy: "MODEL_PROVIDER"},
	{key: "model-api-key", usage: "API key for the selected model provider", env: "TASKING_MODEL_API_KEY", legacy: "MODEL_API_KEY"},
	{key: "model-name", usage: "default completion model name", env: "TASKING_MODEL_NAME", legacy: "MODEL_NAME"},
	{key: "embedding-model", usage: "embedding model name (OpenAI only)", env: "TASKING_EMBEDDING_MODEL", legacy: "EMBEDDING_MODEL"},
	{key: "bedrock-region", usage: "AWS region for the Bedrock runtime client", env: "TASKING_BEDROCK_REGION", legacy: "AWS_REGION"},
	{key: "vector-store-dsn", usage: "Postgres DSN for the pgvector episodic store", env: "TASKING_VECTOR_STORE_DSN", legacy: "VECTOR_STORE_DSN"},
	{key: "redis-addr", usage: "Redis address for the key-value store", env: "TASKING_REDIS_ADDR", legacy: "REDIS_ADDR"},
	{key: "sqlite-dsn", usage: "SQLite DSN or file path for the embedded SQL store", env: "TASKING_SQLITE_DSN", legacy: "SQLITE_DSN"},
	{key: "temporal-host-port", usage: "Temporal server host:port; empty disables durable scheduling", env: "TASKING_TEMPORAL_HOST_PORT", legacy: "TEMPORAL_HOST_PORT"},
	{key: "temporal-namespace", usage: "Temporal namespace", env: "TASKING_TEMPORAL_NAMESPACE", legacy: "TEMPORAL_NAMESPACE"},
	{key: "temporal-task-queue", usage: "Temporal task queue name", env: "TASKING_TEMPORAL_TASK_QUEUE", legacy: "TEMPORAL_TASK_QUEUE"},
}

var intFlags = []flagSpec{
	{key: "model-max-tokens", usage: "default max completion tokens", env: "TASKING_MODEL_MAX_TOKENS", legacy: "MODEL_MAX_TOKENS"},
	{key: "max-human-interfere-reentries", usage: "bound on human-interfere re-entries; 0 means unbounded", env: "TASKING_MAX_HUMAN_INTERFERE_REENTRIES", legacy: "MAX_HUMAN_INTERFERE_REENTRIES"},
	{key: "default-max-revisit-count", usage: "default per-task max revisit count; a negative value selects acyclic mode (no revisits)", env: "TASKING_DEFAULT_MAX_REVISIT_COUNT", legacy: "DEFAULT_MAX_REVISIT_COUNT"},
	{key: "model-tokens-per-minute", usage: "adaptive rate limit budget for the model client; 0 disables it", env: "TASKING_MODEL_TOKENS_PER_MINUTE", legacy: "MODEL_TOKENS_PER_MINUTE"},
	{key: "embed-cache-size", usage: "LRU cache size for Embed/EmbedBatch results; 0 disables caching", env: "TASKING_EMBED_CACHE_SIZE", legacy: "EMBED_CACHE_SIZE"},
}

// BindFlags registers every Settings field as a persistent flag on flags
// and binds it into v, following the teacher's bind-then-fall-back-to-a
// legacy-prefixed env var pattern. Call this once from a cobra command's
// init before Load.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	d := defaults()
	byKey := map[string]string{
		"mode":            d.Mode,
		"model-provider":  d.ModelProvider,
		"model-name":      d.ModelName,
		"sqlite-dsn":      d.SQLiteDSN,
		"temporal-namespace": d.TemporalNamespace,
		"temporal-task-queue": d.TemporalTaskQueue,
	}
	for _, spec := range stringFlags {
		flags.String(spec.key, byKey[spec.key], spec.usage)
		if err := bindWithFallback(v, flags, spec); err != nil {
			return err
		}
	}

	intByKey := map[string]int{
		"model-max-tokens":              d.ModelMaxTokens,
		"max-human-interfere-reentries":  d.MaxHumanInterfereReentries,
		"default-max-revisit-count":      d.DefaultMaxRevisitCount,
		"model-tokens-per-minute":        d.ModelTokensPerMinute,
		"embed-cache-size":               d.EmbedCacheSize,
	}
	for _, spec := range intFlags {
		flags.Int(spec.key, intByKey[spec.key], spec.usage)
		if err := bindWithFallback(v, flags, spec); err != nil {
			return err
		}
	}

	v.SetEnvPrefix("tasking")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	return nil
}

func bindWithFallback(v *viper.Viper, flags *pflag.FlagSet, spec flagSpec) error {
	if err := v.BindPFlag(spec.key, flags.Lookup(spec.key)); err != nil {
		return fmt.Errorf("config: bind flag %q: %w", spec.key, err)
	}
	if err := v.BindEnv(spec.key, spec.env); err != nil {
		return fmt.Errorf("config: bind env %q: %w", spec.env, err)
	}
	if spec.legacy != "" {
		if err := v.BindEnv(spec.key, spec.legacy); err != nil {
			return fmt.Errorf("config: bind legacy env %q: %w", spec.legacy, err)
		}
	}
	return nil
}

// Load reads v's currently bound values (flags, env, defaults, and any
// file config previously merged via v.ReadInConfig) into a Settings value
// and validates it.
func Load(v *viper.Viper) (Settings, error) {
	s := Settings{
		Mode:                       v.GetString("mode"),
		ModelProvider:              v.GetString("model-provider"),
		ModelAPIKey:                v.GetString("model-api-key"),
		ModelName:                  v.GetString("model-name"),
		EmbeddingModel:             v.GetString("embedding-model"),
		ModelMaxTokens:             v.GetInt("model-max-tokens"),
		BedrockRegion:              v.GetString("bedrock-region"),
		VectorStoreDSN:             v.GetString("vector-store-dsn"),
		RedisAddr:                  v.GetString("redis-addr"),
		SQLiteDSN:                  v.GetString("sqlite-dsn"),
		MaxHumanInterfereReentries: v.GetInt("max-human-interfere-reentries"),
		DefaultMaxRevisitCount:     v.GetInt("default-max-revisit-count"),
		ModelTokensPerMinute:       v.GetInt("model-tokens-per-minute"),
		EmbedCacheSize:             v.GetInt("embed-cache-size"),
		TemporalHostPort:           v.GetString("temporal-host-port"),
		TemporalNamespace:          v.GetString("temporal-namespace"),
		TemporalTaskQueue:          v.GetString("temporal-task-queue"),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the fields Load cannot default its way around.
func (s Settings) Validate() error {
	switch s.Mode {
	case "dev", "prod":
	default:
		return fmt.Errorf("config: mode must be \"dev\" or \"prod\", got %q", s.Mode)
	}
	switch s.ModelProvider {
	case "anthropic", "openai", "bedrock":
	default:
		return fmt.Errorf("config: model-provider must be \"anthropic\", \"openai\", or \"bedrock\", got %q", s.ModelProvider)
	}
	if s.ModelProvider != "bedrock" && s.ModelAPIKey == "" {
		return fmt.Errorf("config: model-api-key is required for provider %q", s.ModelProvider)
	}
	if s.ModelProvider == "bedrock" && s.BedrockRegion == "" {
		return fmt.Errorf("config: bedrock-region is required for provider \"bedrock\"")
	}
	return nil
}

// WatchAndReload registers a callback invoked every time the config file
// backing v changes on disk, using fsnotify through viper's own watcher.
// This is optional: callers that never call v.SetConfigFile / WatchConfig
// simply never get reload events. onChange receives the freshly reloaded
// and validated Settings, or an error if the reload failed validation.
func WatchAndReload(v *viper.Viper, onChange func(Settings, error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		s, err := Load(v)
		onChange(s, err)
	})
	v.WatchConfig()
}
