// Package config loads the service's configuration from the process
// environment, the way the teacher's config package does: one
// load*Config helper per concern, aggregated into a root Config.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every configuration concern the service needs at boot.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Entropy EntropyConfig
	Turn    TurnConfig
	Auth    AuthConfig
	AI      AIConfig
}

// Load reads every concern from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}
	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}
	entropy, err := loadEntropyConfig()
	if err != nil {
		return nil, err
	}
	turn, err := loadTurnConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Storage: storage,
		Entropy: entropy,
		Turn:    turn,
		Auth:    loadAuthConfig(),
		AI:      loadAIConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow "127.0.0.1:8080" as well as a bare port.
		return ServerConfig{Addr: port}, nil
	}
	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}
	return ServerConfig{Addr: ":" + port}, nil
}

// Backend identifies which Storage implementation to construct.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
)

// StorageConfig describes the storage backend and its connection details.
type StorageConfig struct {
	Backend     Backend
	DataRoot    string
	DatabaseURL string
}

func loadStorageConfig() (StorageConfig, error) {
	backend := Backend(strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", "file")))
	if backend != BackendFile && backend != BackendSQLite {
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_BACKEND value: %q", backend)
	}
	return StorageConfig{
		Backend:     backend,
		DataRoot:    getEnvOrDefault("DATA_ROOT", "./data"),
		DatabaseURL: getEnvOrDefault("DATABASE_URL", "./data/turnkeeper.db"),
	}, nil
}

// EntropyConfig describes the deterministic dice stream's extension policy.
type EntropyConfig struct {
	Seed       int64
	InitialLen int
}

func loadEntropyConfig() (EntropyConfig, error) {
	seed, err := parseOptionalInt64Env("ENTROPY_SEED")
	if err != nil {
		return EntropyConfig{}, err
	}
	seedValue := int64(1)
	if seed != nil {
		seedValue = *seed
	}

	initialLen, err := parseOptionalIntEnv("ENTROPY_INITIAL_LEN")
	if err != nil {
		return EntropyConfig{}, err
	}
	initialLenValue := 4096
	if initialLen != nil {
		initialLenValue = *initialLen
	}

	return EntropyConfig{Seed: seedValue, InitialLen: initialLenValue}, nil
}

// TurnConfig describes preview retention and lock defaults.
type TurnConfig struct {
	PreviewTTLSeconds     int
	PreviewMaxCount       int
	LockDefaultTTLSeconds int
}

func loadTurnConfig() (TurnConfig, error) {
	previewTTL, err := parseOptionalIntEnv("PREVIEW_TTL_SECONDS")
	if err != nil {
		return TurnConfig{}, err
	}
	previewTTLValue := 3600
	if previewTTL != nil {
		previewTTLValue = *previewTTL
	}

	previewMax, err := parseOptionalIntEnv("PREVIEW_MAX_COUNT")
	if err != nil {
		return TurnConfig{}, err
	}
	previewMaxValue := 500
	if previewMax != nil {
		previewMaxValue = *previewMax
	}

	lockTTL, err := parseOptionalIntEnv("LOCK_DEFAULT_TTL_SECONDS")
	if err != nil {
		return TurnConfig{}, err
	}
	lockTTLValue := 120
	if lockTTL != nil {
		lockTTLValue = *lockTTL
	}

	return TurnConfig{
		PreviewTTLSeconds:     previewTTLValue,
		PreviewMaxCount:       previewMaxValue,
		LockDefaultTTLSeconds: lockTTLValue,
	}, nil
}

// AuthConfig describes the shared-secret header gate for mutating routes.
type AuthConfig struct {
	APIKey string
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{APIKey: strings.TrimSpace(os.Getenv("API_KEY"))}
}

// Enabled reports whether the shared-secret header gate is active.
func (c AuthConfig) Enabled() bool { return c.APIKey != "" }

// AIConfig describes the narration producer's model connection. This
// service never interprets narration content; it only needs enough to hand
// the narrator package a working chat model.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether enough credentials were supplied to build a model.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel constructs the eino chat model backing the narrator.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("narrator model credentials missing: set ARK_API_KEY + Model, or ARK_ACCESS_KEY/ARK_SECRET_KEY + Model")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}
	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}
	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() AIConfig {
	temperature, _ := parseOptionalFloatEnv("ARK_TEMPERATURE")
	topP, _ := parseOptionalFloatEnv("ARK_TOP_P")
	maxTokens, _ := parseOptionalIntEnv("ARK_MAX_TOKENS")

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &val, nil
}

func parseOptionalInt64Env(key string) (*int64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	val, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &val, nil
}
