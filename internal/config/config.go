package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultLLMProvider       = "openai"
	defaultLLMModel          = "gpt-4o"
	defaultAPIKeyEnv         = "OPENAI_API_KEY"
	defaultHFBaseURL         = "https://api-inference.huggingface.co"
	defaultHFTokenEnv        = "HF_API_TOKEN"
	defaultRequestsPerMinute = 20
	defaultLLMTimeout        = 60 * time.Second
	defaultReplayStrategy    = "cursor"
	defaultMaxSteps          = 200
	defaultDotRadius         = 5
	defaultMaxTableChildren  = 5
	defaultVisualizeAddr     = "127.0.0.1:8080"
	defaultLogLevel          = "info"
	defaultLogMaxSizeMB      = 10
	defaultLogMaxFiles       = 5
)

var ErrInvalidConfig = errors.New("invalid config")

var (
	validProviders  = []string{"openai", "davinci", "huggingface"}
	validStrategies = []string{"vanilla", "cursor"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
)

type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	LLM       LLMConfig       `toml:"llm"`
	Replay    ReplayConfig    `toml:"replay"`
	Visualize VisualizeConfig `toml:"visualize"`
	Logging   LoggingConfig   `toml:"logging"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LLMConfig struct {
	Provider          string        `toml:"provider"`
	Model             string        `toml:"model"`
	BaseURL           string        `toml:"base_url"`
	APIKeyEnv         string        `toml:"api_key_env"`
	HFBaseURL         string        `toml:"hf_base_url"`
	HFTokenEnv        string        `toml:"hf_token_env"`
	RequestsPerMinute int           `toml:"requests_per_minute"`
	Timeout           time.Duration `toml:"timeout"`

	// Resolved from the environment named by APIKeyEnv / HFTokenEnv. Never
	// read from or written to the TOML file.
	APIKey  string `toml:"-"`
	HFToken string `toml:"-"`
}

type ReplayConfig struct {
	Strategy          string `toml:"strategy"`
	ProcessEvents     bool   `toml:"process_events"`
	IncludeWindowData bool   `toml:"include_window_data"`
	MaxSteps          int    `toml:"max_steps"`
	DotRadius         int    `toml:"dot_radius"`
}

type VisualizeConfig struct {
	// MaxEvents of zero renders every event.
	MaxEvents        int    `toml:"max_events"`
	MaxTableChildren int    `toml:"max_table_children"`
	Scrub            bool   `toml:"scrub"`
	Addr             string `toml:"addr"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type LoadOptions struct {
	ConfigPath string
	// DotEnvPath defaults to ".env" in the working directory. A missing file
	// is not an error.
	DotEnvPath string
	Env        map[string]string
	Flags      FlagOverrides
}

type FlagOverrides struct {
	DBPath   *string
	LogLevel *string
	Model    *string
	Provider *string
	Strategy *string
	MaxSteps *int
}

func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Path: "",
		},
		LLM: LLMConfig{
			Provider:          defaultLLMProvider,
			Model:             defaultLLMModel,
			APIKeyEnv:         defaultAPIKeyEnv,
			HFBaseURL:         defaultHFBaseURL,
			HFTokenEnv:        defaultHFTokenEnv,
			RequestsPerMinute: defaultRequestsPerMinute,
			Timeout:           defaultLLMTimeout,
		},
		Replay: ReplayConfig{
			Strategy:          defaultReplayStrategy,
			ProcessEvents:     true,
			IncludeWindowData: false,
			MaxSteps:          defaultMaxSteps,
			DotRadius:         defaultDotRadius,
		},
		Visualize: VisualizeConfig{
			MaxEvents:        0,
			MaxTableChildren: defaultMaxTableChildren,
			Scrub:            false,
			Addr:             defaultVisualizeAddr,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			File:      "",
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}
}

func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	dotenv, err := readDotEnv(opts.DotEnvPath)
	if err != nil {
		return Config{}, err
	}
	env := envLookup{opts: opts, dotenv: dotenv}

	configPath, err := resolveConfigPath(env, opts)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}
	if err := loadAndApplyFile(configPath, &cfg); err != nil {
		return Config{}, err
	}

	if err := applyEnvOverrides(&cfg, env); err != nil {
		return Config{}, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	if cfg.Database.Path == "" {
		home, err := adaptHome(env)
		if err != nil {
			return Config{}, err
		}
		cfg.Database.Path = filepath.Join(home, "adapt.db")
	}
	if value, ok := env.lookup(cfg.LLM.APIKeyEnv); ok {
		cfg.LLM.APIKey = value
	}
	if value, ok := env.lookup(cfg.LLM.HFTokenEnv); ok {
		cfg.LLM.HFToken = value
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Path returns the config file Load would read for opts, whether or not it
// exists yet.
func Path(opts LoadOptions) (string, error) {
	dotenv, err := readDotEnv(opts.DotEnvPath)
	if err != nil {
		return "", err
	}
	path, err := resolveConfigPath(envLookup{opts: opts, dotenv: dotenv}, opts)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return path, nil
}

type rawConfig struct {
	Database  *rawDatabase  `toml:"database"`
	LLM       *rawLLM       `toml:"llm"`
	Replay    *rawReplay    `toml:"replay"`
	Visualize *rawVisualize `toml:"visualize"`
	Logging   *rawLogging   `toml:"logging"`
}

type rawDatabase struct {
	Path *string `toml:"path"`
}

type rawLLM struct {
	Provider          *string `toml:"provider"`
	Model             *string `toml:"model"`
	BaseURL           *string `toml:"base_url"`
	APIKeyEnv         *string `toml:"api_key_env"`
	HFBaseURL         *string `toml:"hf_base_url"`
	HFTokenEnv        *string `toml:"hf_token_env"`
	RequestsPerMinute *int    `toml:"requests_per_minute"`
	Timeout           *string `toml:"timeout"`
}

type rawReplay struct {
	Strategy          *string `toml:"strategy"`
	ProcessEvents     *bool   `toml:"process_events"`
	IncludeWindowData *bool   `toml:"include_window_data"`
	MaxSteps          *int    `toml:"max_steps"`
	DotRadius         *int    `toml:"dot_radius"`
}

type rawVisualize struct {
	MaxEvents        *int    `toml:"max_events"`
	MaxTableChildren *int    `toml:"max_table_children"`
	Scrub            *bool   `toml:"scrub"`
	Addr             *string `toml:"addr"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

func loadAndApplyFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}

	return applyRawConfig(cfg, raw)
}

func applyRawConfig(cfg *Config, raw rawConfig) error {
	if raw.Database != nil {
		setString(raw.Database.Path, &cfg.Database.Path)
	}

	if raw.LLM != nil {
		setString(raw.LLM.Provider, &cfg.LLM.Provider)
		setString(raw.LLM.Model, &cfg.LLM.Model)
		setString(raw.LLM.BaseURL, &cfg.LLM.BaseURL)
		setString(raw.LLM.APIKeyEnv, &cfg.LLM.APIKeyEnv)
		setString(raw.LLM.HFBaseURL, &cfg.LLM.HFBaseURL)
		setString(raw.LLM.HFTokenEnv, &cfg.LLM.HFTokenEnv)
		setInt(raw.LLM.RequestsPerMinute, &cfg.LLM.RequestsPerMinute)
		if err := setDuration("llm.timeout", raw.LLM.Timeout, &cfg.LLM.Timeout); err != nil {
			return err
		}
	}

	if raw.Replay != nil {
		setString(raw.Replay.Strategy, &cfg.Replay.Strategy)
		setBool(raw.Replay.ProcessEvents, &cfg.Replay.ProcessEvents)
		setBool(raw.Replay.IncludeWindowData, &cfg.Replay.IncludeWindowData)
		setInt(raw.Replay.MaxSteps, &cfg.Replay.MaxSteps)
		setInt(raw.Replay.DotRadius, &cfg.Replay.DotRadius)
	}

	if raw.Visualize != nil {
		setInt(raw.Visualize.MaxEvents, &cfg.Visualize.MaxEvents)
		setInt(raw.Visualize.MaxTableChildren, &cfg.Visualize.MaxTableChildren)
		setBool(raw.Visualize.Scrub, &cfg.Visualize.Scrub)
		setString(raw.Visualize.Addr, &cfg.Visualize.Addr)
	}

	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.File, &cfg.Logging.File)
		setInt(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		setInt(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}

	return nil
}

func applyEnvOverrides(cfg *Config, env envLookup) error {
	if value, ok := env.lookup("ADAPT_DB_PATH"); ok {
		cfg.Database.Path = value
	}

	if value, ok := env.lookup("ADAPT_LLM_PROVIDER"); ok {
		cfg.LLM.Provider = value
	}
	if value, ok := env.lookup("ADAPT_LLM_MODEL"); ok {
		cfg.LLM.Model = value
	}
	if value, ok := env.lookup("ADAPT_LLM_BASE_URL"); ok {
		cfg.LLM.BaseURL = value
	}
	if err := envInt(env, "ADAPT_LLM_REQUESTS_PER_MINUTE", &cfg.LLM.RequestsPerMinute); err != nil {
		return err
	}
	if value, ok := env.lookup("ADAPT_LLM_TIMEOUT"); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: parse ADAPT_LLM_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		cfg.LLM.Timeout = d
	}

	if value, ok := env.lookup("ADAPT_REPLAY_STRATEGY"); ok {
		cfg.Replay.Strategy = value
	}
	if err := envBool(env, "ADAPT_REPLAY_PROCESS_EVENTS", &cfg.Replay.ProcessEvents); err != nil {
		return err
	}
	if err := envBool(env, "ADAPT_REPLAY_INCLUDE_WINDOW_DATA", &cfg.Replay.IncludeWindowData); err != nil {
		return err
	}
	if err := envInt(env, "ADAPT_REPLAY_MAX_STEPS", &cfg.Replay.MaxSteps); err != nil {
		return err
	}

	if err := envInt(env, "ADAPT_VISUALIZE_MAX_EVENTS", &cfg.Visualize.MaxEvents); err != nil {
		return err
	}
	if err := envBool(env, "ADAPT_VISUALIZE_SCRUB", &cfg.Visualize.Scrub); err != nil {
		return err
	}
	if value, ok := env.lookup("ADAPT_VISUALIZE_ADDR"); ok {
		cfg.Visualize.Addr = value
	}

	if value, ok := env.lookup("ADAPT_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := env.lookup("ADAPT_LOG_FILE"); ok {
		cfg.Logging.File = value
	}
	if err := envInt(env, "ADAPT_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB); err != nil {
		return err
	}
	if err := envInt(env, "ADAPT_LOG_MAX_FILES", &cfg.Logging.MaxFiles); err != nil {
		return err
	}

	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	if flags.DBPath != nil {
		cfg.Database.Path = *flags.DBPath
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.Provider != nil {
		cfg.LLM.Provider = *flags.Provider
	}
	if flags.Model != nil {
		cfg.LLM.Model = *flags.Model
	}
	if flags.Strategy != nil {
		cfg.Replay.Strategy = *flags.Strategy
	}
	if flags.MaxSteps != nil {
		cfg.Replay.MaxSteps = *flags.MaxSteps
	}
}

func validate(cfg Config) error {
	if !slices.Contains(validProviders, cfg.LLM.Provider) {
		return fmt.Errorf("%w: llm.provider must be one of %v", ErrInvalidConfig, validProviders)
	}
	if cfg.LLM.Model == "" {
		return fmt.Errorf("%w: llm.model is required", ErrInvalidConfig)
	}
	if cfg.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("%w: llm.requests_per_minute must be >= 0", ErrInvalidConfig)
	}
	if cfg.LLM.Timeout <= 0 {
		return fmt.Errorf("%w: llm.timeout must be > 0", ErrInvalidConfig)
	}
	if !slices.Contains(validStrategies, cfg.Replay.Strategy) {
		return fmt.Errorf("%w: replay.strategy must be one of %v", ErrInvalidConfig, validStrategies)
	}
	if cfg.Replay.MaxSteps <= 0 {
		return fmt.Errorf("%w: replay.max_steps must be > 0", ErrInvalidConfig)
	}
	if cfg.Replay.DotRadius <= 0 {
		return fmt.Errorf("%w: replay.dot_radius must be > 0", ErrInvalidConfig)
	}
	if cfg.Visualize.MaxEvents < 0 || cfg.Visualize.MaxTableChildren < 0 {
		return fmt.Errorf("%w: visualize limits must be >= 0", ErrInvalidConfig)
	}
	if !slices.Contains(validLogLevels, cfg.Logging.Level) {
		return fmt.Errorf("%w: logging.level must be one of %v", ErrInvalidConfig, validLogLevels)
	}
	return nil
}

func setDuration(field string, raw *string, target *time.Duration) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	*target = d
	return nil
}

func setString(raw *string, target *string) {
	if raw != nil {
		*target = *raw
	}
}

func setBool(raw *bool, target *bool) {
	if raw != nil {
		*target = *raw
	}
}

func setInt(raw *int, target *int) {
	if raw != nil {
		*target = *raw
	}
}

func envInt(env envLookup, key string, target *int) error {
	value, ok := env.lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, key, err)
	}
	*target = parsed
	return nil
}

func envBool(env envLookup, key string, target *bool) error {
	value, ok := env.lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, key, err)
	}
	*target = parsed
	return nil
}

// envLookup resolves a key from explicit overrides, then the process
// environment, then the .env file.
type envLookup struct {
	opts   LoadOptions
	dotenv map[string]string
}

func (e envLookup) lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	if e.opts.Env != nil {
		if value, ok := e.opts.Env[key]; ok {
			return value, true
		}
	}
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	value, ok := e.dotenv[key]
	return value, ok
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		path = ".env"
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	return values, nil
}

func resolveConfigPath(env envLookup, opts LoadOptions) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := env.lookup("ADAPT_CONFIG_PATH"); ok {
		return value, nil
	}
	return defaultConfigPath()
}

func adaptHome(env envLookup) (string, error) {
	if value, ok := env.lookup("ADAPT_HOME"); ok {
		return value, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Adapt"), nil
	}

	dataHome := filepath.Join(home, ".local", "share")
	if xdgDataHome, ok := env.lookup("XDG_DATA_HOME"); ok && xdgDataHome != "" {
		dataHome = xdgDataHome
	}
	return filepath.Join(dataHome, "adapt"), nil
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Adapt", "config.toml"), nil
	}

	configHome := filepath.Join(home, ".config")
	if xdgConfigHome, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdgConfigHome != "" {
		configHome = xdgConfigHome
	}
	return filepath.Join(configHome, "adapt", "config.toml"), nil
}
