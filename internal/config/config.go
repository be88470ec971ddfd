package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"kpipolicy/internal/domain"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName       = "kpipolicy"
	defaultHTTPListen        = ":8080"
	defaultHealthPath        = "/healthz"
	defaultReadyPath         = "/readyz"
	defaultMetricsPath       = "/metrics"
	defaultNATSURL           = "nats://127.0.0.1:4222"
	defaultEvaluateSubject   = "kpipolicy.evaluate"
	defaultEvaluateGroup     = "kpipolicy-evaluators"
	defaultEvaluateTimeoutMS = 2000
	defaultAuditStream       = "KPIPOLICY_AUDIT"
	defaultAuditSubject      = "kpipolicy.audit"
	defaultBoltPath          = "data/kpipolicy.db"
	defaultBoltOpenTimeoutMS = 1000
	defaultPGMaxConns        = 4
	defaultPGConnectRetries  = 5
	defaultPGRetryDelayMS    = 1000
	defaultNATSRulesBucket   = "kpipolicy_rules"
	defaultNATSRulesKey      = "rules"
	defaultNATSMaxRetries    = 8
	defaultLogMaxSizeMB      = 100
	defaultLogMaxBackups     = 5
	defaultLogMaxAgeDays     = 28

	// StoreBackendBolt keeps rules in an embedded bbolt file.
	StoreBackendBolt = "bolt"
	// StoreBackendPostgres keeps rules in a PostgreSQL table.
	StoreBackendPostgres = "postgres"
	// StoreBackendNATS keeps rules in one JetStream KV entry.
	StoreBackendNATS = "nats"
	// StoreBackendMemory keeps rules in process memory only.
	StoreBackendMemory = "memory"

	// SeedModeUpsert upserts configured rules on startup.
	SeedModeUpsert = "upsert"
	// SeedModeRestore replaces the stored rule set with configured rules.
	SeedModeRestore = "restore"
	// SeedModeOff ignores configured rules.
	SeedModeOff = "off"

	// PostgresDSNEnv is consulted when store.postgres.dsn is empty.
	PostgresDSNEnv = "DATABASE_URL"
)

var (
	legacyRuleArrayPattern = regexp.MustCompile(`(?m)^\s*\[\[\s*rule\s*\]\]`)
	legacyRulesKeyPattern  = regexp.MustCompile(`(?m)^\s*\[\[?\s*rules(?:\.[^\]\s]+)*\s*\]\]?`)
)

// Config holds service runtime settings and seed rules.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Log      LogConfig      `toml:"log"`
	Store    StoreConfig    `toml:"store"`
	NATS     NATSConfig     `toml:"nats"`
	Evaluate EvaluateConfig `toml:"evaluate"`
	Audit    AuditConfig    `toml:"audit"`
	HTTP     HTTPConfig     `toml:"http"`
	Rules    []domain.Rule  `toml:"-"`
}

// rawConfig mirrors TOML model before runtime normalization.
// Params: decoded sections from one TOML source.
// Returns: raw rule map keyed by rule id.
type rawConfig struct {
	Service  ServiceConfig            `toml:"service"`
	Log      LogConfig                `toml:"log"`
	Store    StoreConfig              `toml:"store"`
	NATS     NATSConfig               `toml:"nats"`
	Evaluate EvaluateConfig           `toml:"evaluate"`
	Audit    AuditConfig              `toml:"audit"`
	HTTP     HTTPConfig               `toml:"http"`
	Rule     map[string]rawRuleConfig `toml:"rule"`
}

// rawRuleConfig stores one rule body from `[rule.<id>]` table.
// Params: rule fields except the key-derived id.
// Returns: intermediate rule body used for normalization.
type rawRuleConfig struct {
	ID          string             `toml:"id"`
	KPIID       string             `toml:"kpi_id"`
	Severity    []string           `toml:"severity"`
	Action      string             `toml:"action"`
	Params      map[string]any     `toml:"params"`
	Limits      map[string]any     `toml:"limits"`
	Window      *rawWindowConfig   `toml:"window"`
	Approval    *rawApprovalConfig `toml:"approval"`
	AutoExecute bool               `toml:"auto_execute"`
	AutoSuggest bool               `toml:"auto_suggest"`
}

type rawWindowConfig struct {
	Days  []int  `toml:"days"`
	Start string `toml:"start"`
	End   string `toml:"end"`
}

type rawApprovalConfig struct {
	Required         bool     `toml:"required"`
	Roles            []string `toml:"roles"`
	BypassIfSeverity string   `toml:"bypass_if_severity"`
}

// ServiceConfig contains process-level settings.
// Params: name, wall-clock zone for windows, and seed rule mode.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name     string `toml:"name"`
	Timezone string `toml:"timezone"`
	SeedMode string `toml:"seed_mode"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, path, and file rotation limits.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled    bool   `toml:"enabled"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// StoreConfig selects and configures the rule repository backend.
type StoreConfig struct {
	Backend  string              `toml:"backend"`
	Bolt     BoltStoreConfig     `toml:"bolt"`
	Postgres PostgresStoreConfig `toml:"postgres"`
	NATS     NATSStoreConfig     `toml:"nats"`
}

// BoltStoreConfig configures the embedded bbolt repository.
type BoltStoreConfig struct {
	Path          string `toml:"path"`
	OpenTimeoutMS int    `toml:"open_timeout_ms"`
}

// PostgresStoreConfig configures the PostgreSQL repository.
// Params: DSN (falls back to $DATABASE_URL), pool size, and connect retry policy.
type PostgresStoreConfig struct {
	DSN            string `toml:"dsn"`
	MaxConns       int    `toml:"max_conns"`
	ConnectRetries int    `toml:"connect_retries"`
	RetryDelayMS   int    `toml:"retry_delay_ms"`
}

// NATSStoreConfig configures the JetStream KV repository.
// Params: bucket, key holding the rule set, create flag, and CAS retry bound.
type NATSStoreConfig struct {
	URL               []string `toml:"-"`
	Bucket            string   `toml:"bucket"`
	Key               string   `toml:"key"`
	AllowCreateBucket bool     `toml:"allow_create_bucket"`
	MaxUpdateRetries  int      `toml:"max_update_retries"`
}

// NATSConfig holds server URLs shared by store, evaluate, and audit.
type NATSConfig struct {
	URL []string `toml:"url"`
}

// EvaluateConfig defines the NATS request/reply evaluation endpoint.
// Params: enable flag, subject, queue group, and per-request timeout.
// Returns: responder runtime options.
type EvaluateConfig struct {
	Enabled    bool   `toml:"enabled"`
	Subject    string `toml:"subject"`
	QueueGroup string `toml:"queue_group"`
	TimeoutMS  int    `toml:"timeout_ms"`
}

// AuditConfig defines the JetStream decision audit stream.
type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	Stream  string `toml:"stream"`
	Subject string `toml:"subject"`
}

// HTTPConfig defines the ops listener for probes and metrics.
type HTTPConfig struct {
	Enabled     bool   `toml:"enabled"`
	Listen      string `toml:"listen"`
	HealthPath  string `toml:"health_path"`
	ReadyPath   string `toml:"ready_path"`
	MetricsPath string `toml:"metrics_path"`
}

// ConfigSource describes where configuration is loaded from.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NeedsNATS reports whether any enabled component talks to NATS.
// Params: normalized config.
// Returns: true for nats store backend, evaluate responder, or audit stream.
func NeedsNATS(cfg Config) bool {
	return cfg.Store.Backend == StoreBackendNATS || cfg.Evaluate.Enabled || cfg.Audit.Enabled
}

// EvaluateTimeout returns per-request evaluation deadline.
func EvaluateTimeout(cfg Config) time.Duration {
	return time.Duration(cfg.Evaluate.TimeoutMS) * time.Millisecond
}

// normalizeRawConfig converts raw TOML model to runtime config.
// Params: decoded raw config from file fragment.
// Returns: normalized config snapshot.
func normalizeRawConfig(raw rawConfig) (Config, error) {
	cfg := Config{
		Service:  raw.Service,
		Log:      raw.Log,
		Store:    raw.Store,
		NATS:     raw.NATS,
		Evaluate: raw.Evaluate,
		Audit:    raw.Audit,
		HTTP:     raw.HTTP,
	}
	if len(raw.Rule) == 0 {
		return cfg, nil
	}

	ids := make([]string, 0, len(raw.Rule))
	for id := range raw.Rule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	cfg.Rules = make([]domain.Rule, 0, len(ids))
	for _, id := range ids {
		body := raw.Rule[id]
		if strings.TrimSpace(body.ID) != "" {
			return Config{}, fmt.Errorf("rule.%s.id is not supported; use [rule.%s] key as rule id", id, id)
		}
		rule, err := body.toRule(id)
		if err != nil {
			return Config{}, fmt.Errorf("rule.%s: %w", id, err)
		}
		cfg.Rules = append(cfg.Rules, rule)
	}
	return cfg, nil
}

// toRule converts one TOML rule table into domain rule.
// Params: key-derived rule id.
// Returns: domain rule (unvalidated) or limits conversion error.
func (r rawRuleConfig) toRule(id string) (domain.Rule, error) {
	rule := domain.Rule{
		ID: id,
		When: domain.When{
			KPIID:    r.KPIID,
			Severity: make([]domain.Severity, 0, len(r.Severity)),
		},
		Action:      domain.Action(r.Action),
		Params:      domain.ParamsFromRaw(r.Params),
		Limits:      make(map[string]float64, len(r.Limits)),
		AutoExecute: r.AutoExecute,
		AutoSuggest: r.AutoSuggest,
	}
	for _, severity := range r.Severity {
		rule.When.Severity = append(rule.When.Severity, domain.Severity(strings.ToLower(strings.TrimSpace(severity))))
	}
	for key, value := range r.Limits {
		number, ok := toFloat(value)
		if !ok {
			return domain.Rule{}, fmt.Errorf("limits.%s must be a number", key)
		}
		rule.Limits[key] = number
	}
	if r.Window != nil {
		rule.Window = &domain.Window{
			Days:  append([]int(nil), r.Window.Days...),
			Start: r.Window.Start,
			End:   r.Window.End,
		}
	}
	if r.Approval != nil {
		approval := &domain.Approval{
			Required:         r.Approval.Required,
			BypassIfSeverity: domain.Severity(strings.ToLower(strings.TrimSpace(r.Approval.BypassIfSeverity))),
		}
		for _, role := range r.Approval.Roles {
			approval.Roles = append(approval.Roles, domain.Role(strings.ToLower(strings.TrimSpace(role))))
		}
		rule.Approval = approval
	}
	return rule, nil
}

// toFloat converts TOML numeric values into float64.
func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case int64:
		return float64(typed), true
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	default:
		return math.NaN(), false
	}
}

// rejectUnsupportedSyntax checks deprecated/forbidden TOML syntax and returns explicit error.
// Params: raw TOML file body.
// Returns: error when unsupported syntax is detected.
func rejectUnsupportedSyntax(body []byte) error {
	if legacyRuleArrayPattern.Match(body) {
		return errors.New("[[rule]] arrays are not supported; use [rule.<rule_id>] tables")
	}
	if legacyRulesKeyPattern.Match(body) {
		return errors.New("[rules] section is not supported; use [rule.<rule_id>] tables")
	}
	return nil
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := rejectUnsupportedSyntax(body); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	var raw rawConfig
	if err := toml.Unmarshal(body, &raw); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	cfg, err := normalizeRawConfig(raw)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if src.Store.Backend != "" || src.Store.Bolt != (BoltStoreConfig{}) || src.Store.Postgres != (PostgresStoreConfig{}) || hasNATSStoreConfig(src.Store.NATS) {
		dst.Store = src.Store
	}
	if len(src.NATS.URL) > 0 {
		dst.NATS = src.NATS
	}
	if src.Evaluate != (EvaluateConfig{}) {
		dst.Evaluate = src.Evaluate
	}
	if src.Audit != (AuditConfig{}) {
		dst.Audit = src.Audit
	}
	if src.HTTP != (HTTPConfig{}) {
		dst.HTTP = src.HTTP
	}
	if len(src.Rules) > 0 {
		dst.Rules = append(dst.Rules, src.Rules...)
	}
}

// hasNATSStoreConfig reports whether a fragment set any store.nats key.
func hasNATSStoreConfig(cfg NATSStoreConfig) bool {
	return cfg.Bucket != "" || cfg.Key != "" || cfg.AllowCreateBucket || cfg.MaxUpdateRetries != 0
}

// applyDefaults fills optional settings.
// Params: mutable config after load/merge.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	cfg.Service.SeedMode = strings.ToLower(strings.TrimSpace(cfg.Service.SeedMode))
	if cfg.Service.SeedMode == "" {
		cfg.Service.SeedMode = SeedModeUpsert
	}

	applyLogSinkDefaults(&cfg.Log.Console, "line")
	applyLogSinkDefaults(&cfg.Log.File, "json")
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBackendBolt
	}
	if strings.TrimSpace(cfg.Store.Bolt.Path) == "" {
		cfg.Store.Bolt.Path = defaultBoltPath
	}
	if cfg.Store.Bolt.OpenTimeoutMS <= 0 {
		cfg.Store.Bolt.OpenTimeoutMS = defaultBoltOpenTimeoutMS
	}
	if strings.TrimSpace(cfg.Store.Postgres.DSN) == "" {
		cfg.Store.Postgres.DSN = os.Getenv(PostgresDSNEnv)
	}
	if cfg.Store.Postgres.MaxConns <= 0 {
		cfg.Store.Postgres.MaxConns = defaultPGMaxConns
	}
	if cfg.Store.Postgres.ConnectRetries <= 0 {
		cfg.Store.Postgres.ConnectRetries = defaultPGConnectRetries
	}
	if cfg.Store.Postgres.RetryDelayMS <= 0 {
		cfg.Store.Postgres.RetryDelayMS = defaultPGRetryDelayMS
	}
	if strings.TrimSpace(cfg.Store.NATS.Bucket) == "" {
		cfg.Store.NATS.Bucket = defaultNATSRulesBucket
	}
	if strings.TrimSpace(cfg.Store.NATS.Key) == "" {
		cfg.Store.NATS.Key = defaultNATSRulesKey
	}
	if cfg.Store.NATS.MaxUpdateRetries <= 0 {
		cfg.Store.NATS.MaxUpdateRetries = defaultNATSMaxRetries
	}

	cfg.NATS.URL = normalizeNATSURLs(cfg.NATS.URL)
	if len(cfg.NATS.URL) == 0 && NeedsNATS(*cfg) {
		cfg.NATS.URL = []string{defaultNATSURL}
	}
	cfg.Store.NATS.URL = append([]string(nil), cfg.NATS.URL...)

	if strings.TrimSpace(cfg.Evaluate.Subject) == "" {
		cfg.Evaluate.Subject = defaultEvaluateSubject
	}
	if strings.TrimSpace(cfg.Evaluate.QueueGroup) == "" {
		cfg.Evaluate.QueueGroup = defaultEvaluateGroup
	}
	if cfg.Evaluate.TimeoutMS <= 0 {
		cfg.Evaluate.TimeoutMS = defaultEvaluateTimeoutMS
	}

	if strings.TrimSpace(cfg.Audit.Stream) == "" {
		cfg.Audit.Stream = defaultAuditStream
	}
	if strings.TrimSpace(cfg.Audit.Subject) == "" {
		cfg.Audit.Subject = defaultAuditSubject
	}

	if strings.TrimSpace(cfg.HTTP.Listen) == "" {
		cfg.HTTP.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(cfg.HTTP.HealthPath) == "" {
		cfg.HTTP.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.HTTP.ReadyPath) == "" {
		cfg.HTTP.ReadyPath = defaultReadyPath
	}
	if strings.TrimSpace(cfg.HTTP.MetricsPath) == "" {
		cfg.HTTP.MetricsPath = defaultMetricsPath
	}
}

// applyLogSinkDefaults fills level/format and rotation limits for one sink.
func applyLogSinkDefaults(sink *LogSinkConfig, format string) {
	if sink.Level == "" {
		sink.Level = "info"
	}
	if sink.Format == "" {
		sink.Format = format
	}
	if sink.MaxSizeMB <= 0 {
		sink.MaxSizeMB = defaultLogMaxSizeMB
	}
	if sink.MaxBackups <= 0 {
		sink.MaxBackups = defaultLogMaxBackups
	}
	if sink.MaxAgeDays <= 0 {
		sink.MaxAgeDays = defaultLogMaxAgeDays
	}
}

// validateConfig validates normalized config and seed rules.
// Params: config after defaults.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	switch cfg.Service.SeedMode {
	case SeedModeUpsert, SeedModeRestore, SeedModeOff:
	default:
		return fmt.Errorf("service.seed_mode has unsupported value %q", cfg.Service.SeedMode)
	}
	if zone := strings.TrimSpace(cfg.Service.Timezone); zone != "" && zone != "Local" {
		if _, err := time.LoadLocation(zone); err != nil {
			return fmt.Errorf("service.timezone %q: %w", zone, err)
		}
	}

	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	switch cfg.Store.Backend {
	case StoreBackendBolt:
		if strings.TrimSpace(cfg.Store.Bolt.Path) == "" {
			return errors.New("store.bolt.path is required")
		}
	case StoreBackendPostgres:
		if strings.TrimSpace(cfg.Store.Postgres.DSN) == "" {
			return fmt.Errorf("store.postgres.dsn is required (or set %s)", PostgresDSNEnv)
		}
	case StoreBackendNATS:
		if strings.ContainsAny(cfg.Store.NATS.Key, " *>") {
			return fmt.Errorf("store.nats.key %q is not a valid KV key", cfg.Store.NATS.Key)
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("store.backend has unsupported value %q", cfg.Store.Backend)
	}

	if NeedsNATS(cfg) {
		for i, url := range cfg.NATS.URL {
			if url == "" {
				return fmt.Errorf("nats.url[%d] must not be empty", i)
			}
		}
	}
	if cfg.Evaluate.Enabled && strings.ContainsAny(cfg.Evaluate.Subject, " ") {
		return fmt.Errorf("evaluate.subject %q must not contain spaces", cfg.Evaluate.Subject)
	}
	if cfg.Audit.Enabled && strings.ContainsAny(cfg.Audit.Subject, " ") {
		return fmt.Errorf("audit.subject %q must not contain spaces", cfg.Audit.Subject)
	}

	if cfg.HTTP.Enabled {
		for name, path := range map[string]string{
			"http.health_path":  cfg.HTTP.HealthPath,
			"http.ready_path":   cfg.HTTP.ReadyPath,
			"http.metrics_path": cfg.HTTP.MetricsPath,
		} {
			if !strings.HasPrefix(path, "/") {
				return fmt.Errorf("%s must start with /", name)
			}
		}
	}

	seen := make(map[string]struct{}, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		if _, exists := seen[rule.ID]; exists {
			return fmt.Errorf("duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = struct{}{}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule.%s: %w", rule.ID, err)
		}
	}
	return nil
}

// normalizeNATSURLs trims spaces around each configured NATS URL.
// Params: raw URL list from config.
// Returns: normalized URL list preserving element count for validation.
func normalizeNATSURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, len(urls))
	for i := range urls {
		out[i] = strings.TrimSpace(urls[i])
	}
	return out
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}
