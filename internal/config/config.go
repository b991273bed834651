// Package config loads cfgaudit settings from .cfgaudit.yaml, CFGAUDIT_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/morozRed/cfgaudit/internal/analyzer"
	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/errs"
	"github.com/morozRed/cfgaudit/internal/ignore"
	"github.com/morozRed/cfgaudit/internal/ledger"
)

const (
	FileName  = ".cfgaudit.yaml"
	EnvPrefix = "CFGAUDIT"
)

type AnalyzersConfig struct {
	Weights map[string]float64 `mapstructure:"weights" validate:"dive,gt=0"`
}

type LLMConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url" validate:"omitempty,url"`
	APIKeyEnv string `mapstructure:"api_key_env" validate:"required_if=Enabled true"`
	MaxTokens int    `mapstructure:"max_tokens" validate:"gte=0"`
}

type WatchConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Debounce     time.Duration `mapstructure:"debounce" validate:"gte=0"`
	GracePeriod  time.Duration `mapstructure:"grace_period" validate:"gte=0"`
	MetricsAddr  string        `mapstructure:"metrics_addr"`
}

type RetentionConfig struct {
	KeepRuns      int           `mapstructure:"keep_runs" validate:"gte=0"`
	ArchiveAfter  time.Duration `mapstructure:"archive_after" validate:"gte=0"`
	MaxArchiveAge time.Duration `mapstructure:"max_archive_age" validate:"gte=0"`
	KeepHistory   int           `mapstructure:"keep_history" validate:"gte=0"`
}

// Config is the resolved configuration. Paths are absolute after Load.
type Config struct {
	RootDir         string                          `mapstructure:"root_dir" validate:"required"`
	OutputDir       string                          `mapstructure:"output_dir" validate:"required"`
	Layout          map[string]component.KindLayout `mapstructure:"layout" validate:"dive"`
	MCPFile         string                          `mapstructure:"mcp_file"`
	EntryPointKinds []string                        `mapstructure:"entry_point_kinds" validate:"min=1,dive,oneof=command agent skill hook mcp"`
	Exclude         []string                        `mapstructure:"exclude"`
	Concurrency     int                             `mapstructure:"concurrency" validate:"gte=0,lte=256"`
	UnitTimeout     time.Duration                   `mapstructure:"unit_timeout" validate:"gt=0"`
	SoftTimeout     time.Duration                   `mapstructure:"soft_timeout" validate:"gte=0"`
	MergePolicy     string                          `mapstructure:"merge_policy" validate:"oneof=weighted-average max-severity"`
	Analyzers       AnalyzersConfig                 `mapstructure:"analyzers"`
	LLM             LLMConfig                       `mapstructure:"llm"`
	Watch           WatchConfig                     `mapstructure:"watch"`
	Retention       RetentionConfig                 `mapstructure:"retention"`
	LogLevel        string                          `mapstructure:"log_level" validate:"oneof=debug info warn warning error silent"`
	LogFormat       string                          `mapstructure:"log_format" validate:"oneof=text json"`

	// ConfigFile is the file that was read, empty when only defaults applied.
	ConfigFile string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	def := component.DefaultLayout()
	for kind, kl := range def.Kinds {
		v.SetDefault("layout."+string(kind)+".dir", kl.Dir)
		v.SetDefault("layout."+string(kind)+".pattern", kl.Pattern)
	}
	v.SetDefault("root_dir", ".claude")
	v.SetDefault("output_dir", ".cfgaudit")
	v.SetDefault("mcp_file", def.MCPFile)
	v.SetDefault("entry_point_kinds", []string{"command", "hook"})
	v.SetDefault("exclude", []string{})
	v.SetDefault("concurrency", 0)
	v.SetDefault("unit_timeout", "60s")
	v.SetDefault("soft_timeout", "0s")
	v.SetDefault("merge_policy", string(analyzer.WeightedAverage))
	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("watch.poll_interval", "2s")
	v.SetDefault("watch.debounce", "500ms")
	v.SetDefault("watch.grace_period", "10s")
	v.SetDefault("watch.metrics_addr", "")
	v.SetDefault("retention.keep_runs", 20)
	v.SetDefault("retention.archive_after", "0s")
	v.SetDefault("retention.max_archive_age", "720h")
	v.SetDefault("retention.keep_history", 500)
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "text")
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"root":          "root_dir",
	"output":        "output_dir",
	"concurrency":   "concurrency",
	"unit-timeout":  "unit_timeout",
	"soft-timeout":  "soft_timeout",
	"merge-policy":  "merge_policy",
	"entry-kinds":   "entry_point_kinds",
	"log-level":     "log_level",
	"log-format":    "log_format",
	"llm":           "llm.enabled",
	"llm-model":     "llm.model",
	"poll-interval": "watch.poll_interval",
	"debounce":      "watch.debounce",
	"grace-period":  "watch.grace_period",
	"metrics-addr":  "watch.metrics_addr",
}

// LoadOptions says where to look.
type LoadOptions struct {
	// Dir is the project directory; relative paths resolve against it.
	Dir string
	// File overrides the config file path. A missing explicit file is an error.
	File  string
	Flags *pflag.FlagSet
}

// Load resolves, normalizes and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errs.Wrap(errs.Config, err, "failed to resolve working directory")
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, errs.Wrap(errs.Config, err, "failed to resolve project directory")
	}

	v := viper.New()
	setDefaults(v)
	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(dir)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := BindFlags(v, opts.Flags); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errs.Wrap(errs.Config, err, "failed to read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(errs.Config, err, "failed to decode config")
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	// env values for list keys arrive as one space separated string
	if len(cfg.EntryPointKinds) == 1 && strings.ContainsAny(cfg.EntryPointKinds[0], ", ") {
		cfg.EntryPointKinds = strings.FieldsFunc(cfg.EntryPointKinds[0], func(r rune) bool { return r == ',' || r == ' ' })
	}

	cfg.RootDir = absUnder(dir, cfg.RootDir)
	cfg.OutputDir = absUnder(dir, cfg.OutputDir)
	rules, err := ignore.LoadFile(dir)
	if err != nil {
		return nil, errs.Wrap(errs.Config, err, "failed to load ignore rules")
	}
	cfg.Exclude = append(cfg.Exclude, rules...)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BindFlags binds every known flag present in flags.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	names := make([]string, 0, len(flagKeys))
	for name := range flagKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(flagKeys[name], f); err != nil {
			return errs.Wrap(errs.Config, err, fmt.Sprintf("failed to bind --%s", name))
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errs.New(errs.Config, "invalid configuration: "+strings.Join(msgs, "; "))
		}
		return errs.Wrap(errs.Config, err, "invalid configuration")
	}
	for key := range cfg.Layout {
		if _, err := component.ParseKind(key); err != nil {
			return errs.Wrap(errs.Config, err, "invalid layout key")
		}
	}
	return nil
}

func absUnder(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// ComponentLayout returns the discovery layout.
func (c *Config) ComponentLayout() component.Layout {
	layout := component.DefaultLayout()
	for key, kl := range c.Layout {
		kind, err := component.ParseKind(key)
		if err != nil {
			continue
		}
		layout.Kinds[kind] = kl
	}
	if c.MCPFile != "" {
		layout.MCPFile = c.MCPFile
	}
	return layout
}

// EntryKinds returns the parsed entry-point kinds.
func (c *Config) EntryKinds() []component.Kind {
	kinds, _ := component.ParseKinds(c.EntryPointKinds)
	return kinds
}

// Workers returns the pool size; zero means one per CPU.
func (c *Config) Workers() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return runtime.NumCPU()
}

func (c *Config) Policy() analyzer.MergePolicy {
	policy, err := analyzer.ParseMergePolicy(c.MergePolicy)
	if err != nil {
		return analyzer.WeightedAverage
	}
	return policy
}

// Exclusion returns the discovery exclusion predicate.
func (c *Config) Exclusion() ignore.Predicate {
	return ignore.NewMatcher(c.Exclude).Predicate()
}

// LedgerRetention converts retention settings for ledger.Prune.
func (c *Config) LedgerRetention() ledger.Retention {
	return ledger.Retention{
		KeepRuns:      c.Retention.KeepRuns,
		ArchiveAfter:  c.Retention.ArchiveAfter,
		MaxArchiveAge: c.Retention.MaxArchiveAge,
	}
}

// LLMAnalyzerConfig returns the analyzer settings with the key read from
// the configured environment variable.
func (c *Config) LLMAnalyzerConfig() analyzer.LLMConfig {
	return analyzer.LLMConfig{
		Model:     c.LLM.Model,
		BaseURL:   c.LLM.BaseURL,
		APIKey:    os.Getenv(c.LLM.APIKeyEnv),
		MaxTokens: c.LLM.MaxTokens,
	}
}

func (c *Config) RunsDir() string { return filepath.Join(c.OutputDir, ledger.RunsDir) }
