package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cryguy/wptworker"
)

// settings is the merged view of flags, WPTWORKER_* variables and the
// optional YAML config file, in that order of precedence.
type settings struct {
	Root        string        `mapstructure:"root"`
	URL         string        `mapstructure:"url"`
	Init        []string      `mapstructure:"init"`
	Parallel    int           `mapstructure:"parallel"`
	Timeout     time.Duration `mapstructure:"timeout"`
	LongTimeout int           `mapstructure:"long-timeout"`
	DB          string        `mapstructure:"db"`
	Format      string        `mapstructure:"format"`
	Transform   string        `mapstructure:"transform"`
	Variant     string        `mapstructure:"variant"`
	LogLevel    string        `mapstructure:"log-level"`
	MaxFetches  int           `mapstructure:"max-fetches"`
}

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func defineRunFlags(fs *pflag.FlagSet) {
	fs.String("root", "", "corpus root holding the WPT tests (default ./test/wpt/tests)")
	fs.String("url", wptworker.DefaultBaseURL, "page URL test files are served from")
	fs.StringSlice("init", nil, "script evaluated before each test (repeatable)")
	fs.IntP("parallel", "j", 4, "number of files run at once")
	fs.Duration("timeout", 10*time.Second, "per-file execution limit")
	fs.Int("long-timeout", 6, "multiplier applied to --timeout for timeout=long files")
	fs.String("db", "", "record results in this SQLite database")
	fs.String("format", formatText, "output format: text, json or yaml")
	fs.Bool("json", false, "shorthand for --format json")
	fs.String("transform", "", "lower sources to this esbuild target (es2020, esnext, ...)")
	fs.String("variant", "", "META variant query to run, e.g. ?1-10")
	fs.String("log-level", "warn", "log level: debug, info, warn or error")
	fs.Int("max-fetches", 0, "outbound fetch budget per file (0 keeps the default)")
}

// loadSettings binds fs into a fresh viper instance and reads configFile
// when set.
func loadSettings(fs *pflag.FlagSet, configFile string) (settings, error) {
	v := viper.New()
	v.SetEnvPrefix("WPTWORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return settings{}, fmt.Errorf("binding flags: %w", err)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return settings{}, fmt.Errorf("reading config %s: %w", configFile, err)
			}
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return settings{}, fmt.Errorf("decoding settings: %w", err)
	}
	if v.GetBool("json") {
		s.Format = formatJSON
	}
	return s, s.validate()
}

func (s settings) validate() error {
	switch s.Format {
	case formatText, formatJSON, formatYAML:
	default:
		return fmt.Errorf("unknown format %q", s.Format)
	}
	if s.Parallel < 1 {
		return fmt.Errorf("--parallel must be at least 1, got %d", s.Parallel)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive, got %s", s.Timeout)
	}
	if _, err := zerolog.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("bad log level: %w", err)
	}
	return nil
}

// runnerConfig maps settings onto a wptworker.Config.
func (s settings) runnerConfig(log zerolog.Logger) wptworker.Config {
	return wptworker.Config{
		Engine: wptworker.EngineConfig{
			PoolSize:         s.Parallel,
			ExecutionTimeout: int(s.Timeout / time.Millisecond),
			MaxFetchRequests: s.MaxFetches,
		},
		CorpusRoot:        s.Root,
		BaseURL:           s.URL,
		InitScripts:       s.Init,
		Transform:         s.Transform,
		Variant:           s.Variant,
		LongTimeoutFactor: s.LongTimeout,
		Logger:            log,
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).With().Timestamp().Logger()
}
