// Package config loads the quickq daemon configuration from a YAML file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/warpdl/quickq/pkg/journal"
	"github.com/warpdl/quickq/pkg/logger"
	"github.com/warpdl/quickq/pkg/quickq"
	"github.com/warpdl/quickq/pkg/scheduler"
	"gopkg.in/yaml.v3"
)

// Journal drivers.
const (
	DriverNone   = "none"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// DefaultListen is the control-plane address used when none is configured.
const DefaultListen = "127.0.0.1:7420"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// JournalConfig selects where pending jobs are persisted.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path,omitempty"`
}

// RPCConfig configures the JSON-RPC control plane. An empty Secret disables it.
type RPCConfig struct {
	Listen string `yaml:"listen"`
	Secret string `yaml:"secret,omitempty"`
}

// LogConfig configures the daemon logger. File, when set, receives a plain
// copy of every line.
type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	File   string `yaml:"file,omitempty"`
}

// Config is the daemon configuration.
type Config struct {
	Concurrency      int               `yaml:"concurrency"`
	Scheduler        string            `yaml:"scheduler,omitempty"`
	SchedulerOptions scheduler.Options `yaml:"scheduler_options,omitempty"`
	Journal          JournalConfig     `yaml:"journal"`
	RPC              RPCConfig         `yaml:"rpc"`
	Log              LogConfig         `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Concurrency: quickq.DefaultConcurrency,
		Journal:     JournalConfig{Driver: DriverNone},
		RPC:         RPCConfig{Listen: DefaultListen},
		Log:         LogConfig{Format: FormatText, Level: "info"},
	}
}

// Load reads the YAML file at path on fsys over the defaults. A missing
// file yields the defaults.
func Load(fsys afero.Fs, path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("error: cannot read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error: cannot parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Marshal encodes c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks field ranges and enumerations.
func (c Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must not be negative, got %d", ErrInvalid, c.Concurrency)
	}
	switch c.Scheduler {
	case "", scheduler.NameFair, scheduler.NameCapped:
	default:
		return fmt.Errorf("%w: unknown scheduler %q", ErrInvalid, c.Scheduler)
	}
	if s := c.SchedulerOptions.MaxTypeShare; s < 0 || s > 1 {
		return fmt.Errorf("%w: max_type_share must be within (0, 1], got %g", ErrInvalid, s)
	}
	if c.SchedulerOptions.MaxScanLength < 0 || c.SchedulerOptions.Concurrency < 0 {
		return fmt.Errorf("%w: scheduler limits must not be negative", ErrInvalid)
	}
	switch c.Journal.Driver {
	case "", DriverNone:
	case DriverFile, DriverSQLite:
		if c.Journal.Path == "" {
			return fmt.Errorf("%w: journal driver %s needs a path", ErrInvalid, c.Journal.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown journal driver %q", ErrInvalid, c.Journal.Driver)
	}
	switch c.Log.Format {
	case "", FormatText, FormatJSON:
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Log.Format)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// QueueOptions translates the configuration into queue options.
func (c Config) QueueOptions(l logger.Logger) []quickq.Option {
	opts := []quickq.Option{
		quickq.WithConcurrency(c.Concurrency),
		quickq.WithLogger(l),
	}
	if c.Scheduler != "" {
		opts = append(opts,
			quickq.WithSchedulerName(c.Scheduler),
			quickq.WithSchedulerOptions(c.SchedulerOptions))
	}
	return opts
}

// Typed reports whether jobs need a type tag.
func (c Config) Typed() bool {
	return c.Scheduler != ""
}

// OpenStore opens the configured journal store, or returns nil for the
// "none" driver.
func (c JournalConfig) OpenStore(ctx context.Context, fsys afero.Fs) (journal.Store, error) {
	switch c.Driver {
	case DriverFile:
		s, err := journal.NewFileStore(fsys, c.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := journal.OpenSQLStore(ctx, c.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

// NewLogger builds the daemon logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*logger.SlogLogger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if c.Format == FormatJSON {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return logger.NewSlogLogger(slog.New(h)), nil
}

// fileLogger closes its file with the logger.
type fileLogger struct {
	*logger.StandardLogger
	f afero.File
}

func (l *fileLogger) Close() error {
	return l.f.Close()
}

// Open builds the daemon logger writing to w, and appending to File when
// one is configured.
func (c LogConfig) Open(fsys afero.Fs, w io.Writer) (logger.Logger, error) {
	console, err := c.NewLogger(w)
	if err != nil {
		return nil, err
	}
	var file logger.Logger
	if c.File != "" {
		f, err := fsys.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file: %w", err)
		}
		file = &fileLogger{
			StandardLogger: logger.NewStandardLogger(log.New(f, "", log.LstdFlags)),
			f:              f,
		}
	}
	return logger.Tee(console, file), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
