// Package config owns the persisted Config value: load, save, and
// schema validation. Backups are driven entirely by the Target list and
// scheduling/retention settings recorded here.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/larkspurhq/strongbox/internal/errs"
)

// Priority is the total order {High, Medium, Low}.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns a comparable integer for priority ordering, higher is
// more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// TargetKind distinguishes a single-file target from a directory target.
type TargetKind string

const (
	TargetFile      TargetKind = "file"
	TargetDirectory TargetKind = "directory"
)

// Frequency is one of the permitted schedule cadences.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Target describes one backed-up source location.
type Target struct {
	ID              string     `toml:"id"`
	Path            string     `toml:"path" validate:"required"`
	Priority        Priority   `toml:"priority" validate:"oneof=high medium low"`
	Kind            TargetKind `toml:"kind" validate:"oneof=file directory"`
	Category        string     `toml:"category"`
	AddedAt         time.Time  `toml:"added_at"`
	ExcludePatterns []string   `toml:"exclude_patterns"`
	Missing         bool       `toml:"missing"`
}

// ScheduleConfig mirrors the per-priority cadence settings.
type ScheduleConfig struct {
	Enabled        bool      `toml:"enabled"`
	HighFrequency  Frequency `toml:"high_frequency" validate:"oneof=hourly daily weekly monthly"`
	MediumFrequency Frequency `toml:"medium_frequency" validate:"oneof=hourly daily weekly monthly"`
	LowFrequency   Frequency `toml:"low_frequency" validate:"oneof=hourly daily weekly monthly"`
}

// Config is the persisted application configuration.
type Config struct {
	Version     string         `toml:"version" validate:"required"`
	Destination string         `toml:"destination" validate:"required,absolute_path"`
	AutoCleanup bool           `toml:"auto_cleanup"`
	KeepDays    int            `toml:"keep_days" validate:"min=1"`
	Schedule    ScheduleConfig `toml:"schedule"`
	Targets     []Target       `toml:"targets"`
}

const CurrentVersion = "1.0.0"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("absolute_path", func(fl validator.FieldLevel) bool {
		return filepath.IsAbs(fl.Field().String())
	})
	return v
}

// Default returns a fresh Config with the destination under the user's
// XDG data directory and sane schedule/retention defaults.
func Default() Config {
	return Config{
		Version:     CurrentVersion,
		Destination: filepath.Join(xdg.DataHome, "strongbox", "backups"),
		AutoCleanup: true,
		KeepDays:    30,
		Schedule: ScheduleConfig{
			Enabled:         false,
			HighFrequency:   FrequencyDaily,
			MediumFrequency: FrequencyWeekly,
			LowFrequency:    FrequencyMonthly,
		},
	}
}

// Validate enforces §3's schema invariants: destination absolute, not a
// descendant of any target, and struct-tag constraints on every field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.Wrapf(errs.ErrConfigInvalid, "config schema: %v", err)
	}

	seen := make(map[string]struct{}, len(c.Targets))
	for _, t := range c.Targets {
		if !filepath.IsAbs(t.Path) {
			return errs.Wrapf(errs.ErrConfigInvalid, "target path %q is not absolute", t.Path)
		}
		clean := filepath.Clean(t.Path)
		if _, dup := seen[clean]; dup {
			return errs.Wrapf(errs.ErrConfigInvalid, "duplicate target path %q", clean)
		}
		seen[clean] = struct{}{}

		if isDescendant(clean, c.Destination) || clean == filepath.Clean(c.Destination) {
			return errs.Wrapf(errs.ErrConfigInvalid, "destination %q must not be inside target %q", c.Destination, clean)
		}
	}
	return nil
}

func isDescendant(base, candidate string) bool {
	rel, err := filepath.Rel(base, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// AddTarget appends a new Target, assigning it a fresh ID and AddedAt
// timestamp, and rejecting duplicate canonical paths per §3's invariant.
func (c *Config) AddTarget(path string, priority Priority, kind TargetKind, category string, excludePatterns []string) error {
	clean := filepath.Clean(path)
	for _, t := range c.Targets {
		if filepath.Clean(t.Path) == clean {
			return errs.Wrapf(errs.ErrConfigInvalid, "target %q already configured", clean)
		}
	}

	missing := false
	if _, err := os.Stat(clean); err != nil {
		if !os.IsNotExist(err) {
			return errs.Wrap(err, "stat target")
		}
		missing = true
	}

	c.Targets = append(c.Targets, Target{
		ID:              uuid.NewString(),
		Path:            clean,
		Priority:        priority,
		Kind:            kind,
		Category:        category,
		AddedAt:         time.Now().UTC(),
		ExcludePatterns: excludePatterns,
		Missing:         missing,
	})
	return nil
}

// Load reads and validates the TOML config at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.Wrap(err, "reading config file")
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errs.Wrapf(errs.ErrConfigInvalid, "parsing config toml: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save validates cfg and writes it to path via write-to-temp + rename,
// the same atomicity discipline ManifestStore uses for manifests.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return errs.Wrap(err, "marshaling config toml")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errs.Wrap(err, "creating config directory")
	}

	tmp, err := os.CreateTemp(dir, ".config-*.toml.tmp")
	if err != nil {
		return errs.Wrap(err, "creating temp config file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(err, "writing temp config file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.Wrap(err, "fsyncing temp config file")
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(err, "closing temp config file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errs.Wrap(err, "renaming config file into place")
	}
	return nil
}
