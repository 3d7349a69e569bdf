// Package config loads the boot profile: which process set to start,
// how the timer is paced, where diagnostics go, and whether memory
// snapshots are taken.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Profile is the boot configuration. Zero values fall back to the
// defaults applied by Load.
type Profile struct {
	Command       string `toml:"command"`
	TimerSlice    int    `toml:"timer_slice"`
	LogLevel      string `toml:"log_level"`
	ShowMemory    bool   `toml:"show_memory"`
	SnapshotPath  string `toml:"snapshot_path"`
	SnapshotEvery int    `toml:"snapshot_every"`
}

// Default is the profile used when no file is given.
func Default() *Profile {
	return &Profile{
		TimerSlice:    50,
		LogLevel:      "info",
		SnapshotPath:  "memory.png",
		SnapshotEvery: 100,
	}
}

// SlogLevel maps the profile's log level string onto slog.
func (p *Profile) SlogLevel() slog.Level {
	return logLevels[strings.ToLower(p.LogLevel)]
}

// Validate cross-field logic.
func (p *Profile) Validate() error {
	if p.TimerSlice < 1 || p.TimerSlice > 1_000_000 {
		return fmt.Errorf("timer_slice out of range: %d", p.TimerSlice)
	}
	if _, ok := logLevels[strings.ToLower(p.LogLevel)]; !ok {
		return fmt.Errorf("log_level: %q not allowed", p.LogLevel)
	}
	if p.ShowMemory {
		if p.SnapshotPath == "" {
			return fmt.Errorf("show_memory set but snapshot_path empty")
		}
		if p.SnapshotEvery < 1 {
			return fmt.Errorf("snapshot_every must be >= 1, got %d", p.SnapshotEvery)
		}
	}
	return nil
}

// Load reads and validates a TOML profile, filling unset fields from
// the defaults.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := Default()
	if err := toml.Unmarshal(data, p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
