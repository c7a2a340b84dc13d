package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/qloopdev/qloop/internal/config"
	"github.com/qloopdev/qloop/internal/loop"
	"github.com/qloopdev/qloop/internal/runstore"
	"github.com/qloopdev/qloop/internal/safety"
	"github.com/qloopdev/qloop/internal/session"
)

// loadConfig reads and validates the config file. A missing file yields the
// defaults so qloop works out of the box.
func loadConfig() (config.Config, error) {
	cfg := config.Default()

	if err := viper.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return config.Config{}, fmt.Errorf("read config: %w", err)
	}
	// Validate the file contents, not viper.AllSettings: bound flags like
	// --config would trip the schema's closed property set.
	raw, err := os.ReadFile(viper.ConfigFileUsed())
	if err != nil {
		return config.Config{}, fmt.Errorf("read config: %w", err)
	}
	var settings map[string]any
	if err := json.Unmarshal(raw, &settings); err != nil {
		return config.Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := config.ValidateSettings(settings); err != nil {
		return config.Config{}, err
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return config.Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// openStore opens the run database, creating the .qloop directory if needed.
func openStore(cfg config.Config) (*runstore.Store, func(), error) {
	path := cfg.Store.Path
	if path == "" {
		path = filepath.Join(".qloop", "qloop.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create store dir: %w", err)
	}
	store, err := runstore.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// buildValidator constructs the safety validator, extended with the optional
// pattern pack from config.
func buildValidator(cfg config.Config) (*safety.Validator, error) {
	extra, err := safety.LoadPatternPackFile(cfg.Safety.PatternPack)
	if err != nil {
		return nil, fmt.Errorf("load pattern pack: %w", err)
	}
	if len(extra) == 0 {
		return safety.NewValidator(), nil
	}
	return safety.NewValidator(safety.WithPatterns(extra)), nil
}

// buildRunner wires a session and the full hook pipeline into a loop runner.
func buildRunner(cfg config.Config, loopCfg loop.Config, v *safety.Validator, cb loop.IterationCallback) (*loop.Runner, error) {
	sess, err := session.NewCLISession(cfg.Agent, log.Logger)
	if err != nil {
		return nil, err
	}

	qc := cfg.Quality.ToQuality()
	if cfg.Quality.Threshold <= 0 {
		// Keep the assessor's pass bar aligned with the loop's.
		qc.Threshold = loopCfg.QualityThreshold
	}

	opts := []loop.Option{
		loop.WithValidator(v),
		loop.WithQualityConfig(qc),
	}
	if cb != nil {
		opts = append(opts, loop.WithIterationCallback(cb))
	}
	return loop.NewRunner(loopCfg, sess, log.Logger, opts...), nil
}
