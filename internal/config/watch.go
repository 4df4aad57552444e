package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchPolicies polls policies.yaml and hands every valid reload to onUpdate.
// An invalid file is logged and the previous configuration stays in effect.
func WatchPolicies(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*PoliciesConfig)) error {
	if path == "" {
		path = "configs/policies.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue // transient errors
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()
				cfg, err := LoadPoliciesConfig(path)
				if err != nil {
					logger.Error().Err(err).Str("path", path).Msg("policies reload rejected")
					continue
				}
				logger.Info().Str("path", path).Msg("policies reloaded")
				if onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}()

	return nil
}
