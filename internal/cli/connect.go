package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/parley/internal/cache"
	"github.com/agusx1211/parley/internal/chat"
	"github.com/agusx1211/parley/internal/config"
	"github.com/agusx1211/parley/internal/debug"
	"github.com/agusx1211/parley/internal/discover"
	"github.com/agusx1211/parley/internal/remote"
)

const dialTimeout = 10 * time.Second

// loadConfig reads the global config and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.GlobalConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.BackendURL = v
	}
	if v, _ := cmd.Flags().GetString("token"); v != "" {
		cfg.AuthToken = v
	}
	return cfg, nil
}

// dialBackend connects to the configured backend, falling back to mDNS
// discovery when no URL is configured.
func dialBackend(ctx context.Context, cfg *config.GlobalConfig) (*remote.Client, error) {
	url := cfg.BackendURL
	if url == "" {
		backends, err := discover.Backends(0)
		if err != nil {
			return nil, fmt.Errorf("no backend configured and discovery failed: %w", err)
		}
		if len(backends) == 0 {
			return nil, fmt.Errorf("no backend configured and none found on the local network; set one with 'parley config set backend <url>'")
		}
		url = backends[0].URL
		debug.Logf("cli", "discovered backend %s (%s)", backends[0].Name, url)
		if len(backends) > 1 {
			fmt.Printf("%sMultiple backends found, using %s%s\n", colorDim, url, colorReset)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	client, err := remote.Dial(dialCtx, url, cfg.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	return client, nil
}

// openCache opens the local message cache at the configured path.
func openCache(cfg *config.GlobalConfig) (*cache.Store, error) {
	store, err := cache.Open(cfg.CacheFile(), cfg.CachedMessageCap, cfg.CachedSessionCap)
	if err != nil {
		return nil, fmt.Errorf("opening cache at %s: %w", cfg.CacheFile(), err)
	}
	return store, nil
}

// buildEngine wires a session engine from config, client, and cache.
func buildEngine(cfg *config.GlobalConfig, client *remote.Client, store *cache.Store) *chat.Engine {
	return chat.NewEngine(chat.Options{
		Client:       client,
		Cache:        store,
		SessionBound: cfg.SessionBound,
		HistoryLimit: cfg.HistoryLimit,
		SpawnTool:    cfg.SpawnToolName,
	})
}
