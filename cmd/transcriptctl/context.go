package main

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/yt-transcripts/internal/cache"
	"github.com/snarg/yt-transcripts/internal/config"
)

type rootFlags struct {
	envFile      string
	cacheBackend string
	cacheDir     string
	databaseURL  string
	verbose      bool
}

type commandContext struct {
	flags *rootFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *rootFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load(config.Overrides{
			EnvFile:      c.flags.envFile,
			CacheBackend: c.flags.cacheBackend,
			CacheDir:     c.flags.cacheDir,
			DatabaseURL:  c.flags.databaseURL,
		})
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() zerolog.Logger {
	if !c.flags.verbose {
		return zerolog.Nop()
	}
	cfg, _ := c.ensureConfig()
	level := zerolog.InfoLevel
	if cfg != nil {
		if l, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			level = l
		}
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)
}

// openStore opens the configured cache and starts its background services.
// The returned func stops them and closes the store.
func (c *commandContext) openStore(ctx context.Context) (cache.Store, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	log := c.logger()
	store, services, err := cache.New(ctx, cfg, log.With().Str("component", "cache").Logger())
	if err != nil {
		return nil, nil, err
	}
	for _, s := range services {
		s.Start()
	}
	closeFn := func() {
		for i := len(services) - 1; i >= 0; i-- {
			services[i].Stop()
		}
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("cache close error")
		}
	}
	return store, closeFn, nil
}
