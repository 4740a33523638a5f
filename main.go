// peercall is a two-party audio/video call client. It keeps a presence
// connection to a signaling server, places and answers calls over WebRTC,
// and carries an in-call chat channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/app"
	"github.com/petervdpas/peercall/internal/config"
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

var (
	dataDir     = flag.String("dir", ".", "data directory (config, contact database)")
	displayName = flag.String("name", "", "display name for a newly created config")
	noConsole   = flag.Bool("no-console", false, "run headless, without the interactive console")
	debug       = flag.Bool("debug", false, "verbose logging")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("peercall v%s\n", appVersion)
		return
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	absDir, err := filepath.Abs(*dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid data directory")
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		log.Fatal().Err(err).Msg("create data directory")
	}

	cfgPath := filepath.Join(absDir, "peercall.json")
	cfg, created, err := config.Ensure(cfgPath, config.Identity{
		ID:          uuid.NewString(),
		DisplayName: *displayName,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if created {
		log.Info().Str("path", cfgPath).Msg("created default config")
	}
	if *displayName != "" && cfg.Identity.DisplayName != *displayName {
		cfg.Identity.DisplayName = *displayName
		if err := config.Save(cfgPath, cfg); err != nil {
			log.Fatal().Err(err).Msg("save config")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		cancel()
	}()

	log.Info().
		Str("user", cfg.Identity.ID).
		Str("name", cfg.Identity.DisplayName).
		Str("server", cfg.Signal.ServerURL).
		Msg("starting peercall")

	err = app.Run(ctx, app.Options{
		DataDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
		Console: !*noConsole,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("client failed")
	}
}
