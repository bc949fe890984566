package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aistudio2api-go/internal/browser"
	"aistudio2api-go/internal/config"
	"aistudio2api-go/internal/credstore"
	"aistudio2api-go/internal/events"
	adminh "aistudio2api-go/internal/handlers/admin"
	oh "aistudio2api-go/internal/handlers/openai"
	ph "aistudio2api-go/internal/handlers/passthrough"
	"aistudio2api-go/internal/logging"
	mw "aistudio2api-go/internal/middleware"
	tracing "aistudio2api-go/internal/monitoring/tracing"
	"aistudio2api-go/internal/pipeline"
	"aistudio2api-go/internal/relay"
	"aistudio2api-go/internal/rotation"
	srv "aistudio2api-go/internal/server"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg := config.Load(*configPath)
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}
	log.Infof("Starting aistudio2api-go (config: %s)", *configPath)

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	store, err := credstore.New(cfg.AuthDir)
	if err != nil {
		log.WithError(err).Error("No usable credentials found; set AUTH_JSON_1 or place auth-1.json in the auth directory")
		os.Exit(1)
	}
	log.Infof("Loaded %d credential(s)", len(store.AvailableIndices()))

	if stopWatch, err := credstore.Watch(cfg.AuthDir); err == nil {
		defer stopWatch()
	} else {
		log.WithError(err).Debug("Auth directory watch unavailable")
	}

	hub := events.NewHub()
	events.LogAll(hub)
	mux := relay.NewMux()
	channel := relay.NewChannel(mux, hub, relay.DefaultGracePeriod)

	launcher := browser.NewLauncher(store, channel, cfg.CamoufoxExecutablePath, cfg.WSPort)
	defer launcher.Close()

	rotor := rotation.NewController(cfg, store, launcher, hub)
	settings := pipeline.NewSettings(cfg)
	pipe := pipeline.New(cfg, settings, mux, channel, rotor)

	deps := srv.Dependencies{
		OpenAI:      oh.New(pipe, settings),
		Passthrough: ph.New(pipe, settings),
		Admin:       adminh.New(cfg, settings, rotor, store, channel),
	}
	apiEngine := srv.BuildAPI(cfg, deps)
	relayEngine := srv.BuildRelay(cfg, channel)

	apiSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: apiEngine}
	relaySrv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.WSPort), Handler: relayEngine}

	mw.SafeGo("api-server", func() {
		log.Infof("API listening on %s", apiSrv.Addr)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("api server: %v", err)
		}
	})
	mw.SafeGo("relay-server", func() {
		log.Infof("Relay websocket listening on %s", relaySrv.Addr)
		if err := relaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("relay server: %v", err)
		}
	})

	// Launch the browser session on the initial credential in the background;
	// the relay server is already accepting by the time the page loads.
	mw.SafeGo("initial-launch", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		if err := rotor.RecoverRelay(ctx); err != nil {
			log.WithError(err).Warn("Initial browser launch failed; waiting for an external relay connection")
		}
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = relaySrv.Shutdown(shutdownCtx)
	mux.CloseAll()
	log.Info("Servers stopped")
}
