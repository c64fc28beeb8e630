// Package main is the entry point for the relaycore gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/gateway/internal/backend"
	"github.com/relaycore/gateway/internal/backend/credstore"
	"github.com/relaycore/gateway/internal/config"
	"github.com/relaycore/gateway/internal/jsonrepair"
	"github.com/relaycore/gateway/internal/loopdetect"
	"github.com/relaycore/gateway/internal/logging"
	"github.com/relaycore/gateway/internal/middleware"
	"github.com/relaycore/gateway/internal/respproc"
	"github.com/relaycore/gateway/internal/server"
	"github.com/relaycore/gateway/internal/session"
	"github.com/relaycore/gateway/internal/streamproc"
)

func main() {
	log, err := logging.New(false)
	if err != nil {
		panic(fmt.Sprintf("building logger: %v", err))
	}
	defer log.Sync()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	connectors, err := buildConnectors(cfg, log)
	if err != nil {
		log.Fatal("failed to build backend connectors", zap.Error(err))
	}

	sessions := session.NewStore(30*time.Minute, log)
	defer sessions.Stop()

	jsonService, err := jsonrepair.NewService("")
	if err != nil {
		log.Fatal("failed to build json repair service", zap.Error(err))
	}

	manager := middleware.NewManager([]middleware.Middleware{
		middleware.NewLoggingMiddleware(log),
		middleware.NewContentFilterMiddleware(nil),
		middleware.NewLoopDetectionMiddleware(sessions),
		middleware.NewToolCallLoopDetectionMiddleware(sessions),
		middleware.NewToolCallRepairMiddleware(true, log),
		middleware.NewJsonRepairMiddleware(true, false, jsonService, log),
		middleware.NewStructuredOutputMiddleware(log),
		middleware.NewEditPrecisionResponseMiddleware(sessions, log),
		middleware.NewEmptyResponseMiddleware(sessions, 2, "", log),
	})

	normalizer := streamproc.DefaultChain(streamproc.DefaultChainConfig{
		JSONRepair:    jsonrepair.DefaultConfig(),
		JSONService:   jsonService,
		LoopDetection: loopdetect.DefaultConfig(),
		Manager:       manager,
		SessionConfig: session.DefaultLoopDetectionConfiguration(),
		Log:           log,
	})

	processor := respproc.New(manager, normalizer, session.DefaultLoopDetectionConfiguration(), log)

	srv := server.New(cfg, connectors, processor, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Info("relaycore listening", zap.Int("port", cfg.Server.Port))

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

// buildConnectors constructs one backend.Connector per configured provider
// entry and registers every model it serves, so the handler's model ->
// connector lookup is a single map read.
func buildConnectors(cfg *config.Config, log *zap.Logger) (map[string]backend.Connector, error) {
	connectors := make(map[string]backend.Connector)

	for name, provCfg := range cfg.Providers {
		conn, err := newConnector(name, provCfg, log)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}

		if err := conn.Initialize(context.Background()); err != nil {
			return nil, fmt.Errorf("initializing provider %q: %w", name, err)
		}

		for _, model := range provCfg.Models {
			connectors[model] = conn
			log.Info("registered model", zap.String("model", model), zap.String("backend", name))
		}
	}

	return connectors, nil
}

func newConnector(name string, provCfg config.ProviderConfig, log *zap.Logger) (backend.Connector, error) {
	switch name {
	case "google":
		return backend.NewGoogleConnector(provCfg.APIKey, provCfg.BaseURL, http.DefaultClient, provCfg.Models), nil
	case "anthropic":
		return backend.NewAnthropicConnector(provCfg.APIKey, provCfg.BaseURL, http.DefaultClient, provCfg.Models), nil
	case "gemini-cli-oauth-personal":
		// No RefreshFunc: like the official gemini CLI this connector never
		// holds its own OAuth client credentials. The CLI refreshes
		// ~/.gemini/oauth_creds.json out of band; credstore.Store's fsnotify
		// watcher picks the new token up, and an expired token with no
		// refresh function simply passes through for the caller to retry
		// once the CLI has rotated it.
		store, err := credstore.Open(provCfg.CredentialsPath, nil, log)
		if err != nil {
			return nil, fmt.Errorf("opening oauth credential store: %w", err)
		}
		return backend.NewGeminiOAuthPersonalConnector(store, http.DefaultClient, log), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q", name)
	}
}
