// Package agentrelay provides a high-level façade over the dispatch engine
// and its collaborators (backends, credential resolution, transport &
// logging) enabling quick construction of a chat dispatch service. Most
// applications interact with this package by:
//  1. Loading a config.Config (usually from the environment)
//  2. Creating an App via New() (optionally overriding the planner model,
//     credential source, or logger)
//  3. Serving App.Handler() over HTTP
//
// The façade delegates routing to dispatch.Dispatcher while keeping setup
// ergonomics concise. All defaults are safe for local development; production
// deployments typically supply provider API keys and a credentials file.
package agentrelay

import (
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentrelay/abort"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/credential"
	"github.com/hupe1980/agentrelay/dispatch"
	"github.com/hupe1980/agentrelay/local"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
	modelanthropic "github.com/hupe1980/agentrelay/model/anthropic"
	modelopenai "github.com/hupe1980/agentrelay/model/openai"
	"github.com/hupe1980/agentrelay/planner"
	"github.com/hupe1980/agentrelay/remote"
	"github.com/hupe1980/agentrelay/server"
)

// Options configures the App instance.
type Options struct {
	// Logger used across all components. Defaults to a structured logger
	// built from the config's level and format.
	Logger logging.Logger

	// PlannerModel overrides the model the orchestration planner runs on.
	// When nil it is built from the config's provider and API key.
	PlannerModel model.Model

	// Credentials overrides the credential source. When nil it reads the
	// config's credentials file (per-request bundles still take precedence).
	Credentials *credential.Source

	// HTTPClient used for remote delegation.
	HTTPClient *http.Client
}

// App is the high-level façade aggregating the dispatcher and its HTTP
// surface.
type App struct {
	cfg        *config.Config
	logger     logging.Logger
	dispatcher *dispatch.Dispatcher
	server     *server.Server
}

// New wires an App from configuration. Unset options fall back to
// config-derived defaults.
func New(cfg *config.Config, optFns ...func(o *Options)) (*App, error) {
	opts := Options{
		HTTPClient: &http.Client{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.New(nil, logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	}
	if opts.Credentials == nil {
		opts.Credentials = credential.NewSource(cfg.CredentialsFile)
	}
	if opts.PlannerModel == nil {
		m, err := plannerModel(cfg)
		if err != nil {
			return nil, err
		}
		opts.PlannerModel = m
	}

	plan := planner.New(opts.PlannerModel, func(o *planner.Options) {
		o.Logger = opts.Logger
		o.CredentialCheck = credentialCheck(cfg)
	})

	executor := local.New(func(o *local.Options) {
		o.Binary = cfg.ClaudeBinary
		o.Logger = opts.Logger
	})

	delegate := remote.New(func(o *remote.Options) {
		o.ChunkTimeout = cfg.ChunkTimeout
		o.HTTPClient = opts.HTTPClient
		o.Logger = opts.Logger
	})

	registry := dispatch.NewRegistry()
	registry.Register("claude-cli", dispatch.NewLocalBackend(executor))
	registry.Register(cfg.PlannerProvider, dispatch.NewPlannerBackend(plan))

	dispatcher := dispatch.New(registry, dispatch.NewRemoteBackend(delegate), abort.NewRegistry(),
		func(o *dispatch.Options) {
			o.Credentials = opts.Credentials
			o.Logger = opts.Logger
		})

	srv := server.New(dispatcher, func(o *server.Options) {
		o.Logger = opts.Logger
		o.FlushProbability = cfg.FlushProbability
		o.ServiceName = cfg.ServiceName
		o.Environment = cfg.Environment
		o.Version = config.Version
	})

	return &App{
		cfg:        cfg,
		logger:     opts.Logger,
		dispatcher: dispatcher,
		server:     srv,
	}, nil
}

// Handler returns the HTTP surface of the service.
func (a *App) Handler() http.Handler { return a.server }

// Dispatcher exposes the routing engine for embedding callers.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Logger returns the logger the App was wired with.
func (a *App) Logger() logging.Logger { return a.logger }

// Addr returns the listen address derived from the configured port.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// plannerModel builds the planner's model from the configured provider.
func plannerModel(cfg *config.Config) (model.Model, error) {
	switch cfg.PlannerProvider {
	case "anthropic":
		return modelanthropic.NewModel(func(o *modelanthropic.Options) {
			o.Model = anthropic.Model(cfg.PlannerModel)
			o.APIKey = cfg.AnthropicAPIKey
		}), nil
	case "openai":
		return modelopenai.NewModel(func(o *modelopenai.Options) {
			o.Model = cfg.PlannerModel
			o.APIKey = cfg.OpenAIAPIKey
		}), nil
	default:
		return nil, fmt.Errorf("unknown planner provider %q", cfg.PlannerProvider)
	}
}

// credentialCheck fails plan generation fast when the configured provider
// has no API key, instead of surfacing an opaque provider error mid-stream.
func credentialCheck(cfg *config.Config) func() error {
	return func() error {
		key := cfg.AnthropicAPIKey
		if cfg.PlannerProvider == "openai" {
			key = cfg.OpenAIAPIKey
		}
		if key == "" {
			return &core.AuthenticationError{
				Message: fmt.Sprintf("no API key configured for planner provider %s", cfg.PlannerProvider),
			}
		}
		return nil
	}
}
