package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ribelo/prism-sub000/config"
	"github.com/ribelo/prism-sub000/internal/observability"
	"github.com/ribelo/prism-sub000/middleware"
	"github.com/ribelo/prism-sub000/models"
	"github.com/ribelo/prism-sub000/repositories"
	"github.com/ribelo/prism-sub000/repositories/postgres"
	"github.com/ribelo/prism-sub000/services/audit"
	"github.com/ribelo/prism-sub000/services/credentials"
	"github.com/ribelo/prism-sub000/services/dispatch"
	"github.com/ribelo/prism-sub000/services/providers"
	"github.com/ribelo/prism-sub000/services/providers/anthropic"
	"github.com/ribelo/prism-sub000/services/providers/gemini"
	"github.com/ribelo/prism-sub000/services/providers/openai"
	"github.com/ribelo/prism-sub000/services/routing"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory, nil when the database is disabled
	RepoFactory  *postgres.RepositoryFactory
	Repositories *repositories.Repositories
	TxManager    repositories.TransactionManager

	// Routing
	RouteTable *routing.RouteTable
	Router     *routing.RoutingService

	// Dispatch
	Registry    *providers.Registry
	Credentials *credentials.Store
	Audit       *audit.AuditService
	Dispatcher  *dispatch.Dispatcher

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	StartedAt time.Time

	shutdownTracing func(context.Context) error
	stopMaintenance context.CancelFunc
	maintenanceDone chan struct{}
	closeOnce       sync.Once
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		StartedAt: time.Now(),
	}

	if cfg.Database.Enabled {
		if err := deps.initDatabase(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	} else {
		logger.Info("database disabled, running without persistence")
	}

	if err := deps.initRouting(ctx, cfg); err != nil {
		deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize routing: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initCredentials(ctx, cfg); err != nil {
		deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize credentials: %w", err)
	}

	if err := deps.initAudit(); err != nil {
		deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	_, deps.shutdownTracing = observability.InitTracing(observability.TracingConfig{
		Enabled:    cfg.Observability.TracingEnabled,
		SampleRate: cfg.Observability.TracingSampleRate,
	})

	deps.Dispatcher = dispatch.NewDispatcher(deps.Router, deps.Registry, deps.Credentials, deps.Audit, logger, dispatch.Config{
		LogPayloads: cfg.Observability.LogPayloads,
	})

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection, schema and repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	if err := d.attachDatabase(ctx, factory); err != nil {
		return err
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// attachDatabase prepares the schema and repositories of an open factory.
// The factory is closed on any failure.
func (d *Dependencies) attachDatabase(ctx context.Context, factory *postgres.RepositoryFactory) (err error) {
	defer func() {
		if err != nil {
			if cerr := factory.Close(); cerr != nil {
				d.Logger.Warn("failed to close database after setup error", zap.Error(cerr))
			}
			d.RepoFactory, d.DB = nil, nil
		}
	}()

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := d.DB.InitSchema(ctx); err != nil {
		return err
	}

	// Initialize audit schema when using separate audit DB
	if err := factory.InitAuditSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	d.Repositories = factory.NewRepositories()
	d.TxManager = factory.GetTransactionManager()
	return nil
}

// initRouting builds the router from configuration and, when a database is
// available, merges in the stored aliases
func (d *Dependencies) initRouting(ctx context.Context, cfg *config.Config) error {
	d.RouteTable, d.Router = NewRouter(cfg, d.Logger)

	if d.Repositories != nil {
		if err := d.syncRouteAliases(ctx, cfg.Routing.Routes); err != nil {
			return err
		}
	}

	d.Logger.Info("routing initialized",
		zap.String("default_vendor", cfg.Routing.DefaultVendor),
		zap.Int("aliases", d.RouteTable.Len()))
	return nil
}

// NewRouter builds the vendor catalog, route table and routing service from
// configuration alone
func NewRouter(cfg *config.Config, logger *zap.Logger) (*routing.RouteTable, *routing.RoutingService) {
	catalog := routing.DefaultCatalog(cfg.Routing.DefaultVendor)
	aliases := make(map[string]routing.RouteAlias)

	if routes := cfg.Routing.Routes; routes != nil {
		for alias, vendor := range routes.VendorAliases {
			catalog.AddVendorAlias(alias, vendor)
		}
		for prefix, vendor := range routes.Patterns {
			catalog.AddPattern(prefix, vendor)
		}
		for name, a := range routes.Aliases {
			aliases[name] = toRouteAlias(a.Targets, a.Multiple)
		}
	}

	table := routing.NewRouteTable(aliases, logger)
	router := routing.NewDefaultRoutingService(table, catalog, routing.CompositeConfig{
		EnableFallback: cfg.Routing.EnableFallback,
		MinConfidence:  cfg.Routing.MinConfidence,
	}, logger)
	return table, router
}

// syncRouteAliases stores the file aliases and loads every stored alias
// into the route table
func (d *Dependencies) syncRouteAliases(ctx context.Context, routes *config.RoutesFile) error {
	if routes != nil && len(routes.Aliases) > 0 {
		err := d.TxManager.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
			repo := d.Repositories.RouteAliases.WithTx(tx)
			for name, a := range routes.Aliases {
				if err := repo.Upsert(ctx, models.NewRouteAlias(name, a.Targets...)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to store route aliases: %w", err)
		}
	}

	stored, err := d.Repositories.RouteAliases.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load route aliases: %w", err)
	}
	for _, a := range stored {
		if _, ok := d.RouteTable.Lookup(a.Name); ok {
			continue
		}
		d.RouteTable.Set(a.Name, toRouteAlias(a.Targets, len(a.Targets) > 1))
	}
	return nil
}

func toRouteAlias(targets []string, multiple bool) routing.RouteAlias {
	if !multiple && len(targets) == 1 {
		return routing.Single(targets[0])
	}
	return routing.Multiple(targets...)
}

// initProviders registers an adapter per vendor and the inbound codecs
func (d *Dependencies) initProviders(cfg *config.Config) error {
	configs := make(map[string]providers.ProviderConfig)
	for _, v := range cfg.Vendors.All() {
		configs[v.Name] = providers.ProviderConfig{
			BaseURL: v.BaseURL,
			Timeout: v.Timeout,
		}
	}

	registry, err := providers.NewRegistryBuilder().
		WithAdapterBuilder(routing.VendorAnthropic, func(c providers.ProviderConfig) providers.Adapter {
			return anthropic.NewAdapter(c)
		}).
		WithAdapterBuilder(routing.VendorOpenAI, func(c providers.ProviderConfig) providers.Adapter {
			return openai.NewOpenAIAdapter(c)
		}).
		WithAdapterBuilder(routing.VendorOpenRouter, func(c providers.ProviderConfig) providers.Adapter {
			return openai.NewOpenRouterAdapter(c)
		}).
		WithAdapterBuilder(routing.VendorGemini, func(c providers.ProviderConfig) providers.Adapter {
			return gemini.NewAdapter(c)
		}).
		WithCodec(anthropic.NewCodec()).
		WithCodec(openai.NewCodec()).
		WithCodec(gemini.NewCodec()).
		Build(configs)
	if err != nil {
		return err
	}

	d.Registry = registry
	d.Logger.Info("providers registered", zap.Strings("vendors", registry.ListProviders()))
	return nil
}

// initCredentials seeds the credential store from configuration and merges
// persisted credentials over it
func (d *Dependencies) initCredentials(ctx context.Context, cfg *config.Config) error {
	endpoints := map[string]credentials.Endpoint{
		routing.VendorAnthropic: {TokenURL: credentials.AnthropicTokenURL, ClientID: credentials.AnthropicClientID},
	}
	for _, v := range cfg.Vendors.All() {
		if v.TokenURL == "" && v.ClientID == "" {
			continue
		}
		ep := endpoints[v.Name]
		if v.TokenURL != "" {
			ep.TokenURL = v.TokenURL
		}
		if v.ClientID != "" {
			ep.ClientID = v.ClientID
		}
		endpoints[v.Name] = ep
	}

	refresher := credentials.NewOAuthRefresher(endpoints, &http.Client{Timeout: 30 * time.Second}, d.Logger)

	var persister credentials.Persister
	if d.Repositories != nil {
		persister = credentials.NewRepositoryPersister(d.Repositories.Credentials)
	}

	storeCfg := credentials.DefaultConfig()
	if cfg.Maintenance.RefreshWindow > 0 {
		storeCfg.RefreshWindow = cfg.Maintenance.RefreshWindow
	}
	store := credentials.NewStore(refresher, persister, storeCfg, d.Logger)

	for _, v := range cfg.Vendors.All() {
		if cred, ok := credentialFromConfig(v); ok {
			store.Put(cred)
		}
	}

	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load stored credentials: %w", err)
	}

	if len(store.Vendors()) == 0 {
		d.Logger.Warn("no vendor credentials configured")
	}
	d.Credentials = store
	return nil
}

// credentialFromConfig prefers an API key over OAuth tokens. An OAuth
// credential without an access token is marked expired so the first use
// refreshes it.
func credentialFromConfig(v config.VendorConfig) (providers.Credential, bool) {
	switch {
	case v.APIKey != "":
		return providers.Credential{Vendor: v.Name, Kind: providers.CredentialAPIKey, Token: v.APIKey}, true
	case v.AccessToken != "" || v.RefreshToken != "":
		cred := providers.Credential{
			Vendor:       v.Name,
			Kind:         providers.CredentialOAuth,
			Token:        v.AccessToken,
			RefreshToken: v.RefreshToken,
			ClientID:     v.ClientID,
		}
		if v.AccessToken == "" {
			cred.ExpiresAt = time.Unix(0, 0)
		}
		return cred, true
	default:
		return providers.Credential{}, false
	}
}

// initAudit starts the dispatch-log pipeline, writing to Postgres when available
func (d *Dependencies) initAudit() error {
	var sink audit.Sink
	if d.Repositories != nil {
		sink = audit.NewRepositorySink(d.Repositories.DispatchLogs)
	} else {
		sink = audit.NewLoggerSink(d.Logger)
	}

	svc := audit.NewAuditService(sink, d.Logger, audit.DefaultConfig())
	if err := svc.Start(); err != nil {
		return err
	}
	d.Audit = svc
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	var validator middleware.TokenValidator
	if cfg.Auth.JWTSecret != "" {
		validator = middleware.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, cfg.Auth.APIKeys, d.Logger)
	if !d.AuthMiddleware.Enabled() {
		d.Logger.Warn("gateway auth not configured, all requests are accepted")
	}
}

// Start launches background work: the credential maintenance loop
func (d *Dependencies) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.stopMaintenance = cancel
	d.maintenanceDone = make(chan struct{})

	go func() {
		defer close(d.maintenanceDone)
		d.Credentials.RunMaintenance(ctx, credentials.MaintenanceConfig{
			Interval: d.Config.Maintenance.Interval,
			Cooldown: d.Config.Maintenance.Cooldown,
		})
	}()
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error

	d.closeOnce.Do(func() {
		d.Logger.Info("shutting down dependencies")

		if d.stopMaintenance != nil {
			d.stopMaintenance()
			select {
			case <-d.maintenanceDone:
			case <-ctx.Done():
				errs = append(errs, fmt.Errorf("credential maintenance did not stop: %w", ctx.Err()))
			}
		}

		if d.Audit != nil {
			if err := d.Audit.Stop(shutdownBudget(ctx)); err != nil {
				errs = append(errs, fmt.Errorf("failed to flush dispatch logs: %w", err))
			}
		}

		if d.shutdownTracing != nil {
			if err := d.shutdownTracing(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shut down tracing: %w", err))
			}
		}

		if d.RepoFactory != nil {
			if err := d.RepoFactory.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close database: %w", err))
			} else {
				d.Logger.Info("database connection closed")
			}
		}

		_ = d.Logger.Sync()
	})

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

func shutdownBudget(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
	}
	return 5 * time.Second
}
