package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"launchkey-go/internal/app/services"
	"launchkey-go/internal/domain/eventbus"
	"launchkey-go/internal/domain/eventbus/infrastructure"
	"launchkey-go/internal/domain/eventbus/repository"
	"launchkey-go/internal/domain/launchkey"
	"launchkey-go/internal/domain/session"
	sessionstore "launchkey-go/internal/domain/session/store"
	platformconfig "launchkey-go/internal/platform/config"
	platformerrors "launchkey-go/internal/platform/errors"
	platformlogging "launchkey-go/internal/platform/logging"
	platformobservability "launchkey-go/internal/platform/observability"
	platformstorage "launchkey-go/internal/platform/storage"
	httptransport "launchkey-go/internal/transport/http"
	"launchkey-go/internal/transport/ws"
)

const (
	shutdownTimeout    = 15 * time.Second
	auditPruneInterval = time.Hour
	defaultStaticRoot  = "./web"
	wsRoutePath        = "/launchkey/ws/:auth_request"
	eventWorkers       = 4
)

// Options configures Run.
type Options struct {
	// ConfigPath overrides config file discovery.
	ConfigPath string
	// DisableDotEnv skips loading .env.
	DisableDotEnv bool
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	options               Options
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	slogger               *slog.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	db                    *gorm.DB
	bus                   *eventbus.Bus
	audit                 repository.EventRepository
	sessions              *session.Manager
	client                *launchkey.Client
	login                 *services.LoginService
}

// Run loads configuration, wires every component, serves HTTP until ctx is
// cancelled or SIGINT/SIGTERM arrives, then shuts down in reverse order.
func Run(ctx context.Context, opts Options) error {
	state := &appState{options: opts}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		state.close()
		return err
	}
	defer state.close()

	logBootstrapGraph(steps, state.logger)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(state.config.Server.IP, strconv.Itoa(state.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "http:listen", "failed to listen on "+addr, err)
	}
	return serve(signalCtx, state, ln)
}

// serve runs the HTTP server and background jobs on ln until ctx ends.
func serve(ctx context.Context, state *appState, ln net.Listener) error {
	logger := state.logger

	hub := ws.NewHub(logger)
	handler, err := buildHandler(state, hub)
	if err != nil {
		_ = ln.Close()
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	server := httptransport.NewServer(httptransport.ServerConfig{
		ReadTimeout: state.config.Server.ReadTimeout,
	}, handler, logger)
	group.Go(func() error {
		return server.Serve(groupCtx, ln)
	})

	if state.audit != nil && state.config.Storage.AuditRetention > 0 {
		group.Go(func() error {
			pruneAudit(groupCtx, state.audit, state.config.Storage.AuditRetention, logger)
			return nil
		})
	}

	<-groupCtx.Done()
	logger.InfoTag("Bootstrap", "shutting down: %v", context.Cause(groupCtx))
	hub.CloseAll(ws.ErrSessionShutdown)

	done := make(chan error, 1)
	go func() {
		done <- group.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("Bootstrap", "shutdown error: %v", err)
			return err
		}
		logger.InfoTag("Bootstrap", "all services stopped")
	case <-time.After(shutdownTimeout):
		logger.ErrorTag("Bootstrap", "shutdown timed out")
		return platformerrors.New(platformerrors.KindBootstrap, "shutdown", "shutdown timed out")
	}
	return nil
}

func buildHandler(state *appState, hub *ws.Hub) (http.Handler, error) {
	router, err := httptransport.Build(httptransport.Options{
		Config:         state.config,
		Logger:         state.logger,
		AuthMiddleware: httptransport.BearerAuth(state.login),
		StaticRoot:     defaultStaticRoot,
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindBootstrap, "http:build-router", "failed to build router", err)
	}

	httptransport.NewLaunchKeyHandler(state.login, state.sessions, state.audit).RegisterRoutes(router)

	wsRouter := ws.NewRouter(hub, state.logger, ws.RouterOptions{
		CheckOrigin: originChecker(state.config.Server.CORSOrigins),
	})
	wsRouter.SetHandlerBuilder(ws.NewPollHandlerBuilder(state.login, ws.WatchOptions{
		Interval: state.config.LaunchKey.PollInterval,
		Timeout:  state.config.LaunchKey.PollTimeout,
	}))
	router.API.GET(wsRoutePath, gin.WrapF(wsRouter.Handle))

	router.Engine.NoRoute(func(c *gin.Context) {
		httptransport.RespondError(c, http.StatusNotFound, "not found", nil)
	})
	return router.Engine, nil
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func pruneAudit(ctx context.Context, repo repository.EventRepository, retention time.Duration, logger *platformlogging.Logger) {
	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := repo.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.WarnTag("Event", "audit prune failed: %v", err)
				continue
			}
			if removed > 0 {
				logger.InfoTag("Event", "pruned %d audit events", removed)
			}
		}
	}
}

// close releases whatever the init steps managed to build.
func (s *appState) close() {
	if s.login != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.login.Close(ctx); err != nil && s.logger != nil {
			s.logger.WarnTag("LaunchKey", "pending revoke notifications abandoned: %v", err)
		}
		cancel()
	}
	if s.sessions != nil {
		_ = s.sessions.Close()
	}
	if s.bus != nil {
		s.bus.Shutdown()
	}
	if s.db != nil {
		_ = platformstorage.Close(s.db)
	}
	if s.observabilityShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.observabilityShutdown(ctx)
		cancel()
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("Bootstrap", "init graph")
	for _, step := range steps {
		deps := "-"
		if len(step.DependsOn) > 0 {
			deps = strings.Join(step.DependsOn, ", ")
		}
		logger.InfoTag("Bootstrap", "%s (%s) after %s", step.ID, step.Title, deps)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}
	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph lists the init steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:open-database",
			Title:     "Open database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   openDatabaseStep,
		},
		{
			ID:        "eventbus:init",
			Title:     "Initialise event bus",
			DependsOn: []string{"storage:open-database"},
			Execute:   initEventBusStep,
		},
		{
			ID:        "session:init-manager",
			Title:     "Initialise session manager",
			DependsOn: []string{"storage:open-database", "eventbus:init"},
			Kind:      platformerrors.KindSession,
			Execute:   initSessionStep,
		},
		{
			ID:        "launchkey:init-client",
			Title:     "Initialise LaunchKey client",
			DependsOn: []string{"observability:setup-hooks", "eventbus:init"},
			Kind:      platformerrors.KindConfig,
			Execute:   initLaunchKeyStep,
		},
		{
			ID:        "app:init-login",
			Title:     "Initialise login service",
			DependsOn: []string{"session:init-manager", "launchkey:init-client"},
			Execute:   initLoginStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := platformconfig.NewLoader().WithDotEnv(!state.options.DisableDotEnv)
	if state.options.ConfigPath != "" {
		loader = loader.WithPath(state.options.ConfigPath)
	}
	result, err := loader.Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
		Console:  state.config.Log.Console,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logger = logger
	state.slogger = logger.Slog()

	source := state.configPath
	if source == "" {
		source = "defaults"
	}
	logger.InfoTag("Bootstrap", "logging ready [%s] config=%s", state.config.Log.Level, source)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	cfg := platformobservability.Config{
		Enabled: state.config.Observability.Enabled || strings.EqualFold(state.config.Log.Level, "debug"),
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

// openDatabaseStep opens SQLite only when something persists to it.
func openDatabaseStep(_ context.Context, state *appState) error {
	cfg := state.config
	if !cfg.Storage.Audit && !strings.EqualFold(cfg.Session.Driver, sessionstore.DriverSQLite) {
		state.logger.InfoTag("Bootstrap", "database not required")
		return nil
	}
	db, err := platformstorage.Open(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	state.db = db
	version, err := platformstorage.SchemaVersion(db)
	if err != nil {
		return err
	}
	state.logger.InfoTag("Bootstrap", "database ready %s (schema %s)", cfg.Storage.DSN, version)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	bus := eventbus.New(eventWorkers)
	state.bus = bus

	if err := eventbus.SetupEventHandlers(bus, eventbus.NewLogHandler(state.logger.Tagged("Event"))); err != nil {
		return err
	}
	if state.db != nil && state.config.Storage.Audit {
		state.audit = infrastructure.NewEventRepository(state.db)
		recorder := eventbus.NewAuditRecorder(state.audit, state.logger.Tagged("Event"))
		if err := eventbus.SetupEventHandlers(bus, recorder); err != nil {
			return err
		}
	}
	return nil
}

func initSessionStep(_ context.Context, state *appState) error {
	cfg := state.config.Session

	storeCfg := sessionstore.Config{
		Driver: strings.ToLower(cfg.Driver),
		TTL:    cfg.TTL,
	}
	if storeCfg.Driver == sessionstore.DriverRedis {
		storeCfg.Redis = &sessionstore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
	}
	store, err := sessionstore.New(storeCfg, sessionstore.Dependencies{SQLiteDB: state.db})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindSession, "session:init-manager", "failed to create session store", err)
	}

	tokens, err := session.NewTokenIssuer(cfg.JWTSecret, cfg.Issuer, cfg.TTL)
	if err != nil {
		_ = store.Close(context.Background())
		return platformerrors.Wrap(platformerrors.KindConfig, "session:init-manager", "invalid token settings", err)
	}

	manager, err := session.NewManager(session.Options{
		Store:           store,
		Tokens:          tokens,
		Logger:          state.logger.Tagged("Session"),
		Events:          state.bus,
		SessionTTL:      cfg.TTL,
		PendingTTL:      cfg.PendingTTL,
		CleanupInterval: cfg.Cleanup,
	})
	if err != nil {
		_ = store.Close(context.Background())
		return platformerrors.Wrap(platformerrors.KindSession, "session:init-manager", "failed to create session manager", err)
	}
	state.sessions = manager
	state.logger.InfoTag("Session", "session store ready (%s)", storeCfg.Driver)
	return nil
}

func initLaunchKeyStep(_ context.Context, state *appState) error {
	cfg := state.config.LaunchKey

	creds, err := launchkey.NewCredentials(cfg.AppKey, cfg.AppSecret, cfg.PrivateKey, cfg.Domain, cfg.Version)
	if err != nil {
		return err
	}
	lkLogger := state.logger.Tagged("LaunchKey")
	transport := launchkey.NewRestTransport(launchkey.RestOptions{
		BaseURL: cfg.BaseURL,
		Version: creds.Version(),
		Timeout: cfg.Timeout,
		Debug:   cfg.Debug,
		Logger:  lkLogger,
	})
	crypto := launchkey.NewCryptoEngine(launchkey.ParsePadding(cfg.EncryptionPadding))
	// fail at startup rather than on the first login
	if _, err := launchkey.ParsePrivateKey(creds.PrivateKey()); err != nil {
		return err
	}

	client, err := launchkey.NewClient(launchkey.Options{
		Credentials: creds,
		Transport:   transport,
		Crypto:      crypto,
		Logger:      lkLogger,
		Events:      state.bus,
	})
	if err != nil {
		return err
	}
	state.client = client
	state.logger.InfoTag("LaunchKey", "client ready %s", creds)
	return nil
}

func initLoginStep(_ context.Context, state *appState) error {
	cfg := state.config.LaunchKey
	login, err := services.NewLoginService(services.LoginConfig{
		Client:   state.client,
		Sessions: state.sessions,
		Logger:   state.logger.Tagged("LaunchKey"),
		Revoke: services.RevokeOptions{
			Workers: cfg.RevokeWorkers,
			Retries: cfg.RevokeRetries,
			Timeout: cfg.Timeout,
		},
	})
	if err != nil {
		return err
	}
	state.login = login
	return nil
}
