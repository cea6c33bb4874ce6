package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pogo-ws/bridge/internal/broadcast"
	"github.com/pogo-ws/bridge/internal/policy"
	"github.com/pogo-ws/bridge/internal/transport"
	"github.com/pogo-ws/bridge/store"
	"github.com/pogo-ws/bridge/store/mem"
	"github.com/pogo-ws/bridge/store/redis"
)

var (
	ko = koanf.New(".")

	// Version of the build injected at build time.
	buildString = "unknown"
)

// Placeholder credentials that must be overridden in production.
const (
	placeholderAppID  = "pogo-app"
	placeholderSecret = "super-secret-key"
)

// App is the global app context that's passed around.
type App struct {
	cfg     *Config
	bcast   *broadcast.Broadcaster
	store   store.Store
	metrics *Metrics
	log     *zap.Logger
}

// Config represents the app configuration.
type Config struct {
	Address       string `koanf:"address"`
	RootURL       string `koanf:"root_url"`
	AppID         string `koanf:"app_id"`
	Secret        string `koanf:"secret"`
	APIKey        string `koanf:"api_key"`
	SessionCookie string `koanf:"session_cookie"`
	Debug         bool   `koanf:"debug"`
}

func loadConfig() {
	// Register --help handler.
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	f.StringSlice("config", []string{"config.toml"},
		"Path to one or more TOML config files to load in order")
	f.Bool("version", false, "Show build version")
	f.Parse(os.Args[1:])

	// Display version.
	if ok, _ := f.GetBool("version"); ok {
		fmt.Println(buildString)
		os.Exit(0)
	}

	// Read the config files.
	cFiles, _ := f.GetStringSlice("config")
	for _, f := range cFiles {
		log.Printf("reading config: %s", f)
		if err := ko.Load(file.Provider(f), toml.Parser()); err != nil {
			log.Printf("error reading config: %v", err)
		}
	}

	// Merge env flags into config.
	if err := ko.Load(env.Provider("POGO_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "POGO_")), "__", ".", -1)
	}), nil); err != nil {
		log.Printf("error loading env config: %v", err)
	}

	// Merge command line flags into config.
	ko.Load(posflag.Provider(f, ".", ko), nil)
}

func initLogger(debug bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("error initializing logger: %v", err)
	}
	return logger
}

// initStore initializes the configured session/occupancy store backend.
func initStore(logger *zap.Logger) store.Store {
	switch ko.String("store.type") {
	case "mem":
		st, err := mem.New(mem.Config{})
		if err != nil {
			logger.Fatal("error initializing store", zap.Error(err))
		}
		return st
	default:
		var cfg redis.Config
		if err := ko.Unmarshal("store", &cfg); err != nil {
			logger.Fatal("error unmarshalling 'store' config", zap.Error(err))
		}
		st, err := redis.New(cfg)
		if err != nil {
			logger.Fatal("error initializing store", zap.Error(err))
		}
		return st
	}
}

// initRouter registers the HTTP routes. metricsHandler may be nil.
func initRouter(app *App, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Auth endpoints called by browser clients (via the host app's domain).
	r.Post("/auth", wrap(handleAuth, app, hasIdent))
	r.Post("/user-auth", wrap(handleUserAuth, app, hasIdent))

	// Server-to-server endpoints.
	r.Post("/webhook", wrap(handleWebhook, app, 0))
	r.Post("/events", wrap(handleTrigger, app, 0))
	r.Get("/channels", wrap(handleChannels, app, 0))

	r.Get("/health", wrap(handleHealth, app, 0))
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	return r
}

// Catch OS interrupts and respond accordingly.
func catchInterrupts(logger *zap.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range c {
			logger.Info("shutting down", zap.Stringer("signal", sig))
			os.Exit(0)
		}
	}()
}

func main() {
	// Load configuration from files.
	loadConfig()

	var cfg Config
	if err := ko.Unmarshal("app", &cfg); err != nil {
		log.Fatalf("error unmarshalling 'app' config: %v", err)
	}
	if cfg.Address == "" {
		cfg.Address = ":9400"
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "session"
	}

	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	if cfg.AppID == "" {
		cfg.AppID = placeholderAppID
	}
	if cfg.Secret == "" {
		cfg.Secret = placeholderSecret
	}
	if cfg.AppID == placeholderAppID || cfg.Secret == placeholderSecret {
		logger.Warn("app.app_id / app.secret are placeholders, override them in production")
	}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	// Access rules for private/presence channels.
	var rules []policy.RuleConfig
	if err := ko.Unmarshal("policy.rules", &rules); err != nil {
		logger.Fatal("error unmarshalling 'policy.rules' config", zap.Error(err))
	}
	pol, err := policy.New(rules, logger)
	if err != nil {
		logger.Fatal("error compiling channel policy", zap.Error(err))
	}

	// The transport is optional: without it, broadcasts are no-ops and
	// the auth/webhook surface keeps working.
	var tcfg transport.Config
	if err := ko.Unmarshal("transport", &tcfg); err != nil {
		logger.Fatal("error unmarshalling 'transport' config", zap.Error(err))
	}
	var (
		multi  broadcast.MultiPublisher
		single broadcast.Publisher
	)
	if !tcfg.Disabled && tcfg.URL != "" {
		tc := transport.New(tcfg, logger)
		multi, single = tc, tc
	} else {
		logger.Warn("transport publishing disabled, broadcasts will be dropped")
	}

	app := &App{
		cfg: &cfg,
		bcast: broadcast.New(broadcast.Config{
			AppID:  cfg.AppID,
			Secret: cfg.Secret,
		}, pol, multi, single, metrics, logger),
		store:   initStore(logger),
		metrics: metrics,
		log:     logger,
	}

	catchInterrupts(logger)

	srv := &http.Server{
		Addr:    cfg.Address,
		Handler: initRouter(app, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	}
	logger.Info("starting server", zap.String("address", cfg.Address))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("couldn't start server", zap.Error(err))
	}
}
