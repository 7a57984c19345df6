package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/casedesk/casedesk-api/internal/config"
	"github.com/casedesk/casedesk-api/internal/db"
	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/http/api/admin"
	"github.com/casedesk/casedesk-api/internal/http/api/front"
	"github.com/casedesk/casedesk-api/internal/http/api/hooks"
	"github.com/casedesk/casedesk-api/internal/identity"
	"github.com/casedesk/casedesk-api/internal/logging"
	"github.com/casedesk/casedesk-api/internal/metrics"
	"github.com/casedesk/casedesk-api/internal/notify"
	"github.com/casedesk/casedesk-api/internal/payment"
	"github.com/casedesk/casedesk-api/internal/ratelimit"
	"github.com/casedesk/casedesk-api/internal/store"
	"github.com/casedesk/casedesk-api/internal/sweeper"
	"github.com/casedesk/casedesk-api/internal/trial"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 30 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn.WithContext(ctx))
}

// SweepOnce runs a single billing sweep and returns its report.
func SweepOnce(ctx context.Context, cfg config.AppConfig) (sweeper.Report, error) {
	c, err := load(cfg)
	if err != nil {
		return sweeper.Report{}, err
	}
	defer c.close()
	if c.deps.Sweeper == nil {
		return sweeper.Report{}, errors.New("sweep: stripe secret key not configured")
	}
	return c.deps.Sweeper.RunNow(sweeper.WithTrigger(ctx, sweeper.TriggerCron))
}

// RunServer boots the API server and the sweep scheduler and blocks until ctx ends.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	c, err := load(cfg)
	if err != nil {
		return err
	}
	defer c.close()

	if c.scheduler != nil {
		c.scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			c.scheduler.Stop(stopCtx)
		}()
	}

	if defaultPort <= 0 {
		defaultPort = 8318
	}
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(defaultPort),
		Handler:           NewEngine(c.deps, c.conn),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("casedesk api listening on %s (config=%s)", srv.Addr, c.configPath)
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", errServe)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			return fmt.Errorf("shutdown: %w", errShutdown)
		}
		return nil
	})
	return g.Wait()
}

// NewEngine builds the gin engine with every route group registered.
func NewEngine(deps api.Deps, conn *gorm.DB) *gin.Engine {
	api.RegisterValidators()

	engine := gin.New()
	engine.Use(gin.Recovery(), logging.GinLogger(), deps.Metrics.Middleware())
	engine.GET("/healthz", func(c *gin.Context) {
		sqlDB, errDB := conn.DB()
		if errDB != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
		if errPing := sqlDB.PingContext(c.Request.Context()); errPing != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	hooks.RegisterHookRoutes(engine, deps)
	admin.RegisterAdminRoutes(engine, deps)
	front.RegisterFrontRoutes(engine, deps)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return engine
}

type components struct {
	configPath string
	conn       *gorm.DB
	deps       api.Deps
	scheduler  *sweeper.Scheduler
}

func (c *components) close() {
	if c.deps.Limiter != nil {
		if errClose := c.deps.Limiter.Close(); errClose != nil {
			log.WithError(errClose).Warn("close rate limiter failed")
		}
	}
	if sqlDB, errDB := c.conn.DB(); errDB == nil {
		_ = sqlDB.Close()
	}
}

// load resolves configuration and wires every collaborator.
func load(appCfg config.AppConfig) (*components, error) {
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if errLog := logging.Setup(cfg.Logging); errLog != nil {
		return nil, errLog
	}

	conn, err := db.Open(cfg.DSN())
	if err != nil {
		return nil, err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}

	verifier, err := identity.NewVerifier(cfg.Identity.Secret, cfg.Identity.Issuer, cfg.Identity.Audience)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	deps := api.Deps{
		DB:       conn,
		Profiles: store.NewProfileStore(conn),
		Entities: store.NewEntityStore(conn),
		Sweeps:   store.NewSweepRunStore(conn),
		Engine:   trial.NewEngine(trial.Policy{TrialDuration: cfg.Trial.Duration, TrialLimit: cfg.Trial.Limit}),
		Notifier: notify.New(cfg.Email.SendGridAPIKey, cfg.Email.FromEmail, cfg.Email.FromName, cfg.Email.BaseURL),
		Metrics:  m,
		Verifier: verifier,
		Limiter:  ratelimit.NewManager(ratelimit.StaticSettings(ratelimit.SettingsFromConfig(cfg.RateLimit)), nil, nil),
		Config:   &cfg,
	}

	c := &components{configPath: configPath, conn: conn}
	provider, errProvider := payment.NewStripeProvider(cfg.Stripe.SecretKey)
	if errProvider != nil {
		log.WithError(errProvider).Warn("stripe not configured; billing conversion and checkout disabled")
	} else {
		deps.Sessions = provider
		s := sweeper.New(deps.Profiles, deps.Sweeps, provider, deps.Engine, sweeper.Options{
			Window:          cfg.Trial.SweepWindow,
			PriceID:         cfg.Stripe.PriceBasic,
			Plan:            cfg.Stripe.DefaultPlan,
			ProviderTimeout: cfg.Stripe.Timeout,
			MaxConcurrency:  cfg.Trial.SweepConcurrency,
		})
		s.SetNotifier(deps.Notifier)
		s.SetMetrics(m)
		deps.Sweeper = s
		if cfg.Trial.IsSweepEnabled() {
			sch, errSch := sweeper.NewScheduler(s, cfg.Trial.SweepSchedule, 0)
			if errSch != nil {
				return nil, errSch
			}
			c.scheduler = sch
		}
	}
	c.deps = deps
	return c, nil
}
