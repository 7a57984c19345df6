package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/casedesk/casedesk-api/internal/app"
	"github.com/casedesk/casedesk-api/internal/config"
	"github.com/joho/godotenv"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	if errEnv := godotenv.Load(); errEnv != nil && !os.IsNotExist(errEnv) {
		log.WithError(errEnv).Warn("load .env failed")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, and runs the selected mode.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("casedesk", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", 8318, "server port")
	migrateOnly := fs.Bool("migrate", false, "run database migrations and exit")
	sweepOnce := fs.Bool("sweep-once", false, "run one billing conversion sweep and exit")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if errValidate := validatePort(*port); errValidate != nil {
		return errValidate
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}

	switch {
	case *migrateOnly:
		if errMigrate := app.Migrate(ctx, appCfg); errMigrate != nil {
			return errMigrate
		}
		log.Info("migrations applied")
		return nil
	case *sweepOnce:
		report, errSweep := app.SweepOnce(ctx, appCfg)
		if errSweep != nil {
			return errSweep
		}
		log.WithFields(log.Fields{
			"run_id":    report.RunID,
			"succeeded": report.Succeeded(),
			"failed":    report.Failed(),
			"expired":   report.Expired,
		}).Info("sweep finished")
		if report.Failed() > 0 {
			return fmt.Errorf("sweep: %d profile(s) failed", report.Failed())
		}
		return nil
	}
	return app.RunServer(ctx, appCfg, *port)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
