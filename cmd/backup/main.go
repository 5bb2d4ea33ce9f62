// cmd/backup/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/bbscout/dbbackup/internal/app"
	"github.com/bbscout/dbbackup/internal/config"
	"github.com/bbscout/dbbackup/internal/domain"
	"github.com/bbscout/dbbackup/internal/infrastructure/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	envFile := flag.String("env-file", ".env", "optional dotenv file layered under the environment")
	once := flag.Bool("once", false, "run a single backup and exit")
	driveAuth := flag.String("drive-auth", "", "path to a Google client secret JSON; runs the Drive OAuth helper")
	authAddr := flag.String("auth-addr", ":8085", "listen address for the Drive OAuth helper")
	remoteName := flag.String("remote-name", "gdrive", "rclone remote name used in the Drive OAuth helper output")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *driveAuth != "" {
		return runDriveAuth(ctx, *driveAuth, *authAddr, *remoteName)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	if *once {
		return onceOutcome(application.RunOnce(ctx))
	}

	return application.Run(ctx)
}

// onceOutcome maps a one-shot run to the process exit: configuration, dump
// and publish failures are fatal, a retention failure alone is not.
func onceOutcome(result *domain.RunResult) error {
	if result.Err != nil {
		return fmt.Errorf("backup failed at %s stage: %w",
			domain.StageName(domain.StageOf(result.Err)), result.Err)
	}
	return nil
}

func runDriveAuth(ctx context.Context, clientSecretPath, addr, remoteName string) error {
	log, err := logger.New(logger.Options{Level: "info"})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Close()

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid -auth-addr %q: %w", addr, err)
	}
	redirectURL := fmt.Sprintf("http://localhost:%s/auth/google/callback", port)

	helper, err := app.NewDriveAuthHelper(log, clientSecretPath, redirectURL, remoteName)
	if err != nil {
		return err
	}
	if err := helper.Start(addr); err != nil {
		return err
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return helper.Shutdown(shutdownCtx)
}
