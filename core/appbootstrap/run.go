package appbootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"osprey-ptx/api"
	"osprey-ptx/config"
	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

// Run wires the whole runtime: config, database, migrations, default
// admin, scheduler and HTTP server. It blocks until SIGINT/SIGTERM.
func Run(configPath string) error {
	logger := utils.NewLogger()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		return err
	}

	comp, err := composeRuntime(cfg, db, logger)
	if err != nil {
		return err
	}
	if err := EnsureDefaultAdmin(context.Background(), comp.serverDeps.Users, logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := comp.scheduler.StartWithContext(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		comp.scheduler.StopWithContext(stopCtx)
	}()

	go sessionJanitor(ctx, comp.sessions, logger)

	server := api.NewServer(comp.serverDeps)
	return server.Run(ctx)
}

func sessionJanitor(ctx context.Context, sessions store.SessionStore, logger *utils.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sessions.DeleteExpired(ctx, utils.NowUTC()); err != nil && logger != nil {
				logger.Errorf("session cleanup: %v", err)
			}
		}
	}
}
