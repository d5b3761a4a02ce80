package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/AzielCF/az-wap/core/config"
	"github.com/AzielCF/az-wap/core/database"
	"github.com/AzielCF/az-wap/engine/dispatcher"
	"github.com/AzielCF/az-wap/engine/evaluator"
	"github.com/AzielCF/az-wap/engine/scheduler"
	"github.com/AzielCF/az-wap/ingress"
	"github.com/AzielCF/az-wap/pkg/secretbox"
	"github.com/AzielCF/az-wap/pkg/workerpool"
	"github.com/AzielCF/az-wap/store/gormstore"
	"github.com/AzielCF/az-wap/ui/rest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook/operator HTTP server and the outreach scheduler",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg := loadConfig()

	if len(cfg.App.BasicAuth) == 0 {
		logrus.Fatalln("APP_BASIC_AUTH is required. Nothing should be public; please set APP_BASIC_AUTH=<user>:<secret>[,<user2>:<secret2>] and restart.")
	}
	if cfg.Security.MasterEncryptionKey == "" {
		logrus.Fatalln("MASTER_ENCRYPTION_KEY is required: sealed secrets cannot be read or written without it.")
	}

	db, err := database.Open(cfg)
	if err != nil {
		logrus.Fatalf("[APP] failed to open database: %v", err)
	}

	box, err := secretbox.New(cfg.Security.MasterEncryptionKey)
	if err != nil {
		logrus.Fatalf("[APP] failed to initialize secretbox: %v", err)
	}

	store := gormstore.New(db, box)
	ctx := context.Background()
	if err := store.InitSchema(ctx); err != nil {
		logrus.Fatalf("[APP] failed to migrate schema: %v", err)
	}

	pool := workerpool.New(cfg.Worker.Size, cfg.Worker.QueueSize)
	pool.Start(ctx)
	defer pool.Stop()

	eval := evaluator.New(store)
	disp := dispatcher.New(store, &cfg.WhatsApp)
	webhookHandler := ingress.New(store, pool, &cfg.WhatsApp)

	// recover conversations a prior crash left stuck mid-evaluation
	// (spec.md §7's recovery policy) before accepting any traffic.
	recovered, err := eval.SweepStaleEvaluating(ctx)
	if err != nil {
		logrus.WithError(err).Error("[APP] failed to sweep stale EVALUATING conversations")
	} else if recovered > 0 {
		logrus.Infof("[APP] recovered %d conversation(s) stuck in EVALUATING", recovered)
	}

	tick := time.Duration(cfg.Scheduler.TickSeconds) * time.Second
	sched := scheduler.New(store, pool, eval, disp, tick)
	sched.Start(ctx)
	defer sched.Stop()

	app := rest.NewApp(store, webhookHandler, &cfg.WhatsApp, cfg.App.BasicAuth, cfg.App.Debug)

	go func() {
		addr := ":" + cfg.App.Port
		logrus.Infof("[APP] listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			logrus.WithError(err).Fatal("[APP] server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logrus.Info("[APP] shutting down...")
	if err := app.Shutdown(); err != nil {
		logrus.WithError(err).Error("[APP] error during shutdown")
	}
}
