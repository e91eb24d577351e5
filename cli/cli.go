// Package cli 命令行入口：
//
//	jobprogress serve -c config.yaml [--env .env]   启动进度服务
//	jobprogress watch <jobId> [--server URL] [--token T]   跟随任务事件流，完成退出 0，失败退出 1
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mengeric/jobprogress/client"
	"github.com/mengeric/jobprogress/config"
	"github.com/mengeric/jobprogress/logging"
	"github.com/mengeric/jobprogress/metrics"
	_ "github.com/mengeric/jobprogress/processor/example"
	"github.com/mengeric/jobprogress/publisher"
	"github.com/mengeric/jobprogress/server"
	"github.com/mengeric/jobprogress/sse"
	"github.com/mengeric/jobprogress/storage/gormstore"
	"github.com/mengeric/jobprogress/storage/memstore"
)

// Version 由构建时 -ldflags 注入。
var Version = "dev"

type globalFlags struct {
	configFile string
	envFile    string
}

func (g *globalFlags) load() (config.Config, error) {
	cfg, err := config.LoadWithEnv(g.configFile, g.envFile)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// BuildCLI 构造根命令。
func BuildCLI() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "jobprogress",
		Short:         "Job progress notification service",
		Long:          "Serves job progress over Server-Sent Events and follows job streams from the command line.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "config file path (yaml)")
	root.PersistentFlags().StringVar(&g.envFile, "env", "", "optional .env file")

	root.AddCommand(buildServeCommand(g))
	root.AddCommand(buildWatchCommand(g))
	return root
}

func buildServeCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the progress service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := server.WithSignalCancel(cmd.Context())
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

// runServe 装配并运行服务，阻塞至 ctx 取消且优雅关闭完成。
func runServe(ctx context.Context, cfg config.Config) error {
	logging.SetGlobal(logging.New(cfg.Log))

	var col *metrics.Collector
	if !cfg.Metrics.Disabled {
		col = metrics.NewCollector(nil)
	}

	var storeOpts []memstore.Option
	if col != nil {
		storeOpts = append(storeOpts, memstore.WithSweepHook(col.ObserveSweep))
	}
	store := memstore.New(cfg.Store.TTL, storeOpts...)
	store.Start(ctx, cfg.Store.SweepEvery)

	pubOpts := []publisher.Option{publisher.WithOptions(publisher.Options{
		PollEvery:      cfg.Pipeline.PollEvery,
		RequestTimeout: cfg.Pipeline.RequestTimeout,
		NotFoundGrace:  cfg.Pipeline.NotFoundGrace,
	})}
	sseOpts := []sse.Option{sse.WithOptions(sse.Options{
		PollInterval:      cfg.Stream.PollInterval,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		FlushDelay:        cfg.Stream.FlushDelay,
	})}
	srvOpts := []server.Option{server.WithOptions(server.Options{
		ListenAddr:      cfg.Server.Addr(),
		APIToken:        cfg.Server.APIToken,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})}
	if col != nil {
		pubOpts = append(pubOpts, publisher.WithObserver(col))
		sseOpts = append(sseOpts, sse.WithObserver(col))
		srvOpts = append(srvOpts, server.WithMetrics(col.Handler()))
	}

	if cfg.Archive.DSN != "" {
		arc, err := openArchive(ctx, cfg.Archive.DSN)
		if err != nil {
			return err
		}
		arc.StartPurge(ctx, time.Hour, cfg.Archive.Retention)
		pubOpts = append(pubOpts, publisher.WithArchive(arc))
		srvOpts = append(srvOpts, server.WithArchive(arc))
	}

	var api client.PipelineAPI
	if cfg.Pipeline.BaseURL != "" {
		api = client.NewHTTPPipelineAPI(cfg.Pipeline.BaseURL, cfg.Pipeline.RequestTimeout)
	}
	pub := publisher.New(store, api, pubOpts...)
	pub.Start(ctx)

	srv := server.New(store, pub, sse.NewHandler(store, sseOpts...), srvOpts...)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	<-srv.Done()
	logging.L().Info(context.WithoutCancel(ctx), "server stopped")
	return nil
}

func openArchive(ctx context.Context, dsn string) (*gormstore.Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	arc := gormstore.New(db)
	if err := arc.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return arc, nil
}
