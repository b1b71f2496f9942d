package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/titlebot/internal/botapi"
	"github.com/dgnsrekt/titlebot/internal/config"
	"github.com/dgnsrekt/titlebot/internal/groupcli"
	"github.com/dgnsrekt/titlebot/internal/listener"
	"github.com/dgnsrekt/titlebot/internal/poll"
	"github.com/dgnsrekt/titlebot/internal/rename"
	"github.com/dgnsrekt/titlebot/internal/server"
	"github.com/dgnsrekt/titlebot/internal/state"
	"github.com/dgnsrekt/titlebot/internal/token"
)

var (
	cfgFile string
	verbose bool
	logger  *zap.Logger
	cfg     *config.Config
)

func setupLogger(verbose bool, logCfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}

	if logCfg != nil && logCfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(level)
		}
	}

	if logCfg != nil && logCfg.Enabled {
		if err := os.MkdirAll(logCfg.Directory, 0755); err != nil {
			return nil, fmt.Errorf("creating logs directory: %w", err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		logFile := filepath.Join(logCfg.Directory, fmt.Sprintf("titlebot_%s.log", timestamp))
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, logFile)
	}

	return zapConfig.Build()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "titlebot",
		Short: "Group title bot: issues tokens over private chat, renames the group over HTTP",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				var err error
				logger, err = setupLogger(verbose, nil)
				return err
			}

			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}

			logger, err = setupLogger(verbose, &cfg.Logging)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.Int64("group", cfg.Group.ID),
		zap.String("kind", cfg.Group.Kind),
		zap.String("prefix", cfg.Group.TitlePrefix),
		zap.String("addr", cfg.Server.Addr),
		zap.Duration("tokenExpire", cfg.Token.Expire()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shared state: persisted snapshot in, snapshot out at shutdown.
	store, err := state.Load(cfg.State.File, logger)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	cli, err := groupcli.Dial(ctx, cfg.CLI.Addr, cfg.CLI.Timeout(), logger)
	if err != nil {
		return fmt.Errorf("connecting cli bridge: %w", err)
	}
	defer func() { _ = cli.Close() }()

	kind, err := groupcli.ParseGroupKind(cfg.Group.Kind)
	if err != nil {
		return err
	}
	group := cli.Group(kind, cfg.Group.ID, cfg.Group.PageSize)

	// No persisted membership means first run: fetch the full roster.
	if store.MemberCount() == 0 {
		logger.Info("no persisted membership, running full refresh")
		members, err := group.FetchMembers(ctx)
		if err != nil {
			return fmt.Errorf("fetching members: %w", err)
		}
		title, err := group.FetchTitle(ctx)
		if err != nil {
			return fmt.Errorf("fetching title: %w", err)
		}
		store.ApplyRefresh(title, members)
	}
	logger.Info("group state ready",
		zap.String("title", store.Title()),
		zap.Int("members", store.MemberCount()),
	)

	tokens := token.NewService(cfg.Token.SecretKey, cfg.Token.Expire(), store)
	if removed := tokens.GC(time.Now()); removed > 0 {
		logger.Info("expired tokens collected", zap.Int("count", removed))
	}
	if interval := cfg.Token.GCInterval(); interval > 0 {
		go runTokenGC(ctx, tokens, interval)
	}

	bot := botapi.NewClient(
		cfg.Bot.BaseURL,
		cfg.Bot.Token,
		cfg.Bot.RatePerSecond,
		cfg.Bot.Timeout(),
		cfg.Bot.RetryDelay(),
		cfg.Bot.RetryCount,
		logger,
	)

	coordinator := rename.NewCoordinator(tokens, store, group, bot,
		cfg.Group.TitlePrefix, cfg.Bot.AnnounceChatID, logger)

	poller := poll.New(bot, tokens, store, cfg.Server.BaseURL, cfg.Bot.PollTimeout(), logger)
	go poller.Run(ctx)

	lst := listener.New(store, kind, cfg.Group.ID, logger)
	go lst.Run(ctx, cli.Events())

	srv := server.NewServer(store, tokens, coordinator, cfg.Group.TitlePrefix, logger)
	router := server.NewRouter(srv, cfg.Server.StaticDir, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	// Stop the poller and listener first so no new mutations race the
	// final snapshot; in-flight HTTP requests get to finish.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	if err := store.Save(cfg.State.File); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	logger.Info("state saved", zap.String("path", cfg.State.File))

	return nil
}

func runTokenGC(ctx context.Context, tokens *token.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := tokens.GC(time.Now()); removed > 0 {
				logger.Debug("expired tokens collected", zap.Int("count", removed))
			}
		}
	}
}
