package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/commonshq/commons-backend/internal/auth"
	"github.com/commonshq/commons-backend/internal/call"
	"github.com/commonshq/commons-backend/internal/chat"
	"github.com/commonshq/commons-backend/internal/config"
	"github.com/commonshq/commons-backend/internal/contact"
	"github.com/commonshq/commons-backend/internal/database"
	"github.com/commonshq/commons-backend/internal/event"
	"github.com/commonshq/commons-backend/internal/ident"
	"github.com/commonshq/commons-backend/internal/identity"
	"github.com/commonshq/commons-backend/internal/logging"
	"github.com/commonshq/commons-backend/internal/notification"
	"github.com/commonshq/commons-backend/internal/presence"
	"github.com/commonshq/commons-backend/internal/reaction"
	"github.com/commonshq/commons-backend/internal/realtime"
	"github.com/commonshq/commons-backend/internal/server"
	"github.com/commonshq/commons-backend/internal/thread"
	"github.com/commonshq/commons-backend/internal/wall"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "commonsd",
		Short: "Commons interaction coordination service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for presence (empty disables)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("session-issuer", defaults.GetString("session.issuer"), "Expected session token issuer")
	cmd.PersistentFlags().String("session-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Int("comment-depth", defaults.GetInt("thread.comment_depth"), "Maximum comment nesting depth")
	cmd.PersistentFlags().Int("max-group-participants", defaults.GetInt("chat.max_group_participants"), "Group channel participant ceiling")
	cmd.PersistentFlags().Int("max-call-participants", defaults.GetInt("call.max_participants"), "Call participant ceiling")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.issuer", "session-issuer")
	bindFlag(cmd, "session.signing_secret", "session-secret")
	bindFlag(cmd, "thread.comment_depth", "comment-depth")
	bindFlag(cmd, "chat.max_group_participants", "max-group-participants")
	bindFlag(cmd, "call.max_participants", "max-call-participants")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSecret),
		Issuer:        appConfig.SessionIssuer,
	})
	if err != nil {
		return err
	}

	bus := event.NewBus(logger)
	idProvider := ident.NewUUIDProvider()

	identityService, err := identity.NewService(identity.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	contactService, err := contact.NewService(contact.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Events:     bus,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	reactionService, err := reaction.NewService(reaction.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Events:     bus,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	wallService, err := wall.NewService(wall.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
	})
	if err != nil {
		return err
	}

	threadService, err := thread.NewService(thread.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Reactions:  reactionService,
		Moderators: wallService,
		Events:     bus,
		Logger:     logger,
		DepthLimit: appConfig.CommentDepth,
	})
	if err != nil {
		return err
	}

	chatService, err := chat.NewService(chat.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Directory:  identityService,
		Events:     bus,
		Logger:     logger,
		GroupLimit: appConfig.GroupLimit,
	})
	if err != nil {
		return err
	}

	realtimeHub := realtime.NewHub()
	bus.Subscribe(realtime.NewBridge(realtimeHub))

	notificationHub, err := notification.NewHub(notification.HubConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Transport:  realtimeHub,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	bus.Subscribe(notificationHub)

	callCoordinator, err := call.NewCoordinator(call.CoordinatorConfig{
		Database:        db,
		Clock:           time.Now,
		IDProvider:      idProvider,
		Contacts:        contactService,
		Channels:        chatService,
		Walls:           wallService,
		Events:          bus,
		Logger:          logger,
		DefaultCapacity: appConfig.CallLimit,
	})
	if err != nil {
		return err
	}

	var presenceStore *presence.Store
	if appConfig.PresenceEnabled {
		redisClient := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		defer redisClient.Close()
		presenceStore = presence.NewStore(presence.StoreConfig{
			Client: redisClient,
			Logger: logger,
		})
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Identities:       identityService,
		Contacts:         contactService,
		Reactions:        reactionService,
		Threads:          threadService,
		Walls:            wallService,
		Chats:            chatService,
		Notifications:    notificationHub,
		Calls:            callCoordinator,
		Realtime:         realtimeHub,
		Presence:         presenceStore,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
