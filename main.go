package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portalchat/internal/api"
	"portalchat/internal/auth"
	"portalchat/internal/chat"
	"portalchat/internal/commands"
	"portalchat/internal/config"
	"portalchat/internal/filestore"
	"portalchat/internal/gateway"
	"portalchat/internal/http"
	"portalchat/internal/notify"
	"portalchat/internal/storage"
	"portalchat/internal/storage/firestore"
	"portalchat/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, addUser string) error {
	cfg, err := config.Load(addUser != "")
	if err != nil {
		return err
	}

	if addUser != "" {
		return commands.AddUser(addUser, cfg)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	var feed storage.Feed = bbStorage.Feed()
	if cfg.StorageBackend == config.BackendFirestore {
		fsFeed, err := firestore.NewFeed(ctx, cfg.GCPProject)
		if err != nil {
			return err
		}
		defer func() { _ = fsFeed.Close() }()
		feed = fsFeed
	}
	log.Printf("Using %s document store", cfg.StorageBackend)

	authService, err := auth.NewAuthService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, bbStorage)
	if err != nil {
		return err
	}

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath, 0)
	if err != nil {
		return err
	}

	service := chat.NewService(feed)
	hub := ws.NewHub(feed, service, authService)
	apiHandlers := api.New(authService, service, files, bbStorage)

	var offline notify.Multi
	if cfg.PushEnabled() {
		push, err := notify.NewWebPush(notify.WebPushConfig{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subject:    cfg.VAPIDSubject,
		}, feed)
		if err != nil {
			return err
		}
		offline = append(offline, push)
		apiHandlers.WithPush(push)
	}
	if len(offline) > 0 {
		service.Offline = offline
	}

	if cfg.GatewayEnabled() {
		gw, err := gateway.New(gateway.Config{
			URL:          cfg.GatewayURL,
			Token:        cfg.GatewayToken,
			CountryCodes: cfg.GatewayCountryCodes,
			Rate:         cfg.GatewayRate,
		})
		if err != nil {
			return err
		}
		apiHandlers.WithGateway(gw)
	}

	adminServer := http.NewAdminServer(authService, cfg.BaseURL, cfg.AdminAddr)
	apiServer := http.NewAPIServer(apiHandlers, ws.NewServer(authService, hub, cfg.BaseURL), cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gCtx)
	})

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	addUser := flag.String("add-user", "", "Username to create (creates user with random password and prints details)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addUser); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
