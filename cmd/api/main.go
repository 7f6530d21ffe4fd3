package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/dispatch-backend/api/routes"
	"github.com/angelmondragon/dispatch-backend/internal/deliveries"
	"github.com/angelmondragon/dispatch-backend/internal/inventory"
	"github.com/angelmondragon/dispatch-backend/internal/orders"
	"github.com/angelmondragon/dispatch-backend/internal/qr"
	"github.com/angelmondragon/dispatch-backend/internal/tasks"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/migrate"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox"
	"github.com/angelmondragon/dispatch-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ordersRepo := orders.NewRepository(dbClient.DB())
	deliveriesRepo := deliveries.NewRepository(dbClient.DB())
	inventoryRepo := inventory.NewRepository(dbClient.DB())
	tasksRepo := tasks.NewRepository(dbClient.DB())

	inventoryService, err := inventory.NewService(inventoryRepo, dbClient, outboxService)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}
	ordersService, err := orders.NewService(ordersRepo, dbClient, outboxService, inventoryService, logg, cfg.Transitions)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}
	deliveriesService, err := deliveries.NewService(deliveriesRepo, dbClient, outboxService, ordersService, logg, cfg.Transitions)
	if err != nil {
		logg.Error(context.Background(), "failed to create deliveries service", err)
		os.Exit(1)
	}
	ordersService.AttachDeliveryCascader(deliveriesService)
	tasksService, err := tasks.NewService(tasksRepo, dbClient, logg, cfg.Transitions)
	if err != nil {
		logg.Error(context.Background(), "failed to create tasks service", err)
		os.Exit(1)
	}
	qrService, err := qr.NewService(deliveriesRepo, ordersRepo, dbClient, outboxService, logg, cfg.QR)
	if err != nil {
		logg.Error(context.Background(), "failed to create qr service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:           cfg,
			Logger:           logg,
			DBPinger:         dbClient,
			RedisPinger:      redisClient,
			IdempotencyStore: redisClient,
			Orders:           ordersService,
			Deliveries:       deliveriesService,
			Inventory:        inventoryService,
			Tasks:            tasksService,
			QR:               qrService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
