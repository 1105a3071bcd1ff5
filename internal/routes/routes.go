package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dpay/wallet-ledger/internal/config"
	"github.com/dpay/wallet-ledger/internal/history"
	"github.com/dpay/wallet-ledger/internal/ledger"
	"github.com/dpay/wallet-ledger/internal/middleware"
	"github.com/dpay/wallet-ledger/internal/notification"
	"github.com/dpay/wallet-ledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. Store, when
// set, takes precedence over DB and Mongo.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Mongo  *mongo.Client
	Cache  *redis.Client
	Events *amqp.Channel
	Store  ledger.Store
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	store, err := buildStore(d)
	if err != nil {
		return err
	}
	notifier, err := buildNotifier(d)
	if err != nil {
		return err
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.RateLimit(d.Cache, d.Cfg.RateLimitPerMinute, d.Logger))
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d, store)

	// Services and handlers
	engine := ledger.NewEngine(store, ledger.WithNotifier(notifier), ledger.WithLogger(d.Logger))
	walletSvc := wallet.NewService(store, engine)
	historySvc := history.NewService(store, d.Cfg.MaxPageLimit)

	walletHandler := wallet.NewHandler(walletSvc, engine, d.Logger)
	historyHandler := history.NewHandler(historySvc, d.Logger)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(app, walletHandler)
	RegisterHistoryRoutes(app, historyHandler)

	return nil
}

func buildStore(d Deps) (ledger.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case d.Store != nil:
		return d.Store, nil
	case d.DB != nil:
		store := ledger.NewPostgresStore(d.DB)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case d.Mongo != nil:
		store := ledger.NewMongoStore(d.Mongo, d.Cfg.MongoDatabase)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case d.Cfg.IsDev():
		d.Logger.Warn("no persistent store configured, using in-memory ledger")
		return ledger.NewInMemory(), nil
	default:
		return nil, fmt.Errorf("a persistent store is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
}

func buildNotifier(d Deps) (notification.Notifier, error) {
	if d.Events == nil {
		return notification.NewLoggerNotifier(d.Logger), nil
	}
	return notification.NewAMQPNotifier(d.Events, d.Cfg.AMQPExchange)
}
