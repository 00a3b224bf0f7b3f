package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"storefront/internal/auth"
	"storefront/internal/cache"
	"storefront/internal/config"
	"storefront/internal/events"
	httpapi "storefront/internal/http"
	"storefront/internal/payment"
	"storefront/internal/postgres"
	"storefront/internal/repository"
	"storefront/internal/service"
	"storefront/internal/storage"

	_ "storefront/docs"
)

// @title Storefront API
// @version 1.0
// @description Catalog, orders and payment reconciliation.
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// суммы и цены в JSON числами, не строками
	decimal.MarshalJSONWithoutQuotes = true

	app := &cli.App{
		Name:  "storefront",
		Usage: "catalog, orders and payment reconciliation service",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "env-file", Usage: "dotenv files to load before reading the environment"},
		},
		Commands: []*cli.Command{serveCommand(), migrateCommand()},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("storefront stopped")
	}
}

func loadConfig(c *cli.Context) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(c.StringSlice("env-file")...)
	if err != nil {
		return nil, nil, err
	}
	log, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply database migrations",
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.PostgresDSN == "" {
				return errors.New("STOREFRONT_POSTGRES_DSN is required for migrate")
			}
			return postgres.Migrate(cfg.PostgresDSN, log)
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "migrate", Usage: "apply database migrations before serving"},
			&cli.StringFlag{Name: "admin-name", Value: "Administrator"},
			&cli.StringFlag{Name: "admin-email", EnvVars: []string{"STOREFRONT_ADMIN_EMAIL"}},
			&cli.StringFlag{Name: "admin-password", EnvVars: []string{"STOREFRONT_ADMIN_PASSWORD"}},
		},
		Action: serve,
	}
}

type stores struct {
	products repository.ProductRepository
	orders   repository.OrderRepository
	users    repository.UserRepository
	tx       repository.TxManager
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, migrate bool) (*stores, error) {
	if cfg.PostgresDSN == "" {
		log.Warn("STOREFRONT_POSTGRES_DSN not set, using in-memory store")
		mem := repository.NewMemoryStore()
		return &stores{
			products: mem,
			orders:   repository.NewMemoryOrders(mem),
			users:    repository.NewMemoryUsers(mem),
			tx:       repository.NewMemoryTx(mem),
			close:    func() {},
		}, nil
	}
	if migrate {
		if err := postgres.Migrate(cfg.PostgresDSN, log); err != nil {
			return nil, err
		}
	}
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return nil, err
	}
	db := postgres.NewDB(pool)
	return &stores{
		products: postgres.NewProducts(db),
		orders:   postgres.NewOrders(db),
		users:    postgres.NewUsers(db),
		tx:       db,
		close:    pool.Close,
	}, nil
}

func serve(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log, c.Bool("migrate"))
	if err != nil {
		return err
	}
	defer st.close()

	var orderCache service.OrderCache
	if cfg.RedisAddr != "" {
		rdb := cache.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "ping redis")
		}
		orderCache = cache.NewOrderCache(rdb)
	}

	var publisher service.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, 256, log)
		kp.Start()
		defer kp.Close()
		publisher = kp
	}

	images, err := storage.NewLocalImages(cfg.UploadDir, "/uploads")
	if err != nil {
		return err
	}
	gateway, err := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Timeout:       cfg.GatewayTimeout,
		URL:           cfg.StripeAPIURL,
	}, log)
	if err != nil {
		return err
	}
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)

	usersSvc := service.NewUserService(st.users, auth.NewBcryptHasher(), issuer, log)
	productsSvc := service.NewProductService(st.products, st.tx, images, log)
	ordersSvc := service.NewOrderService(st.products, st.orders, st.tx, publisher, log)
	paymentsSvc := service.NewPaymentService(st.products, st.orders, st.users, st.tx, gateway, orderCache, publisher, service.PaymentConfig{
		Currency:              cfg.Currency,
		GatewayTimeout:        cfg.GatewayTimeout,
		VerifyIntentOnConfirm: cfg.VerifyIntentOnConfirm,
	}, log)

	if email := c.String("admin-email"); email != "" {
		if _, err := usersSvc.EnsureAdmin(ctx, c.String("admin-name"), email, c.String("admin-password")); err != nil {
			return errors.Wrap(err, "seed admin")
		}
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Users:        usersSvc,
		Products:     productsSvc,
		Orders:       ordersSvc,
		Payments:     paymentsSvc,
		Log:          log,
		UploadDir:    images.Dir(),
		SessionTTL:   cfg.JWTTTL,
		SecureCookie: cfg.SecureCookie,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	return nil
}
