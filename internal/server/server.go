package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tunefile/apiserver/config"
	"github.com/tunefile/apiserver/internal/db"
	"github.com/tunefile/apiserver/internal/handlers"
	"github.com/tunefile/apiserver/internal/mail"
	"github.com/tunefile/apiserver/internal/mq"
	"github.com/tunefile/apiserver/internal/payments"
	"github.com/tunefile/apiserver/internal/services"
	"github.com/tunefile/apiserver/internal/storage"
	"github.com/tunefile/apiserver/internal/store"
)

// Server wraps the HTTP server, router and infrastructure handles.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.MQ
	cancel     context.CancelFunc
}

// New constructs a Server with its full dependency graph: database,
// object storage, message queue, payment gateway, mailer, services and
// routes.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	jwtSecret := strings.TrimSpace(cfg.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	blobStore, err := newStorage(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	if err := blobStore.EnsureBucket(ctx); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	// The queue only carries best-effort email events; the API stays up
	// when the broker is unreachable.
	queue, err := newMQ(ctx, cfg)
	if err != nil {
		logger.Warn("message queue unavailable, email events disabled", "err", err)
		queue = nil
	}

	gateway, err := payments.NewMercadoPagoGateway(cfg.Payments, logger)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	var mailer mail.Mailer
	if smtpMailer, err := mail.NewSMTPMailer(cfg.SMTP); err == nil {
		mailer = smtpMailer
	} else {
		mailer = mail.LogMailer{Logger: logger}
	}

	userRepo := store.NewUserRepository(dbConn)
	fileRepo := store.NewEcuFileRepository(dbConn)
	ledgerRepo := store.NewLedgerRepository(dbConn)
	notificationRepo := store.NewNotificationRepository(dbConn)
	invoiceRepo := store.NewInvoiceRepository(dbConn)

	var publisher services.Publisher
	if queue != nil {
		publisher = queue
	}

	userService := services.NewUserService(userRepo)
	creditService := services.NewCreditService(ledgerRepo)
	notificationService := services.NewNotificationService(notificationRepo, userRepo, publisher, logger)
	fileService := services.NewFileService(fileRepo, userRepo, blobStore, notificationService, logger)
	invoiceService := services.NewInvoiceService(invoiceRepo, gateway, logger)

	authMiddleware := handlers.RequireAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, jwtSecret)
	})
	router.Route("/files", func(r chi.Router) {
		handlers.FileRouter(r, fileService, userService, authMiddleware)
	})
	router.Route("/credits", func(r chi.Router) {
		handlers.CreditRouter(r, creditService, invoiceService, userService, authMiddleware)
	})
	router.Route("/invoices", func(r chi.Router) {
		handlers.InvoiceRouter(r, creditService, invoiceService, userService, authMiddleware)
	})
	router.Route("/notifications", func(r chi.Router) {
		handlers.NotificationRouter(r, notificationService, authMiddleware)
	})
	router.Route("/admin", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			handlers.AdminFileRouter(r, fileService, userService, authMiddleware)
		})
		r.Route("/invoices", func(r chi.Router) {
			handlers.AdminInvoiceRouter(r, creditService, invoiceService, userService, authMiddleware)
		})
		r.Route("/users", func(r chi.Router) {
			handlers.AdminUserRouter(r, userService, creditService, authMiddleware)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, cancel := context.WithCancel(context.Background())

	if queue != nil {
		worker := services.NewEmailWorker(userRepo, mailer, logger)
		go func() {
			if err := worker.Run(workerCtx, queue); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("email worker stopped", "err", err)
			}
		}()
	}

	if cfg.Digest.Enabled {
		digest := services.NewDigestService(userRepo, notificationRepo, mailer, cfg.Digest.Interval, logger)
		go digest.Run(workerCtx)
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		queue:      queue,
		cancel:     cancel,
	}, nil
}

func newStorage(ctx context.Context, cfg config.Config) (*storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendGCS:
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(client), nil
	case config.StorageBackendMinio:
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(client), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func newMQ(ctx context.Context, cfg config.Config) (*mq.MQ, error) {
	switch cfg.MQBackend {
	case config.MQBackendPubSub:
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	case config.MQBackendRabbitMQ:
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.MQBackend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
