package server

import (
	"log/slog"

	"backend-tagmap/internal/auth"
	"backend-tagmap/internal/config"
	"backend-tagmap/internal/ledger"
	"backend-tagmap/internal/listing"
	"backend-tagmap/internal/logging"
	"backend-tagmap/internal/metrics"
	"backend-tagmap/internal/notify"
	"backend-tagmap/internal/queue"
	"backend-tagmap/internal/storage"
	"backend-tagmap/internal/store"
	"backend-tagmap/internal/tag"
	"backend-tagmap/internal/threshold"
	"backend-tagmap/internal/upvote"
	"backend-tagmap/internal/user"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App       *fiber.App
	Cfg       config.Config
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Bus       *notify.Bus
	Store     store.Store
	Engine    *tag.Engine
	Listing   *listing.Service
	Threshold *threshold.State
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	closers []func() error
}

// NewServer wires the application. Without a Postgres pool, or with
// STORE_KIND=memory, everything runs in process.
func NewServer(cfg config.Config, pg *pgxpool.Pool, redisClient *redis.Client) (*Server, error) {
	workflow, err := cfg.Workflow()
	if err != nil {
		return nil, err
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      pg,
		Redis:   redisClient,
		Metrics: metrics.New(),
		Logger:  logging.New(cfg.LogLevel),
	}
	s.Bus = notify.NewBus(notify.Options{
		Buffer:  cfg.SubscriberBuffer,
		Redis:   redisClient,
		Metrics: s.Metrics,
		Logger:  s.Logger,
	})
	s.closers = append(s.closers, func() error { s.Bus.Close(); return nil })

	s.Threshold, err = threshold.New(cfg.ArchivedThreshold, s.Bus, s.Metrics, s.Logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var users user.Directory
	if s.persistent() {
		s.Store = store.NewPostgres(pg)
		users = user.NewPostgres(pg)
	} else {
		s.Store = store.NewMemory()
		users = user.NewMemory()
	}

	images, err := s.images()
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	s.Engine = tag.NewEngine(tag.Deps{
		Store:   s.Store,
		Ledger:  ledger.New(s.Store, workflow, s.Bus, s.Metrics, s.Logger),
		Votes:   upvote.NewCounter(s.Store, s.Threshold),
		Users:   users,
		Images:  images,
		Views:   s.views(),
		Metrics: s.Metrics,
		Logger:  s.Logger,
	})
	s.Listing = listing.NewService(s.Store, users, images, workflow.Archived, s.Logger)

	registerRoutes(s, users)
	s.Logger.Info("server wired", "event", "startup", "store", s.storeKind(), "redis", redisClient != nil)
	return s, nil
}

func (s *Server) persistent() bool {
	return s.DB != nil && s.Cfg.StoreKind != "memory"
}

func (s *Server) storeKind() string {
	if s.persistent() {
		return "postgres"
	}
	return "memory"
}

func (s *Server) images() (tag.Images, error) {
	if !s.persistent() || s.Cfg.MinioEndpoint == "" {
		return storage.Noop{}, nil
	}
	client, baseURL, err := storage.NewMinio(s.Cfg)
	if err != nil {
		return nil, err
	}
	return storage.NewService(s.DB, client, s.Cfg.MinioBucket, baseURL, s.Cfg.UploadURLTTL), nil
}

// views hands increments to the worker when it can reach the same database.
func (s *Server) views() queue.Enqueuer {
	if s.persistent() && s.Redis != nil {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: s.Cfg.RedisAddr, Password: s.Cfg.RedisPassword})
		s.closers = append(s.closers, client.Close)
		return queue.NewAsynqEnqueuer(client)
	}
	return queue.NewInline(s.Store, s.Metrics, s.Logger)
}

// Close releases what NewServer started. The pool and Redis client belong to
// the caller.
func (s *Server) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

func registerRoutes(s *Server, users user.Directory) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "store": s.storeKind()})
	})
	s.App.Get("/metrics", func(c *fiber.Ctx) error {
		return c.JSON(s.Metrics.Snapshot())
	})

	verifier := auth.NewVerifier(s.Cfg.JWTSecret)
	required := auth.JWTMiddleware(verifier)
	optional := auth.OptionalMiddleware(verifier)

	if s.persistent() {
		auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.DB), verifier)
	}

	tags := s.App.Group("/tags")
	listing.RegisterTagRoutes(tags, s.Listing)
	tag.RegisterRoutes(tags, s.Engine, optional, required)
	listing.RegisterUserRoutes(s.App.Group("/users"), s.Listing)

	threshold.RegisterRoutes(s.App.Group("/threshold"), s.Threshold, required)
	user.RegisterRoutes(s.App.Group("/me"), users, required)
	notify.RegisterRoutes(s.App.Group("/stream"), s.Bus)
}
