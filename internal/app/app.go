package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/paperplanet/paperplanet-backend/internal/db"
	"github.com/paperplanet/paperplanet-backend/internal/domain"
	httpx "github.com/paperplanet/paperplanet-backend/internal/http"
	httpH "github.com/paperplanet/paperplanet-backend/internal/http/handlers"
	httpMW "github.com/paperplanet/paperplanet-backend/internal/http/middleware"
	"github.com/paperplanet/paperplanet-backend/internal/ingestion/extractor"
	"github.com/paperplanet/paperplanet-backend/internal/jobs"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
	"github.com/paperplanet/paperplanet-backend/internal/platform/openai"
	"github.com/paperplanet/paperplanet-backend/internal/realtime"
	"github.com/paperplanet/paperplanet-backend/internal/realtime/bus"
	"github.com/paperplanet/paperplanet-backend/internal/repos"
	"github.com/paperplanet/paperplanet-backend/internal/services"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Server *httpx.Server
	Cfg    Config

	Hub    *realtime.Hub
	Bus    bus.Bus
	Worker *jobs.Worker

	ingestService *services.IngestService
	vectorBackend string

	cancel context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	pg, err := db.NewService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	theDB := pg.DB()

	// Repos
	userRepo := repos.NewUserRepo(theDB, log)
	docRepo := repos.NewDocumentRepo(theDB, log)
	chunkRepo := repos.NewChunkRepo(theDB, log)
	msgRepo := repos.NewChatMessageRepo(theDB, log)
	jobRepo := repos.NewJobRunRepo(theDB, log)
	collabRepo := repos.NewCollabRequestRepo(theDB, log)

	// Model client and vector index
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init model client: %w", err)
	}
	index, err := resolveVectorIndex(log, cfg, openaiClient)
	if err != nil {
		log.Sync()
		return nil, err
	}

	blobs, err := resolveBlobStore(log, cfg, docRepo)
	if err != nil {
		log.Sync()
		return nil, err
	}
	pdfExtractor, err := resolvePDFExtractor(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init pdf extractor: %w", err)
	}

	// Services
	ingestService := services.NewIngestService(
		theDB, log, docRepo, chunkRepo, blobs, openaiClient, index,
		extractor.NewNative(log), pdfExtractor,
	)
	answerService := services.NewAnswerService(log, openaiClient, index)
	docService := services.NewDocumentService(theDB, log, docRepo, msgRepo, jobRepo, blobs)
	authService, err := services.NewAuthService(log, userRepo)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init auth: %w", err)
	}
	collabService := services.NewCollabService(log, collabRepo, docRepo)

	// Worker
	worker := jobs.NewWorker(log, jobRepo, jobs.OptionsFromEnv(log))
	worker.Register(domain.JobTypeDocumentIngest, ingestService.HandleJob)

	// Rooms
	hub := realtime.NewHub(log, messageStore{repo: msgRepo}, botAnswerer{svc: answerService})
	roomBus := resolveBus(log)

	// Handlers and HTTP server
	server := httpx.NewServer(httpx.RouterConfig{
		Log:             log,
		AuthHandler:     httpH.NewAuthHandler(authService),
		AuthMiddleware:  httpMW.NewAuthMiddleware(log, authService),
		DocumentHandler: httpH.NewDocumentHandler(docService),
		ChatHandler:     httpH.NewChatHandler(answerService),
		RoomHandler:     httpH.NewRoomHandler(hub),
		CollabHandler:   httpH.NewCollabHandler(collabService),
		HealthHandler:   httpH.NewHealthHandler(),
	})

	return &App{
		Log:           log,
		DB:            theDB,
		Server:        server,
		Cfg:           cfg,
		Hub:           hub,
		Bus:           roomBus,
		Worker:        worker,
		ingestService: ingestService,
		vectorBackend: cfg.Vector.Backend,
	}, nil
}

func resolveBus(log *logger.Logger) bus.Bus {
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) == "" {
		log.Info("REDIS_ADDR not set; room events stay in-process")
		return bus.Noop{}
	}
	b, err := bus.NewRedisBus(log)
	if err != nil {
		log.Warn("Redis bus init failed; room events stay in-process", "error", err)
		return bus.Noop{}
	}
	return b
}

// Start launches the job worker and the cross-instance relay, and warms
// the in-process index from persisted chunks.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.vectorBackend == "" || a.vectorBackend == "memory" {
		if err := a.ingestService.RebuildIndex(ctx); err != nil {
			a.Log.Warn("Vector index rebuild failed", "error", err)
		}
	}

	a.Hub.SetPublisher(func(ev realtime.Event) {
		if err := a.Bus.Publish(ctx, ev); err != nil {
			a.Log.Warn("Room event publish failed", "error", err)
		}
	})
	if err := a.Bus.StartForwarder(ctx, a.Hub.BroadcastLocal); err != nil {
		a.Log.Warn("Room bus forwarder failed", "error", err)
	}

	a.Worker.Start(ctx)
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(a.Cfg.Server.Addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
