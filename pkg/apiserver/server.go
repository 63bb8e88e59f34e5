package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/apiserver/handlers"
	"github.com/leadflow/leadflow/pkg/apiserver/middleware"
	"github.com/leadflow/leadflow/pkg/auth"
	"github.com/leadflow/leadflow/pkg/config"
)

type Server struct {
	router   *gin.Engine
	programs handlers.ProgramService
	bus      handlers.EventPublisher
	tokens   *auth.TokenManager
	cfg      *config.Config
	logger   *zap.Logger
}

func NewServer(programs handlers.ProgramService, bus handlers.EventPublisher, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		programs: programs,
		bus:      bus,
		tokens:   auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL),
		cfg:      cfg,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	eventHandler := handlers.NewEventHandler(s.bus, s.tokens, s.logger)
	r.GET("/track/open/:enrollment_id", eventHandler.TrackOpen)
	r.GET("/track/click/:enrollment_id", eventHandler.TrackClick)

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth(s.tokens))

		api.POST("/events", middleware.RequireScope(auth.ScopeEvents), eventHandler.Ingest)

		programHandler := handlers.NewProgramHandler(s.programs, s.logger)
		programs := api.Group("/programs", middleware.RequireScope(auth.ScopePrograms))
		programs.POST("", programHandler.Create)
		programs.GET("/:id", programHandler.Get)
		programs.PUT("/:id/steps", programHandler.ReplaceSteps)
		programs.POST("/:id/activate", programHandler.Activate)
		programs.POST("/:id/pause", programHandler.Pause)
		programs.POST("/:id/resume", programHandler.Resume)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
