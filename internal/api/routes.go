package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kim130727/eapproval/internal/api/handlers"
	"github.com/kim130727/eapproval/internal/api/middleware"
	"github.com/kim130727/eapproval/internal/services"
	"github.com/kim130727/eapproval/internal/storage"
	"github.com/kim130727/eapproval/pkg/metrics"
)

type Router struct {
	engine         *gin.Engine
	logger         *zap.Logger
	metrics        *metrics.MetricsCollector
	authHandler    *handlers.AuthHandler
	docHandler     *handlers.DocumentHandler
	userHandler    *handlers.UserHandler
	authMiddleware *middleware.AuthMiddleware
	reqMiddleware  *middleware.RequestMiddleware
}

func NewRouter(
	logger *zap.Logger,
	collector *metrics.MetricsCollector,
	auth *services.AuthService,
	workflow *services.WorkflowService,
	queries *services.DocumentQueries,
	roles *services.RoleService,
	profiles *services.ProfileService,
	files storage.FileStore,
	db *gorm.DB,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	reqMiddleware := middleware.NewRequestMiddleware(logger)
	authMiddleware := middleware.NewAuthMiddleware(auth, db)

	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())

	return &Router{
		engine:         engine,
		logger:         logger,
		metrics:        collector,
		authHandler:    handlers.NewAuthHandler(auth, logger),
		docHandler:     handlers.NewDocumentHandler(workflow, queries, files, db, logger),
		userHandler:    handlers.NewUserHandler(roles, profiles, db, logger),
		authMiddleware: authMiddleware,
		reqMiddleware:  reqMiddleware,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "eapproval"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
			"sizes":     r.metrics.GetSizes(),
		})
	})

	r.engine.POST("/register", r.authHandler.Register)
	r.engine.POST("/login", r.authHandler.Login)

	authorized := r.engine.Group("/")
	authorized.Use(r.authMiddleware.RequireAuth())
	{
		authorized.POST("/password", r.authHandler.ChangePassword)

		authorized.GET("/profile", r.userHandler.GetProfile)
		authorized.POST("/profile", r.userHandler.UpdateProfile)
		authorized.GET("/users/chairs", r.userHandler.ListChairs)

		authorized.POST("/documents", r.docHandler.CreateDocument)
		authorized.GET("/documents/:id", r.docHandler.GetDocument)
		authorized.POST("/documents/:id/approve", r.docHandler.ApproveDocument)
		authorized.POST("/documents/:id/reject", r.docHandler.RejectDocument)
		authorized.GET("/documents/:id/attachments/:attID", r.docHandler.DownloadAttachment)

		authorized.GET("/documents/mine", r.docHandler.ListMine)
		authorized.GET("/documents/inbox", r.docHandler.ListInbox)
		authorized.GET("/documents/received", r.docHandler.ListReceived)
		authorized.GET("/documents/completed", r.docHandler.ListCompleted)
		authorized.GET("/documents/rejected", r.docHandler.ListRejected)
	}

	admin := r.engine.Group("/admin")
	admin.Use(r.authMiddleware.RequireAuth(), r.authMiddleware.RequireSuperuser())
	{
		admin.POST("/groups/:name/members", r.userHandler.AddGroupMember)
		admin.DELETE("/groups/:name/members", r.userHandler.RemoveGroupMember)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) Run(addr string) error {
	r.logger.Info("Starting HTTP server", zap.String("address", addr))
	return r.engine.Run(addr)
}
