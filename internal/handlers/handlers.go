package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"roomlens/internal/cache"
	"roomlens/internal/config"
	"roomlens/internal/errs"
	"roomlens/internal/middleware"
	"roomlens/internal/models"
	"roomlens/internal/repository"
	"roomlens/internal/service"
	"roomlens/internal/storage"
)

type HandlerSet struct {
	log           zerolog.Logger
	cfg           *config.AppConfig
	authService   *service.AuthService
	uploadService *service.UploadService
	fixService    *service.FixService
	metering      *service.MeteringService
	users         *repository.UserRepository
	resources     *repository.ResourceRepository
	analyses      *repository.AnalysisRepository
	strikes       *repository.StrikeRepository
	db            *pgxpool.Pool
}

func NewHandlerSet(
	log zerolog.Logger,
	db *pgxpool.Pool,
	c cache.Cache,
	store *storage.ObjectStore,
	producer service.Enqueuer,
	cfg *config.AppConfig,
) HandlerSet {
	userRepo := repository.NewUserRepository(db)
	resourceRepo := repository.NewResourceRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	hashRepo := repository.NewHashRepository(db)
	fixRepo := repository.NewFixRepository(db)
	meteringRepo := repository.NewMeteringRepository(db)
	strikeRepo := repository.NewStrikeRepository(db)

	metering := service.NewMeteringService(meteringRepo, log)
	dedup := service.NewDedupService(hashRepo, analysisRepo, resourceRepo, c, cfg.Cache.TTL, log)
	auth := service.NewAuthService(userRepo, metering, cfg, log)
	upload := service.NewUploadService(resourceRepo, fixRepo, store, metering, dedup, producer, c, cfg, log)
	fix := service.NewFixService(resourceRepo, analysisRepo, fixRepo, strikeRepo, store, metering, producer, nil, c, cfg, log)

	return HandlerSet{
		log:           log,
		cfg:           cfg,
		authService:   auth,
		uploadService: upload,
		fixService:    fix,
		metering:      metering,
		users:         userRepo,
		resources:     resourceRepo,
		analyses:      analysisRepo,
		strikes:       strikeRepo,
		db:            db,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.RegisterUser)
		auth.POST("/login", h.Login)

		media := v1.Group("/media")
		media.Use(middleware.Auth(h.cfg, h.users))
		media.POST("/upload", h.UploadMedia)
		media.GET("", h.ListResources)
		media.GET("/:id", h.GetResource)
		media.DELETE("/:id", h.DeleteResource)

		fixes := v1.Group("/fixes")
		fixes.Use(middleware.Auth(h.cfg, h.users))
		fixes.POST("", h.CreateFix)
		fixes.GET("/:id", h.GetFix)

		account := v1.Group("/account")
		account.Use(middleware.Auth(h.cfg, h.users))
		account.GET("/usage", h.Usage)

		admin := v1.Group("/admin")
		admin.Use(
			middleware.Auth(h.cfg, h.users),
			middleware.RequireRoles(models.UserRoleAdmin),
		)
		admin.GET("/strikes/:ownerId", h.ListStrikes)
	}
}

func middlewareUser(c *gin.Context) (models.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return user, ok
}

// respondError maps the sentinel taxonomy to HTTP statuses.
func (h HandlerSet) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, errs.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, errs.ErrLimitReached):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "limit_reached"})
	case errors.Is(err, errs.ErrTooManyJobs):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_jobs"})
	case errors.Is(err, errs.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "already_exists"})
	case errors.Is(err, errs.ErrContentPolicy):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "content_policy_violation"})
	default:
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
