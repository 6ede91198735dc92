package routes

import (
	"github.com/gin-gonic/gin"

	"medical-insights-server/internal/config"
	"medical-insights-server/internal/handlers"
	"medical-insights-server/internal/metrics"
	"medical-insights-server/internal/middleware"
	"medical-insights-server/internal/models"
)

// Handlers bundles the request handlers wired by main.
type Handlers struct {
	BodyImpact *handlers.BodyImpactHandler
	Reports    *handlers.ReportHandler
	Profiles   *handlers.ProfileHandler
	Health     *handlers.HealthHandler
}

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, h Handlers, cfg *config.Config) {
	analyzeLimiter := middleware.NewKeyedRateLimiter(cfg.Analysis.RateLimitPerMinute, cfg.Analysis.RateBurst)

	// Public routes (no authentication required)
	router.GET("/health", h.Health.Health)
	router.GET("/readyz", h.Health.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	public := router.Group("/api/v1")
	{
		// Signed references carry their own authorisation
		public.GET("/files/:ref", h.Reports.DownloadFile)
	}

	// Authenticated routes
	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(cfg))
	{
		bodyImpactRoutes := private.Group("/body-impact")
		{
			bodyImpactRoutes.GET("/regions", h.BodyImpact.GetRegions)

			patient := bodyImpactRoutes.Group("/:patientId")
			patient.Use(middleware.SubjectAccessMiddleware("patientId"))
			{
				patient.GET("", h.BodyImpact.GetSnapshot)
				patient.GET("/patterns", h.BodyImpact.GetPatterns)
				patient.POST("/analyze", analyzeLimiter.ByParam("patientId"), h.BodyImpact.Analyze)
			}
		}

		reportRoutes := private.Group("/reports")
		{
			// Doctors create reports and attach documents
			reportRoutes.POST("", middleware.RoleAuthMiddleware(models.RoleDoctor), h.Reports.CreateReport)
			reportRoutes.POST("/:id/files", middleware.RoleAuthMiddleware(models.RoleDoctor), h.Reports.UploadReportFile)

			reportRoutes.GET("/patient/:patientId", middleware.SubjectAccessMiddleware("patientId"), h.Reports.GetReportsForPatient)
			reportRoutes.GET("/:id", h.Reports.GetReportByID) // Auth in handler
		}

		profileRoutes := private.Group("/profiles")
		{
			profileRoutes.POST("", middleware.RoleAuthMiddleware(models.RoleDoctor, models.RoleAdmin), h.Profiles.CreateProfile)

			patient := profileRoutes.Group("/:patientId")
			patient.Use(middleware.SubjectAccessMiddleware("patientId"))
			{
				patient.GET("", h.Profiles.GetProfile)
				patient.GET("/conditions", h.Profiles.GetConditions)
				patient.POST("/conditions", h.Profiles.AddConditions)
			}
		}
	}
}
