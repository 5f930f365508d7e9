// Package http assembles the gin engine serving the relay and admin
// API surfaces.
package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/admission"
	"github.com/amirhdaghestani/openai-api/internal/auth"
	"github.com/amirhdaghestani/openai-api/internal/config"
	adminhandlers "github.com/amirhdaghestani/openai-api/internal/http/api/admin/handlers"
	relayhandlers "github.com/amirhdaghestani/openai-api/internal/http/api/relay/handlers"
	"github.com/amirhdaghestani/openai-api/internal/http/middleware"
	"github.com/amirhdaghestani/openai-api/internal/provider"
	"github.com/amirhdaghestani/openai-api/internal/quota"
	"github.com/amirhdaghestani/openai-api/internal/usage"
)

// RouterDeps carries the shared services the routes need.
type RouterDeps struct {
	DB       *gorm.DB
	Config   config.Config
	Provider *provider.Client
	Redis    *redis.Client
}

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(deps RouterDeps) *gin.Engine {
	verifier := auth.NewVerifier(deps.DB, auth.VerifierConfig{
		JWTSecret:        deps.Config.Auth.JWTSecret,
		JWTRefreshSecret: deps.Config.Auth.JWTRefreshSecret,
		InitToken:        deps.Config.Auth.InitToken,
	})
	pipeline := admission.NewPipeline(quota.NewLedger(deps.DB), usage.NewRecorder(deps.DB))
	limiter := middleware.NewRateLimiter(deps.Redis, deps.Config.Redis.RequestsPerSecond, time.Second)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Metrics())

	corsConfig := cors.DefaultConfig()
	if len(deps.Config.Server.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = deps.Config.Server.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsConfig))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	relay := relayhandlers.NewRelayHandler(pipeline, deps.Provider)
	modelsHandler := relayhandlers.NewModelsHandler(deps.Provider)
	fineTunes := relayhandlers.NewFineTuneHandler(pipeline, deps.Provider)
	accountHandler := relayhandlers.NewAccountHandler()

	v1 := engine.Group("/v1")
	v1.Use(middleware.APIKeyAuth(verifier))
	v1.Use(limiter.Handler())
	{
		v1.POST("/completions", relay.Completions)
		v1.POST("/chat/completions", relay.ChatCompletions)
		v1.POST("/embeddings", relay.Embeddings)
		v1.GET("/models", modelsHandler.List)
		v1.GET("/models/:model", modelsHandler.Get)
		v1.GET("/me", accountHandler.Me)
		v1.POST("/files", fineTunes.UploadFile)
		v1.GET("/files", fineTunes.ListFiles)
		v1.POST("/fine-tunes", fineTunes.Create)
		v1.GET("/fine-tunes", fineTunes.List)
		v1.GET("/fine-tunes/:id", fineTunes.Get)
		v1.POST("/fine-tunes/:id/cancel", fineTunes.Cancel)
	}

	tokenHandler := adminhandlers.NewTokenHandler(deps.DB, verifier, deps.Config.Auth)
	initHandler := adminhandlers.NewInitHandler(deps.DB, verifier)
	userHandler := adminhandlers.NewUserHandler(deps.DB)
	statsHandler := adminhandlers.NewStatsHandler(deps.DB)
	mfaHandler := adminhandlers.NewMFAHandler(deps.DB)

	admin := engine.Group("/admin")
	{
		admin.GET("/init", initHandler.Status)
		admin.POST("/init", initHandler.Bootstrap)
		admin.POST("/token", tokenHandler.Issue)
		admin.POST("/token/refresh", tokenHandler.Refresh)

		authed := admin.Group("")
		authed.Use(middleware.SessionAuth(verifier))
		{
			authed.POST("/users", userHandler.Create)
			authed.GET("/users", userHandler.List)
			authed.GET("/users/:user_id", userHandler.Get)
			authed.PATCH("/users/:user_id", userHandler.Update)
			authed.DELETE("/users/:user_id", userHandler.Delete)
			authed.POST("/users/:user_id/api-key", userHandler.RotateAPIKey)
			authed.POST("/users/:user_id/password", userHandler.ChangePassword)
			authed.GET("/users/:user_id/usage", statsHandler.UserSeries)
			authed.POST("/mfa/setup", mfaHandler.Setup)
			authed.POST("/mfa/activate", mfaHandler.Activate)
			authed.POST("/mfa/deactivate", mfaHandler.Deactivate)
		}
	}

	return engine
}
