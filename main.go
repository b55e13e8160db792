package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rank-tracker-service/config"
	"rank-tracker-service/database"
	"rank-tracker-service/handlers"
	"rank-tracker-service/middleware"
	"rank-tracker-service/notifier"
	"rank-tracker-service/orchestrator"
	"rank-tracker-service/profile"
	"rank-tracker-service/provider"
	"rank-tracker-service/ranker"
	"rank-tracker-service/scheduler"
	"rank-tracker-service/utils"
	"rank-tracker-service/version"
	"rank-tracker-service/ws"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	if cfg.ProviderAPIKey == "" {
		log.Fatal("RANK_PROVIDER_API_KEY environment variable is required")
	}

	// Connect to database
	db, err := utils.DBConnect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize database schema
	if err := database.InitSchema(db); err != nil {
		log.Fatalf("Failed to initialize database schema: %v", err)
	}

	// Initialize services
	rankService := database.NewRankService(db)
	profiles := profile.NewClient(cfg.ProfileServiceURL)
	providerClient := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout)
	executor := ranker.NewExecutor(providerClient)

	hub := ws.NewProgressHub()
	go hub.Start()

	orch := orchestrator.NewOrchestrator(rankService, executor, cfg.WorkerCount, cfg.MaxRunDuration)
	orch.SetBroadcaster(hub)
	if cfg.SendGridAPIKey != "" {
		orch.SetNotifier(notifier.NewEmailNotifier(cfg))
	} else {
		orch.SetNotifier(&notifier.LogNotifier{})
	}

	sched := scheduler.NewScheduler(rankService, profiles, orch, cfg.SchedulerInterval)
	sched.Start()

	// Initialize handlers
	rankHandler := handlers.NewRankHandler(rankService, orch, profiles, hub)

	// Setup router
	router := gin.Default()
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/version", func(c *gin.Context) {
		c.JSON(200, version.Get("rank-tracker-service"))
	})
	router.GET("/health", rankHandler.HealthCheck)

	// Create API v3 router group
	apiV3 := router.Group("/api/v3")
	{
		apiV3.POST("/reports", middleware.AuthMiddleware(cfg), rankHandler.CreateReport)
		apiV3.GET("/reports", middleware.AuthMiddleware(cfg), rankHandler.ListReports)
		apiV3.GET("/reports/:id", middleware.AuthMiddleware(cfg), rankHandler.GetReport)
		apiV3.PATCH("/reports/:id/status", middleware.AuthMiddleware(cfg), rankHandler.UpdateReportStatus)
		apiV3.POST("/reports/:id/runs", middleware.AuthMiddleware(cfg), rankHandler.TriggerRun)
		apiV3.GET("/runs/:id", middleware.AuthMiddleware(cfg), rankHandler.GetRun)
		apiV3.GET("/runs/:id/geojson", middleware.AuthMiddleware(cfg), rankHandler.GetRunGeoJSON)
		apiV3.POST("/runs/:id/cancel", middleware.AuthMiddleware(cfg), rankHandler.CancelRun)
		apiV3.GET("/runs/:id/ws", rankHandler.RunProgressWS)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	sched.Stop()
	hub.Stop()

	// Create a deadline for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
