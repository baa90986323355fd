package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	config "github.com/CurtWal/Touch/configs"
	"github.com/CurtWal/Touch/internal/api/handlers"
	"github.com/CurtWal/Touch/internal/api/middleware"
	job "github.com/CurtWal/Touch/internal/jobs"
	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/internal/repository"
	"github.com/CurtWal/Touch/internal/scheduler"
	"github.com/CurtWal/Touch/internal/service"
	"github.com/CurtWal/Touch/internal/workflow"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	contactRepo := repository.NewContactRepository(db)
	credentialRepo := repository.NewCredentialRepository(db, []byte(cfg.TokenCryptKey))
	mediaRepo := repository.NewMediaRepository(db)
	jobRepo := repository.NewJobRepository(db)

	mediaService := service.NewMediaService(cfg, mediaRepo)
	linkedinService := service.NewLinkedinService(cfg, credentialRepo, postRepo, mediaService)
	twitterService := service.NewTwitterService(cfg, credentialRepo, postRepo, mediaService)
	generator := service.NewN8NGenerator(cfg)
	sender := service.NewHTTPMessageSender(cfg)

	publishers := service.Registry{
		models.PlatformLinkedin: linkedinService,
		models.PlatformTwitter:  twitterService,
	}

	// The workflows and the scheduler reference each other: workflows
	// enqueue jobs, the scheduler dispatches back into them. Handlers
	// are bound after both exist.
	var publishWF *workflow.PublishWorkflow
	var followUpWF *workflow.FollowUpWorkflow

	sched := scheduler.New(jobRepo, scheduler.Handlers{
		workflow.JobPublishPost: func(ctx context.Context, j *models.Job) error {
			return publishWF.HandlePublishPost(ctx, j)
		},
		workflow.JobDeletePost: func(ctx context.Context, j *models.Job) error {
			return publishWF.HandleDeletePublishedPost(ctx, j)
		},
		workflow.JobRandomFollowUp: func(ctx context.Context, j *models.Job) error {
			return followUpWF.HandleRandomFollowUp(ctx, j)
		},
	}, scheduler.Options{
		PollInterval: cfg.JobPollInterval,
		LockLease:    cfg.JobLockLease,
		Concurrency:  cfg.JobConcurrency,
	})

	publishWF = workflow.NewPublishWorkflow(cfg, postRepo, publishers, mediaService, sched)
	followUpWF = workflow.NewFollowUpWorkflow(cfg, userRepo, contactRepo, generator, sender, sched)

	authMiddleware := middleware.NewAuthMiddleware(cfg)

	platform := handlers.NewPlatformHandler(cfg, credentialRepo)
	app.Get("/auth/:platform/callback", platform.Callback)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	api.Get("/auth/:platform", platform.Connect)
	api.Get("/platforms", platform.ListCredentials)
	api.Delete("/platforms/:platform", platform.Disconnect)
	api.Post("/platforms/twitter/media-auth", platform.SetMediaAuth)

	post := handlers.NewPostHandler(postRepo, mediaService, publishWF)
	api.Post("/posts", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Get("/posts/:id", post.GetPost)
	api.Put("/posts/:id/approve", post.ApprovePost)
	api.Delete("/posts/:id", post.DeletePost)
	api.Post("/posts/media", post.UploadMedia)
	api.Get("/posts/media/:id", post.ServeMedia)

	followUp := handlers.NewFollowUpHandler(userRepo, followUpWF)
	api.Post("/followups/toggle", followUp.Toggle)
	api.Get("/followups/status", followUp.Status)

	n8n := handlers.NewN8NHandler(postRepo, publishWF)
	api.Get("/n8n/pending-posts", n8n.PendingPosts)
	api.Post("/n8n/mark-published/:id", n8n.MarkPublished)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(credentialRepo, linkedinService, twitterService)
	mediaRetentionJob := job.NewMediaRetentionJob(mediaService)

	c := cron.New()
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.AddFunc("@every 01h00m00s", mediaRetentionJob.CleanExpiredMedia)
	c.Start()

	go func() {
		log.Println("Starting the job scheduler...")
		sched.Start()
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db, sched, c)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB, sched *scheduler.Scheduler, c *cron.Cron) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	c.Stop()
	sched.Stop()

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
