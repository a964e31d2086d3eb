package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bounty-payout-system/handlers"
	"bounty-payout-system/middleware"
	"bounty-payout-system/models"
	"bounty-payout-system/services"
	"bounty-payout-system/utils"
	"bounty-payout-system/workers"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func mustGetenv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatalf("%s environment variable not set", name)
	}
	return v
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 100 * 1024 * 1024, // 100MB, covers deliverable archives
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — webhooks are HMAC-gated instead
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := mustGetenv("DATABASE_URL")
	rpcURL := mustGetenv("RPC_URL")
	escrowAddress := mustGetenv("ESCROW_CONTRACT_ADDRESS")
	circleAPIKey := mustGetenv("CIRCLE_API_KEY")
	circleWebhookSecret := mustGetenv("CIRCLE_WEBHOOK_SECRET")
	githubWebhookSecret := mustGetenv("GITHUB_WEBHOOK_SECRET")
	notifyServiceURL := mustGetenv("NOTIFY_SERVICE_URL")
	repoServiceURL := mustGetenv("REPO_SERVICE_URL")
	serviceToken := mustGetenv("PAYOUT_SERVICE_TOKEN")

	chainID := int64(8453)
	if raw := os.Getenv("CHAIN_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Fatalf("invalid CHAIN_ID %q: %v", raw, err)
		}
		chainID = parsed
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.EmployerBlock{},
		&models.Bounty{},
		&models.BountyFunding{},
		&models.EscrowEvent{},
		&models.Submission{},
		&models.Payout{},
		&models.Job{},
		&models.AuditLog{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	ethClient, err := ethclient.Dial(rpcURL)
	if err != nil {
		log.Fatal("failed to connect to RPC endpoint:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	artifacts, err := utils.NewArtifactStore(ctx)
	if err != nil {
		log.Printf("⚠️  Artifact storage disabled: %v", err)
		artifacts = nil
	}

	queue := workers.NewQueue(db, workers.DefaultRetryPolicy())
	verifier := services.NewChainVerifier(ethClient, escrowAddress)
	auditService := services.NewAuditService(db)
	notifier := services.NewNotifier(queue)
	circleClient := services.NewCircleClient(circleAPIKey, os.Getenv("CIRCLE_API_BASE_URL"))

	fundingService := services.NewFundingService(db, verifier, queue, auditService, chainID)
	claimService := services.NewClaimService(db, verifier, queue, auditService, notifier)
	submissionService := services.NewSubmissionService(db, queue, notifier, artifacts)
	withdrawalService := services.NewWithdrawalService(db, circleClient, queue, auditService, notifier)
	syncService := services.NewSyncService(db, verifier)
	reconcileService := services.NewReconcileService(db)
	webhookService := services.NewWebhookService(
		services.NewCircleWebhookVerifier(circleWebhookSecret),
		services.NewGitHubWebhookVerifier(githubWebhookSecret),
		withdrawalService,
	)
	notificationSender := services.NewNotificationSender(notifyServiceURL, serviceToken)
	repoProvisioner := services.NewRepoProvisioner(repoServiceURL, serviceToken)

	runner := workers.NewRunner(queue, 2*time.Second)
	workers.RegisterJobHandlers(runner, syncService, reconcileService, withdrawalService, notificationSender, repoProvisioner)
	go runner.Start(ctx)

	scheduler, err := workers.StartScheduler(queue)
	if err != nil {
		log.Fatal("failed to start scheduler:", err)
	}
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			log.Printf("Scheduler shutdown error: %v", err)
		}
	}()

	handlers.SetupBountyRoutes(app, fundingService, claimService, submissionService)
	handlers.SetupWalletRoutes(app, withdrawalService)
	handlers.SetupWebhookRoutes(app, webhookService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Job runner and escrow sync scheduler running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
