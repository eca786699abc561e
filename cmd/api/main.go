package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/calorietrack/calorietrack-golang/internal/ai"
	"github.com/calorietrack/calorietrack-golang/internal/auth"
	"github.com/calorietrack/calorietrack-golang/internal/config"
	"github.com/calorietrack/calorietrack-golang/internal/credits"
	"github.com/calorietrack/calorietrack-golang/internal/database"
	"github.com/calorietrack/calorietrack-golang/internal/handlers"
	"github.com/calorietrack/calorietrack-golang/internal/routes"
)

func main() {
	// 0. --- Load Environment Variables (.env) ---
	if err := godotenv.Load(); err != nil {
		log.Println("WARNING: Could not find or load .env file. Relying on system environment variables.")
	}
	cfg := config.Load()

	ctx := context.Background()

	// 1. --- Estimate History Database (Optional) ---
	var db *sql.DB
	if cfg.Database.DSN != "" {
		var err error
		db, err = database.OpenDB(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to history database: %v", err)
		}
		defer db.Close()
	} else {
		log.Println("WARNING: DB_DSN is not set. Estimate history will not be persisted.")
	}

	// 2. --- AI Service Initialization ---
	if cfg.AI.APIKey == "" {
		log.Fatal("CRITICAL ERROR: GEMINI_API_KEY environment variable is not set.")
	}
	aiService, err := ai.NewAIService(ctx, cfg.AI)
	if err != nil {
		log.Fatalf("Failed to initialize AI Service: %v", err)
	}
	defer aiService.Close()

	// 3. --- Auth Verifier Selection ---
	// Firebase verifies the frontend's ID tokens in production; the HS256
	// verifier covers local development without Firebase credentials.
	var verifier auth.Verifier
	if cfg.Auth.FirebaseProjectID != "" {
		verifier, err = auth.NewFirebaseVerifier(ctx, cfg.Auth.FirebaseProjectID, cfg.Auth.FirebaseCredentials)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase verifier: %v", err)
		}
		log.Printf("Using Firebase token verification (project %s)", cfg.Auth.FirebaseProjectID)
	} else {
		if cfg.Auth.JWTSecret == "" {
			log.Fatal("CRITICAL ERROR: Neither FIREBASE_PROJECT_ID nor JWT_SECRET is set.")
		}
		log.Println("WARNING: FIREBASE_PROJECT_ID not set. Falling back to local JWT verification.")
		verifier = auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	}

	// 4. --- Credit Ledger + Background Sweeper ---
	ledger := credits.NewLedger(cfg.Credits.DailyLimit)

	// The sweeper drops yesterday's records once an hour so the ledger
	// doesn't grow for the life of the process.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			if removed := ledger.Sweep(); removed > 0 {
				log.Printf("Cleaned up %d stale credit records", removed)
			}
		}
	}()

	// --- Application Setup ---
	app := &handlers.Handlers{
		DB:        db,
		Ledger:    ledger,
		Verifier:  verifier,
		Estimator: aiService,
	}

	// --- Router Setup ---
	router := routes.SetupRouter(app)

	// --- Start Server ---
	log.Printf("Starting CalorieTrack AI proxy on port %s (daily limit: %d calls per user)...", cfg.Server.Port, cfg.Credits.DailyLimit)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
