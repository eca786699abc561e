package handlers

import (
	"database/sql"

	"github.com/calorietrack/calorietrack-golang/internal/ai"
	"github.com/calorietrack/calorietrack-golang/internal/auth"
	"github.com/calorietrack/calorietrack-golang/internal/credits"
)

// Handlers struct holds all dependencies for our handlers.
type Handlers struct {
	DB        *sql.DB         // Optional estimate-history store; nil disables persistence
	Ledger    *credits.Ledger // Per-user daily credit counts
	Verifier  auth.Verifier   // Bearer-token verification
	Estimator ai.Estimator    // Upstream model client
}
