package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/calorietrack/calorietrack-golang/internal/handlers"
	"github.com/calorietrack/calorietrack-golang/internal/middleware"
)

// CORSMiddleware attaches permissive cross-origin headers to every
// response (including errors) and answers preflight requests directly.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Credits-Remaining, X-Credits-Used, X-Credits-Limit, X-Request-ID")

		// Preflight gets an empty 204 before any auth or credit logic runs.
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func SetupRouter(h *handlers.Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())

	// Even a panic must come back as the JSON error shape with CORS
	// headers, never a bare 500.
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}))

	// CORS must run before everything else.
	router.Use(CORSMiddleware())

	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	router.GET("/health", h.Health)

	v1 := router.Group("/v1")
	{
		// The estimate endpoint authenticates inside the handler because
		// body validation has to happen first.
		v1.POST("/ai/estimate", h.EstimateFood)

		// --- Protected Routes (Login Required) ---
		auth := v1.Group("/")
		auth.Use(middleware.AuthMiddleware(h.Verifier))
		{
			auth.GET("/credits", h.GetCredits)
		}
	}

	return router
}
