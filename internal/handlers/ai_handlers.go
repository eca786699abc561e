package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/calorietrack/calorietrack-golang/internal/ai"
	"github.com/calorietrack/calorietrack-golang/internal/auth"
	"github.com/calorietrack/calorietrack-golang/internal/models"
)

// Longest food description we forward upstream.
const maxFoodLength = 500

// estimateInput accepts both request shapes the frontend sends: the simple
// {type, food?, image?} form and the chat-style {messages: [...]} form.
type estimateInput struct {
	Type     string            `json:"type"`
	Food     string            `json:"food"`
	Image    string            `json:"image"`
	Messages []estimateMessage `json:"messages"`
}

// estimateMessage keeps content raw because it is either a plain string or
// an array of typed parts.
type estimateMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	ImageBase64 string `json:"image_base64"`
}

// estimateRequest is the normalized form both shapes collapse into.
type estimateRequest struct {
	Kind     string // "text" or "image"
	Food     string
	Image    []byte
	MimeType string
}

// EstimateFood proxies one calorie-estimation request to the upstream
// model, gated by the caller's daily credits. Validation order is method
// (router) -> body shape -> auth -> credits -> upstream; a credit is
// consumed only after the upstream call succeeds with valid content.
func (h *Handlers) EstimateFood(c *gin.Context) {
	// 1. --- Parse & Normalize Body ---
	var input estimateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	req, err := normalizeEstimateInput(&input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 2. --- Verify Authentication ---
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No authentication token provided"})
		return
	}
	verifyCtx, cancel := context.WithTimeout(c.Request.Context(), auth.VerifyTimeout)
	defer cancel()
	identity, err := h.Verifier.Verify(verifyCtx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	// 3. --- Admission Check ---
	// The upstream is never called for a caller who is out of credits.
	if !h.Ledger.Admit(identity.UserID) {
		status := h.Ledger.Status(identity.UserID)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":     "Daily AI credit limit reached",
			"limit":     status.Limit,
			"used":      status.Used,
			"remaining": status.Remaining,
			"resetTime": status.ResetTime,
			"message":   fmt.Sprintf("You've used all %d daily AI credits. Credits reset at midnight.", status.Limit),
		})
		return
	}

	// 4. --- Call Upstream Model ---
	// The request context propagates, so a client that hangs up abandons
	// the in-flight call without consuming a credit.
	var estimate *models.FoodEstimate
	if req.Kind == "image" {
		estimate, err = h.Estimator.EstimateImage(c.Request.Context(), req.MimeType, req.Image)
	} else {
		estimate, err = h.Estimator.EstimateText(c.Request.Context(), req.Food)
	}
	if err != nil {
		// Content failures (502) tell the user to try a different
		// description; transport failures (503) mean retry later.
		if errors.Is(err, ai.ErrInvalidResponse) {
			log.Printf("Upstream content error for user %s: %v", identity.UserID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "AI returned invalid content"})
			return
		}
		log.Printf("Upstream call failed for user %s: %v", identity.UserID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI service unavailable"})
		return
	}

	// 5. --- Consume Credit (only now, after a validated success) ---
	h.Ledger.Increment(identity.UserID)
	used := h.Ledger.Used(identity.UserID)
	remaining := h.Ledger.Remaining(identity.UserID)

	requestID := uuid.New().String()
	h.saveEstimateHistory(requestID, identity.UserID, req, estimate)

	// 6. --- Respond with Estimate + Credit Counters ---
	c.Header("X-Request-ID", requestID)
	c.Header("X-Credits-Remaining", strconv.Itoa(remaining))
	c.Header("X-Credits-Used", strconv.Itoa(used))
	c.Header("X-Credits-Limit", strconv.Itoa(h.Ledger.Limit()))
	c.JSON(http.StatusOK, gin.H{
		"foodName":         estimate.FoodName,
		"foodNameAr":       estimate.FoodNameAr,
		"calories":         estimate.Calories,
		"confidence":       estimate.Confidence,
		"breakdown":        estimate.Breakdown,
		"creditsUsed":      used,
		"creditsRemaining": remaining,
	})
}

// bearerToken pulls the token out of an "Authorization: Bearer <token>"
// header.
func bearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// normalizeEstimateInput collapses both accepted body shapes into one
// normalized request, rejecting anything unrecognizable before auth or
// credits are touched.
func normalizeEstimateInput(input *estimateInput) (*estimateRequest, error) {
	switch input.Type {
	case "text":
		return textRequest(input.Food)
	case "image":
		return imageRequest(input.Image)
	case "":
		// Fall through to the messages form.
	default:
		return nil, errors.New("Invalid request type. Use 'text' or 'image'.")
	}

	if len(input.Messages) == 0 {
		return nil, errors.New("Unrecognized request shape")
	}

	// Only the last message carries the food to estimate.
	content := input.Messages[len(input.Messages)-1].Content

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return textRequest(text)
	}

	var parts []contentPart
	if err := json.Unmarshal(content, &parts); err != nil {
		return nil, errors.New("Unsupported content type")
	}
	for _, part := range parts {
		if part.ImageBase64 != "" {
			return imageRequest(part.ImageBase64)
		}
	}
	for _, part := range parts {
		if part.Text != "" {
			return textRequest(part.Text)
		}
	}
	return nil, errors.New("No image provided")
}

func textRequest(food string) (*estimateRequest, error) {
	food = strings.TrimSpace(food)
	if food == "" {
		return nil, errors.New("Missing 'food' field")
	}
	if len(food) > maxFoodLength {
		return nil, fmt.Errorf("Food description too long (max %d chars)", maxFoodLength)
	}
	return &estimateRequest{Kind: "text", Food: food}, nil
}

func imageRequest(encoded string) (*estimateRequest, error) {
	if encoded == "" {
		return nil, errors.New("No image provided")
	}
	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(image) == 0 {
		return nil, errors.New("Invalid image payload")
	}
	return &estimateRequest{Kind: "image", Image: image, MimeType: "image/jpeg"}, nil
}

// saveEstimateHistory records a successful estimate for auditing. It is
// best-effort: the user already has their answer, so failures are logged
// and swallowed.
func (h *Handlers) saveEstimateHistory(requestID, userID string, req *estimateRequest, estimate *models.FoodEstimate) {
	if h.DB == nil {
		return
	}
	query := `
		INSERT INTO ai_estimate_history (request_id, user_id, input_kind, input_text, food_name, food_name_ar, calories, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := h.DB.Exec(query, requestID, userID, req.Kind, req.Food,
		estimate.FoodName, estimate.FoodNameAr, estimate.Calories, estimate.Confidence)
	if err != nil {
		log.Printf("Warning: Failed to save estimate history: %v", err)
	}
}
