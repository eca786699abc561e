package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/calorietrack/calorietrack-golang/internal/models"
)

// ErrInvalidResponse means the upstream model answered but its content did
// not validate (no JSON, bad calories, and so on). Transport failures are
// reported as plain wrapped errors instead, so the handler can tell a 502
// from a 503.
var ErrInvalidResponse = errors.New("upstream returned invalid content")

// rawEstimate mirrors the JSON object the prompt asks the model for.
type rawEstimate struct {
	FoodName   string  `json:"foodName"`
	FoodNameAr string  `json:"foodNameAr"`
	Calories   float64 `json:"calories"`
	Confidence string  `json:"confidence"`
	Breakdown  *string `json:"breakdown"`
}

// parseEstimate turns the model's raw completion into a validated
// FoodEstimate. It tries a strict parse of the whole (fence-stripped) text
// first and only then falls back to scanning for the first balanced JSON
// object, since models like to wrap their answer in prose.
func parseEstimate(raw, fallbackName string) (*models.FoodEstimate, error) {
	text := strings.TrimSpace(stripCodeFences(raw))

	var parsed rawEstimate
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		candidate, ok := extractJSONObject(text)
		if !ok {
			return nil, fmt.Errorf("%w: no JSON object in completion", ErrInvalidResponse)
		}
		parsed = rawEstimate{}
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}

	if math.IsNaN(parsed.Calories) || math.IsInf(parsed.Calories, 0) || parsed.Calories <= 0 {
		return nil, fmt.Errorf("%w: invalid calorie value", ErrInvalidResponse)
	}

	foodName := strings.TrimSpace(parsed.FoodName)
	if foodName == "" {
		foodName = strings.TrimSpace(fallbackName)
	}
	foodNameAr := strings.TrimSpace(parsed.FoodNameAr)
	if foodNameAr == "" {
		foodNameAr = foodName
	}

	return &models.FoodEstimate{
		FoodName:   foodName,
		FoodNameAr: foodNameAr,
		Calories:   int(math.Round(parsed.Calories)),
		Confidence: normalizeConfidence(parsed.Confidence),
		Breakdown:  parsed.Breakdown,
	}, nil
}

// normalizeConfidence clamps the model's answer to the three allowed
// levels, defaulting to medium.
func normalizeConfidence(confidence string) string {
	switch strings.ToLower(strings.TrimSpace(confidence)) {
	case models.ConfidenceLow:
		return models.ConfidenceLow
	case models.ConfidenceHigh:
		return models.ConfidenceHigh
	default:
		return models.ConfidenceMedium
	}
}

// stripCodeFences removes markdown fences the model sometimes wraps its
// JSON in.
func stripCodeFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	return strings.ReplaceAll(s, "```", "")
}

// extractJSONObject returns the first balanced {...} substring, tracking
// string literals so braces inside values don't break the depth count.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
