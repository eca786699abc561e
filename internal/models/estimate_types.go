package models

import "time"

// Confidence levels the model is allowed to report.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// FoodEstimate is the shaped result of one upstream model call.
// It is never stored as-is; the client decides whether to keep it.
type FoodEstimate struct {
	FoodName   string  `json:"foodName"`
	FoodNameAr string  `json:"foodNameAr"`
	Calories   int     `json:"calories"`
	Confidence string  `json:"confidence"`
	Breakdown  *string `json:"breakdown"`
}

// EstimateRecord defines the model for the 'ai_estimate_history' table.
// Rows are written best-effort after each successful estimate.
type EstimateRecord struct {
	ID         int64     `json:"id" db:"id"`
	RequestID  string    `json:"requestId" db:"request_id"`
	UserID     string    `json:"userId" db:"user_id"`
	InputKind  string    `json:"inputKind" db:"input_kind"`
	InputText  string    `json:"inputText" db:"input_text"`
	FoodName   string    `json:"foodName" db:"food_name"`
	FoodNameAr string    `json:"foodNameAr" db:"food_name_ar"`
	Calories   int       `json:"calories" db:"calories"`
	Confidence string    `json:"confidence" db:"confidence"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}
