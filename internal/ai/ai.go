package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/calorietrack/calorietrack-golang/internal/config"
	"github.com/calorietrack/calorietrack-golang/internal/models"
)

// Estimator is what the handlers depend on; tests substitute a stub so no
// network is involved.
type Estimator interface {
	EstimateText(ctx context.Context, food string) (*models.FoodEstimate, error)
	EstimateImage(ctx context.Context, mimeType string, image []byte) (*models.FoodEstimate, error)
}

// AIService holds the Gemini client and the fixed generation settings for
// calorie estimation.
type AIService struct {
	client      *genai.Client
	model       string
	visionModel string
	timeout     time.Duration
}

// NewAIService initializes the Gemini client.
func NewAIService(ctx context.Context, cfg config.AIConfig) (*AIService, error) {
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &AIService{
		client:      client,
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
		timeout:     cfg.Timeout,
	}, nil
}

// Close releases the underlying client connection.
func (s *AIService) Close() error {
	return s.client.Close()
}

const estimatePromptTemplate = `You are a professional nutritionist. Estimate the TOTAL calories for the food described below.

Respond ONLY with a single JSON object, no markdown, no explanation:
{"foodName":"<english name>","foodNameAr":"<الاسم بالعربية>","calories":<integer>,"confidence":"low"|"medium"|"high","breakdown":"<short sentence>"}

Rules:
- calories must be a realistic positive integer, assuming standard serving sizes if not specified
- confidence: high for common foods, medium if ambiguous, low if unclear

Food:
%q`

const visionPrompt = `What food is in this image? List all visible foods with approximate portion sizes. Answer in one short sentence.`

// EstimateText asks the model for a calorie estimate of a described food
// and returns the validated result. Content failures (the model answered,
// but not with usable JSON) surface as ErrInvalidResponse; everything else
// is a transport failure.
func (s *AIService) EstimateText(ctx context.Context, food string) (*models.FoodEstimate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	model := s.client.GenerativeModel(s.model)
	// Low temperature and a tight output budget keep the answers terse and
	// the calorie numbers stable across retries by the user.
	model.SetTemperature(0.2)
	model.SetMaxOutputTokens(256)

	prompt := fmt.Sprintf(estimatePromptTemplate, strings.TrimSpace(food))
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("upstream model call failed: %w", err)
	}

	raw := firstText(resp)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}
	return parseEstimate(raw, food)
}

// EstimateImage is a two-stage pipeline: a vision call resolves the image
// to a textual food description, which then goes through the same text
// estimation path.
func (s *AIService) EstimateImage(ctx context.Context, mimeType string, image []byte) (*models.FoodEstimate, error) {
	visionCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	model := s.client.GenerativeModel(s.visionModel)
	model.SetTemperature(0.2)
	model.SetMaxOutputTokens(256)

	resp, err := model.GenerateContent(visionCtx,
		genai.ImageData(imageFormat(mimeType), image),
		genai.Text(visionPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("upstream vision call failed: %w", err)
	}

	description := strings.TrimSpace(firstText(resp))
	if description == "" {
		return nil, fmt.Errorf("%w: vision stage returned no description", ErrInvalidResponse)
	}

	return s.EstimateText(ctx, description)
}

// firstText extracts the first text part of a completion, or "" if the
// model returned nothing usable.
func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return ""
	}
	for _, part := range content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text)
		}
	}
	return ""
}

// imageFormat maps a MIME type to the format label genai expects.
func imageFormat(mimeType string) string {
	if format, ok := strings.CutPrefix(mimeType, "image/"); ok && format != "" {
		return format
	}
	return "jpeg"
}
