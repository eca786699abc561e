package handlers_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/calorietrack/calorietrack-golang/internal/ai"
	"github.com/calorietrack/calorietrack-golang/internal/auth"
	"github.com/calorietrack/calorietrack-golang/internal/credits"
	"github.com/calorietrack/calorietrack-golang/internal/handlers"
	"github.com/calorietrack/calorietrack-golang/internal/models"
	"github.com/calorietrack/calorietrack-golang/internal/routes"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// stubVerifier accepts the token "good-token" and rejects everything else.
type stubVerifier struct {
	mu    sync.Mutex
	count int
}

func (v *stubVerifier) Verify(_ context.Context, token string) (auth.Identity, error) {
	v.mu.Lock()
	v.count++
	v.mu.Unlock()
	if token != "good-token" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.Identity{UserID: "user-1", Email: "user@example.com"}, nil
}

func (v *stubVerifier) calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.count
}

// stubEstimator returns a canned estimate or error and counts calls so
// tests can assert the upstream was (not) reached. Counters are guarded
// because the concurrency test hits it from many goroutines.
type stubEstimator struct {
	mu         sync.Mutex
	estimate   *models.FoodEstimate
	err        error
	textCalls  int
	imageCalls int
}

func (e *stubEstimator) EstimateText(context.Context, string) (*models.FoodEstimate, error) {
	e.mu.Lock()
	e.textCalls++
	e.mu.Unlock()
	return e.estimate, e.err
}

func (e *stubEstimator) EstimateImage(context.Context, string, []byte) (*models.FoodEstimate, error) {
	e.mu.Lock()
	e.imageCalls++
	e.mu.Unlock()
	return e.estimate, e.err
}

func (e *stubEstimator) calls() (text, image int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.textCalls, e.imageCalls
}

func goodEstimate() *models.FoodEstimate {
	breakdown := "one medium apple"
	return &models.FoodEstimate{
		FoodName:   "Apple",
		FoodNameAr: "تفاحة",
		Calories:   95,
		Confidence: models.ConfidenceMedium,
		Breakdown:  &breakdown,
	}
}

func newTestServer(limit int, estimator ai.Estimator) (*gin.Engine, *stubVerifier, *credits.Ledger) {
	verifier := &stubVerifier{}
	ledger := credits.NewLedger(limit)
	h := &handlers.Handlers{
		Ledger:    ledger,
		Verifier:  verifier,
		Estimator: estimator,
	}
	return routes.SetupRouter(h), verifier, ledger
}

func doRequest(router *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (body %q)", err, w.Body.String())
	}
	return body
}

func TestOptionsPreflight(t *testing.T) {
	router, verifier, _ := newTestServer(10, &stubEstimator{})

	w := doRequest(router, http.MethodOptions, "/v1/ai/estimate", "", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("preflight body = %q, want empty", w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("preflight missing CORS headers")
	}
	if verifier.calls() != 0 {
		t.Error("preflight invoked the verifier")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router, _, _ := newTestServer(10, &stubEstimator{})

	w := doRequest(router, http.MethodGet, "/v1/ai/estimate", "", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
	if body := decodeBody(t, w); body["error"] == "" {
		t.Error("405 body carries no error field")
	}
}

func TestMalformedBody(t *testing.T) {
	estimator := &stubEstimator{estimate: goodEstimate()}
	router, verifier, _ := newTestServer(10, estimator)

	for _, body := range []string{"", "{not json", `{"type":"sound"}`, `{}`} {
		w := doRequest(router, http.MethodPost, "/v1/ai/estimate", body, "good-token")
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
	// Body validation happens before auth and upstream.
	if got := verifier.calls(); got != 0 {
		t.Errorf("verifier called %d times for bad bodies", got)
	}
	if text, image := estimator.calls(); text+image != 0 {
		t.Error("upstream called for bad bodies")
	}
}

func TestEmptyAndOversizedFood(t *testing.T) {
	router, _, _ := newTestServer(10, &stubEstimator{estimate: goodEstimate()})

	w := doRequest(router, http.MethodPost, "/v1/ai/estimate", `{"type":"text","food":"   "}`, "good-token")
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty food: status = %d, want 400", w.Code)
	}

	long := strings.Repeat("a", 501)
	w = doRequest(router, http.MethodPost, "/v1/ai/estimate", fmt.Sprintf(`{"type":"text","food":%q}`, long), "good-token")
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized food: status = %d, want 400", w.Code)
	}
}

func TestMissingAuth(t *testing.T) {
	estimator := &stubEstimator{estimate: goodEstimate()}
	router, _, ledger := newTestServer(10, estimator)

	w := doRequest(router, http.MethodPost, "/v1/ai/estimate", `{"type":"text","food":"apple"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if text, _ := estimator.calls(); text != 0 {
		t.Error("upstream called without auth")
	}
	if ledger.Used("user-1") != 0 {
		t.Error("ledger mutated without auth")
	}
}

func TestInvalidToken(t *testing.T) {
	router, _, _ := newTestServer(10, &stubEstimator{estimate: goodEstimate()})

	w := doRequest(router, http.MethodPost, "/v1/ai/estimate", `{"type":"text","food":"apple"}`, "bad-token")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSuccessTextEstimate(t *testing.T) {
	estimator := &stubEstimator{estimate: goodEstimate()}
	router, _, _ := newTestServer(10, estimator)

	w := doRequest(router, http.MethodPost, "/v1/ai/estimate", `{"type":"text","food":"one apple"}`, "good-token")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["foodName"] != "Apple" || body["foodNameAr"] != "تفاحة" {
		t.Errorf("names = %v / %v", body["foodName"], body["foodNameAr"])
	}
	if body["calories"] != float64(95) {
		t.Errorf("calories = %v, want 95", body["calories"])
	}
	if body["creditsUsed"] != float64(1) || body["creditsRemaining"] != float64(9) {
		t.Errorf("credits = %v used / %v remaining, want 1/9", body["creditsUsed"], body["creditsRemaining"])
	}
	if w.Header().Get("X-Credits-Remaining") != "9" ||
		w.Header().Get("X-Credits-Used") != "1" ||
		w.Header().Get("X-Credits-Limit") != "10" {
		t.Errorf("credit headers = %v", w.Header())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestMessagesShapeText(t *testing.T) {
	estimator := &stubEstimator{estimate: goodEstimate()}
	router, _, _ := newTestServer(10, estimator)

	body := `{"messages":[{"role":"user","content":"2 slices of pizza"}]}`
	w := doRequest(router, http.MethodPost, "/v1/ai/estimate", body, "good-token")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if text, image := estimator.calls(); text != 1 || image != 0 {
		t.Errorf("calls = %d text / %d image, want 1/0", text, image)
	}
}

func TestMessagesShapeImage(t *testing.T) {
	estimator := &stubEstimator{estimate: goodEstimate()}
	router, _, _ := newTestServer(10, estimator)

	image := base64.StdEncoding.EncodeToString([]byte("fake-jpeg-bytes"))
	body := fmt.Sprintf(`{"messages":[{"role":"user","content":[{"type":"input_image","image_base64":%q},{"type":"input_text","text":"what is this"}]}]}`, image)
	w := doRequest(router, http.MethodPost, "/v1/ai/estimate", body, "good-token")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if _, image := estimator.calls(); image != 1 {
		t.Errorf("image calls = %d, want 1", image)
	}
}

func TestUpstreamTransportFailure(t *testing.T) {
	estimator := &stubEstimator{err: errors.New("upstream model call failed: connection refused")}
	router, _, ledger := newTestServer(10, estimator)

	w := doRequest(router, http.MethodPost, "/v1/ai/estimate", `{"type":"text","food":"apple"}`, "good-token")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if ledger.Used("user-1") != 0 {
		t.Error("failed upstream call consumed a credit")
	}
}

func TestUpstreamInvalidContent(t *testing.T) {
	estimator := &stubEstimator{err: fmt.Errorf("%w: no JSON object", ai.ErrInvalidResponse)}
	router, _, ledger := newTestServer(10, estimator)

	w := doRequest(router, http.MethodPost, "/v1/ai/estimate", `{"type":"text","food":"apple"}`, "good-token")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if ledger.Used("user-1") != 0 {
		t.Error("invalid upstream content consumed a credit")
	}
}

func TestDailyLimitExhaustion(t *testing.T) {
	estimator := &stubEstimator{estimate: goodEstimate()}
	router, _, _ := newTestServer(2, estimator)

	for i := 0; i < 2; i++ {
		w := doRequest(router, http.MethodPost, "/v1/ai/estimate", `{"type":"text","food":"apple"}`, "good-token")
		if w.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := doRequest(router, http.MethodPost, "/v1/ai/estimate", `{"type":"text","food":"apple"}`, "good-token")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	body := decodeBody(t, w)
	if body["remaining"] != float64(0) || body["used"] != float64(2) || body["limit"] != float64(2) {
		t.Errorf("429 counters = %v", body)
	}
	if text, _ := estimator.calls(); text != 2 {
		t.Errorf("upstream called %d times, want 2 (blocked call must not reach it)", text)
	}
}

func TestConcurrentRequestsCountExactly(t *testing.T) {
	const k = 100
	estimator := &stubEstimator{estimate: goodEstimate()}
	router, _, ledger := newTestServer(1000, estimator)

	var wg sync.WaitGroup
	wg.Add(k)
	for i := 0; i < k; i++ {
		go func() {
			defer wg.Done()
			w := doRequest(router, http.MethodPost, "/v1/ai/estimate", `{"type":"text","food":"apple"}`, "good-token")
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
		}()
	}
	wg.Wait()

	if got := ledger.Used("user-1"); got != k {
		t.Errorf("Used = %d after %d concurrent requests, want %d", got, k, k)
	}
}

func TestGetCredits(t *testing.T) {
	estimator := &stubEstimator{estimate: goodEstimate()}
	router, _, _ := newTestServer(10, estimator)

	doRequest(router, http.MethodPost, "/v1/ai/estimate", `{"type":"text","food":"apple"}`, "good-token")

	w := doRequest(router, http.MethodGet, "/v1/credits", "", "good-token")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["used"] != float64(1) || body["remaining"] != float64(9) || body["limit"] != float64(10) {
		t.Errorf("credit status = %v", body)
	}
	resetTime, _ := body["resetTime"].(string)
	if _, err := time.Parse(time.RFC3339, resetTime); err != nil {
		t.Errorf("resetTime %q is not RFC 3339: %v", resetTime, err)
	}
}

func TestGetCreditsRequiresAuth(t *testing.T) {
	router, _, _ := newTestServer(10, &stubEstimator{})

	w := doRequest(router, http.MethodGet, "/v1/credits", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHealth(t *testing.T) {
	router, _, _ := newTestServer(1000, &stubEstimator{})

	w := doRequest(router, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" || body["dailyLimit"] != float64(1000) {
		t.Errorf("health body = %v", body)
	}
}
