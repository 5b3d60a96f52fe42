package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/chain"
	"github.com/mark3labs/paywall-go/chain/chaintest"
	"github.com/mark3labs/paywall-go/encoding"
	"github.com/mark3labs/paywall-go/events"
	httppaywall "github.com/mark3labs/paywall-go/http"
	"github.com/mark3labs/paywall-go/replay"
	"github.com/mark3labs/paywall-go/verify"
)

const (
	creator = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	buyer   = "29d2S7vB453rNYFdR5Ycwt7y9haRT5fwVwL9zTmBhfV2"
	sigA    = "99eUso3aSbE9tqGSTXzo3TLfKb9RkMTURrHKQ1K7Zh3BbeqPevr5E1iCbpTjqHuTFLtfxTTD5ekfVuZFzQyEQf8"
	sigB    = "AKAh9LUoWFG2sxAMotzmLNpKwPTCiG6Q4YTwAinZMnkvYKPAKVPwYSfoQDp8XLKWzpbCNx66XB1BrcD1ZUPqU39"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() Config {
	return Config{
		Addr:              ":0",
		Network:           paywall.NetworkDevnet,
		SessionSecret:     strings.Repeat("s", 32),
		CreatorWallet:     creator,
		DefaultPrice:      1_000_000,
		Protected:         []string{"/articles/*"},
		CreditBundleSize:  10,
		CreditBundlePrice: 5_000_000,
		RateLimit:         100,
		RateBurst:         100,
		EnableMCP:         true,
	}
}

type harness struct {
	oracle *chaintest.Oracle
	router *gin.Engine
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	oracle := chaintest.New()
	store := replay.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	a, err := newApp(cfg, deps{
		Oracles: verify.Single(oracle),
		Store:   store,
		Events:  events.Noop{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &harness{oracle: oracle, router: a.router()}
}

func (h *harness) pay(sig string, lamports uint64) {
	blockTime := time.Now().Add(-5 * time.Second)
	h.oracle.AddTransaction(&chain.ParsedTransaction{
		Signature: sig,
		Slot:      10,
		BlockTime: &blockTime,
		Instructions: []chain.Instruction{{
			Program:   "system",
			ProgramID: "11111111111111111111111111111111",
			Type:      "transfer",
			Info: map[string]any{
				"source":      buyer,
				"destination": creator,
				"lamports":    float64(lamports),
			},
		}},
	})
}

func (h *harness) do(method, target string, header http.Header, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func authorize(t *testing.T, challenge, sig string) string {
	t.Helper()
	req, err := encoding.DecodeRequirement(challenge)
	if err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	header, err := encoding.EncodeAuthorization(paywall.Authorization{
		AcceptedRequirement: req,
		Client:              paywall.ClientInfo{Scheme: req.Scheme, Network: req.Network},
		Payment:             paywall.PaymentProof{Signature: sig},
	})
	if err != nil {
		t.Fatal(err)
	}
	return header
}

func TestRouter_PublicEndpoints(t *testing.T) {
	h := newHarness(t, testConfig())

	for _, path := range []string{"/", "/health", "/metrics"} {
		if w := h.do(http.MethodGet, path, nil, ""); w.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, w.Code)
		}
	}
}

func TestRouter_ArticlePaywall(t *testing.T) {
	h := newHarness(t, testConfig())

	w := h.do(http.MethodGet, "/articles/42", nil, "")
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	challenge := w.Header().Get(httppaywall.HeaderPaymentRequired)
	if challenge == "" {
		t.Fatal("missing challenge header")
	}

	h.pay(sigA, 1_000_000)
	header := http.Header{}
	header.Set(httppaywall.HeaderPayment, authorize(t, challenge, sigA))
	w = h.do(http.MethodGet, "/articles/42", header, "")
	if w.Code != http.StatusOK {
		t.Fatalf("paid status = %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["wallet"] != buyer {
		t.Errorf("wallet = %v, want %s", body["wallet"], buyer)
	}

	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no session cookie")
	}
	header = http.Header{}
	header.Set("Cookie", (&http.Cookie{Name: cookies[0].Name, Value: cookies[0].Value}).String())
	if w := h.do(http.MethodGet, "/articles/42", header, ""); w.Code != http.StatusOK {
		t.Errorf("cookie reuse status = %d", w.Code)
	}
	if w := h.do(http.MethodGet, "/api/session", header, ""); w.Code != http.StatusOK {
		t.Errorf("session status = %d", w.Code)
	}
	if w := h.do(http.MethodGet, "/articles/43", header, ""); w.Code != http.StatusPaymentRequired {
		t.Errorf("other article status = %d, want 402", w.Code)
	}
}

func TestRouter_Session(t *testing.T) {
	h := newHarness(t, testConfig())

	if w := h.do(http.MethodGet, "/api/session", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", w.Code)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer garbage")
	if w := h.do(http.MethodGet, "/api/session", header, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", w.Code)
	}

	w := h.do(http.MethodPost, "/api/logout", nil, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("logout status = %d", w.Code)
	}
	if cookies := w.Result().Cookies(); len(cookies) == 0 || cookies[0].MaxAge >= 0 {
		t.Errorf("logout did not clear cookie: %v", cookies)
	}
}

func TestRouter_Credits(t *testing.T) {
	h := newHarness(t, testConfig())

	w := h.do(http.MethodPost, "/api/credits/purchase", nil, "")
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	challenge := w.Header().Get(httppaywall.HeaderPaymentRequired)

	// Underpaying the bundle is refused with a fresh challenge.
	h.pay(sigB, 1_000_000)
	header := http.Header{}
	header.Set(httppaywall.HeaderPayment, authorize(t, challenge, sigB))
	if w := h.do(http.MethodPost, "/api/credits/purchase", header, ""); w.Code != http.StatusPaymentRequired {
		t.Errorf("underpaid status = %d, want 402", w.Code)
	}

	h.pay(sigA, 5_000_000)
	header.Set(httppaywall.HeaderPayment, authorize(t, challenge, sigA))
	w = h.do(http.MethodPost, "/api/credits/purchase", header, "")
	if w.Code != http.StatusOK {
		t.Fatalf("purchase status = %d: %s", w.Code, w.Body.String())
	}
	var bought struct {
		Token   string `json:"token"`
		Credits int    `json:"credits"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &bought); err != nil {
		t.Fatal(err)
	}
	if bought.Credits != 10 || bought.Token == "" {
		t.Fatalf("purchase = %+v", bought)
	}
	if w.Header().Get(httppaywall.HeaderPaymentResponse) == "" {
		t.Error("missing settlement header")
	}

	auth := http.Header{}
	auth.Set("Authorization", "Bearer "+bought.Token)

	tests := []struct {
		name      string
		body      string
		status    int
		remaining float64
	}{
		{"use three", `{"amount":3}`, http.StatusOK, 7},
		{"zero", `{"amount":0}`, http.StatusBadRequest, 0},
		{"too many", `{"amount":50}`, http.StatusPaymentRequired, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(http.MethodPost, "/api/credits/use", auth, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if tt.status == http.StatusBadRequest {
				return
			}
			var out map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
				t.Fatal(err)
			}
			if out["remaining"] != tt.remaining {
				t.Errorf("remaining = %v, want %v", out["remaining"], tt.remaining)
			}
			if next, ok := out["token"].(string); ok {
				auth.Set("Authorization", "Bearer "+next)
			}
		})
	}
}

func TestRouter_CreditsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.CreditBundleSize = 0
	h := newHarness(t, cfg)
	if w := h.do(http.MethodPost, "/api/credits/purchase", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	h := newHarness(t, cfg)

	header := http.Header{}
	header.Set(httppaywall.HeaderPayment, "x402 garbage")

	var codes []int
	for range 3 {
		codes = append(codes, h.do(http.MethodGet, "/articles/1", header, "").Code)
	}
	if codes[0] == http.StatusTooManyRequests || codes[1] == http.StatusTooManyRequests {
		t.Errorf("burst throttled early: %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third submission = %d, want 429", codes[2])
	}

	// Reading without a payment is never throttled.
	if w := h.do(http.MethodGet, "/articles/1", nil, ""); w.Code != http.StatusPaymentRequired {
		t.Errorf("plain read = %d, want 402", w.Code)
	}
}
