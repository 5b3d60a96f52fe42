package redeem

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/chain"
	"github.com/mark3labs/paywall-go/chain/chaintest"
	"github.com/mark3labs/paywall-go/events"
	"github.com/mark3labs/paywall-go/replay"
	"github.com/mark3labs/paywall-go/session"
	"github.com/mark3labs/paywall-go/verify"
)

const (
	merchant = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	payer    = "29d2S7vB453rNYFdR5Ycwt7y9haRT5fwVwL9zTmBhfV2"
	sigA     = "99eUso3aSbE9tqGSTXzo3TLfKb9RkMTURrHKQ1K7Zh3BbeqPevr5E1iCbpTjqHuTFLtfxTTD5ekfVuZFzQyEQf8"
	sigB     = "AKAh9LUoWFG2sxAMotzmLNpKwPTCiG6Q4YTwAinZMnkvYKPAKVPwYSfoQDp8XLKWzpbCNx66XB1BrcD1ZUPqU39"
	sigC     = "BUguQsv2ZuHus54HAFzjdJHzZBkygAjKhEeYwSG19tUfUyvvz3worsdQCdAXDNjakJHioSiyxhFiDJrm8XpSXRA"
)

type recordingPublisher struct {
	mu       sync.Mutex
	verified []events.PaymentVerified
	issued   []events.SessionIssued
}

func (p *recordingPublisher) PublishPaymentVerified(_ context.Context, e events.PaymentVerified) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verified = append(p.verified, e)
	return nil
}

func (p *recordingPublisher) PublishSessionIssued(_ context.Context, e events.SessionIssued) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued = append(p.issued, e)
	return nil
}

func (p *recordingPublisher) PublishAgentPayment(context.Context, events.AgentPayment) error {
	return nil
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) IncCounter(name string, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[name]++
}

func (r *countingRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

func (r *countingRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

type fixture struct {
	oracle   *chaintest.Oracle
	store    *replay.MemoryStore
	sessions *session.Issuer
	service  *Service
	events   *recordingPublisher
	metrics  *countingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	oracle := chaintest.New()
	store := replay.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	sessions, err := session.NewIssuer(session.Config{Secret: strings.Repeat("s", 32)})
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		oracle:   oracle,
		store:    store,
		sessions: sessions,
		events:   &recordingPublisher{},
		metrics:  &countingRecorder{},
	}
	f.service, err = New(Config{
		Verifier: verify.New(verify.Single(oracle)),
		Store:    store,
		Sessions: sessions,
		Events:   f.events,
		Metrics:  f.metrics,
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) pay(sig string, lamports uint64) {
	blockTime := time.Now().Add(-5 * time.Second)
	f.oracle.AddTransaction(&chain.ParsedTransaction{
		Signature: sig,
		Slot:      10,
		BlockTime: &blockTime,
		Instructions: []chain.Instruction{{
			Program:   "system",
			ProgramID: "11111111111111111111111111111111",
			Type:      "transfer",
			Info: map[string]any{
				"source":      payer,
				"destination": merchant,
				"lamports":    float64(lamports),
			},
		}},
	})
}

func requirement(t *testing.T, resource string) paywall.PaymentRequirement {
	t.Helper()
	req, err := paywall.BuildPaymentRequirement(paywall.RequirementConfig{
		Network:  paywall.NetworkDevnet,
		PayTo:    merchant,
		Amount:   10_000_000,
		Resource: "/articles/" + resource,
	})
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func request(t *testing.T, sig, resource string) Request {
	req := requirement(t, resource)
	return Request{
		Authorization: paywall.Authorization{
			AcceptedRequirement: req,
			Client:              paywall.ClientInfo{Scheme: paywall.SchemeExact, Network: paywall.NetworkDevnet},
			Payment:             paywall.PaymentProof{Signature: sig},
		},
		Requirement: req,
		ResourceID:  resource,
	}
}

func code(err error) paywall.ErrorCode {
	var pe *paywall.PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func TestRedeem_Scenarios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pay(sigA, 15_000_000)
	f.pay(sigB, 5_000_000)

	// Overpayment unlocks the article.
	res, err := f.service.Redeem(ctx, request(t, sigA, "article-1"))
	if err != nil {
		t.Fatalf("redeem article-1: %v", err)
	}
	if got := res.Session.Session.UnlockedArticles; len(got) != 1 || got[0] != "article-1" {
		t.Errorf("articles = %v", got)
	}
	if res.Session.Session.WalletAddress != payer || res.Settlement.Payer != payer || !res.Settlement.Success {
		t.Errorf("result = %+v", res)
	}
	if res.Verification.Amount != 15_000_000 {
		t.Errorf("amount = %d", res.Verification.Amount)
	}

	// The same signature cannot unlock a second article.
	_, err = f.service.Redeem(ctx, request(t, sigA, "article-2"))
	if !errors.Is(err, paywall.ErrSignatureUsed) || code(err) != paywall.ErrCodeSignatureUsed {
		t.Fatalf("replay: error = %v", err)
	}

	// Underpayment is rejected with the observed amount reported.
	_, err = f.service.Redeem(ctx, request(t, sigB, "article-3"))
	if !errors.Is(err, paywall.ErrVerificationFailed) {
		t.Fatalf("underpayment: error = %v", err)
	}
	var pe *paywall.PaymentError
	errors.As(err, &pe)
	if !strings.Contains(pe.Message, "insufficient amount") || pe.Details["amount"] != uint64(5_000_000) {
		t.Errorf("underpayment error = %+v", pe)
	}
	if used, _ := f.store.HasBeenUsed(ctx, sigB); used {
		t.Error("rejected signature was claimed")
	}

	if len(f.events.verified) != 1 || len(f.events.issued) != 1 {
		t.Errorf("events: verified=%d issued=%d", len(f.events.verified), len(f.events.issued))
	}
	if f.metrics.count("signature_replayed") != 1 || f.metrics.count("payment_rejected") != 1 {
		t.Errorf("metrics = %v", f.metrics.counts)
	}
}

func TestRedeem_ConcurrentSameSignature(t *testing.T) {
	f := newFixture(t)
	f.pay(sigA, 10_000_000)

	const workers = 16
	var wins, replays atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.service.Redeem(context.Background(), request(t, sigA, "article-1"))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, paywall.ErrSignatureUsed):
				replays.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || replays.Load() != workers-1 {
		t.Errorf("wins=%d replays=%d", wins.Load(), replays.Load())
	}
}

func TestRedeem_ExtendsExistingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pay(sigA, 10_000_000)
	f.pay(sigC, 10_000_000)

	first, err := f.service.Redeem(ctx, request(t, sigA, "article-1"))
	if err != nil {
		t.Fatal(err)
	}

	req := request(t, sigC, "article-2")
	req.ExistingToken = first.Session.Token
	second, err := f.service.Redeem(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if second.Session.Session.ID != first.Session.Session.ID {
		t.Error("expected the existing session to be extended")
	}
	for _, id := range []string{"article-1", "article-2"} {
		if !f.sessions.IsArticleUnlocked(second.Session.Token, id) {
			t.Errorf("%s locked", id)
		}
	}
}

func TestRedeem_SiteWide(t *testing.T) {
	f := newFixture(t)
	f.pay(sigA, 10_000_000)

	req := request(t, sigA, "article-1")
	req.SiteWide = true
	res, err := f.service.Redeem(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !f.sessions.IsArticleUnlocked(res.Session.Token, "anything") {
		t.Error("site-wide session does not unlock other resources")
	}
}

func TestRedeem_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Request)
		oracle   func(*chaintest.Oracle)
		wantCode paywall.ErrorCode
		wantErr  error
	}{
		{
			name:     "echoed recipient differs",
			mutate:   func(r *Request) { r.Authorization.AcceptedRequirement.PayTo = payer },
			wantCode: paywall.ErrCodeInvalidRequirement,
			wantErr:  paywall.ErrInvalidPayment,
		},
		{
			name:     "client on another network",
			mutate:   func(r *Request) { r.Authorization.Client.Network = paywall.NetworkMainnet },
			wantCode: paywall.ErrCodeInvalidRequirement,
			wantErr:  paywall.ErrUnsupportedNetwork,
		},
		{
			name:     "unknown scheme",
			mutate:   func(r *Request) { r.Authorization.Client.Scheme = "upto" },
			wantCode: paywall.ErrCodeInvalidRequirement,
			wantErr:  paywall.ErrUnsupportedScheme,
		},
		{
			name:     "malformed signature",
			mutate:   func(r *Request) { r.Authorization.Payment.Signature = "nope" },
			wantCode: paywall.ErrCodeMalformedHeader,
			wantErr:  paywall.ErrMalformedHeader,
		},
		{
			name:     "signature of the wrong decoded length",
			mutate:   func(r *Request) { r.Authorization.Payment.Signature = strings.Repeat("z", 64) },
			wantCode: paywall.ErrCodeMalformedHeader,
			wantErr:  paywall.ErrMalformedHeader,
		},
		{
			name:     "chain unavailable",
			oracle:   func(o *chaintest.Oracle) { o.Err = errors.New("connection refused") },
			wantCode: paywall.ErrCodeNetworkError,
			wantErr:  paywall.ErrNetworkError,
		},
		{
			name:     "transaction not found",
			oracle:   func(o *chaintest.Oracle) { delete(o.Transactions, sigA) },
			wantCode: paywall.ErrCodeVerificationFailed,
			wantErr:  paywall.ErrVerificationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.pay(sigA, 10_000_000)
			if tt.oracle != nil {
				tt.oracle(f.oracle)
			}
			req := request(t, sigA, "article-1")
			if tt.mutate != nil {
				tt.mutate(&req)
			}

			_, err := f.service.Redeem(context.Background(), req)
			if code(err) != tt.wantCode {
				t.Errorf("code = %q, want %q (err %v)", code(err), tt.wantCode, err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if used, _ := f.store.HasBeenUsed(context.Background(), sigA); used {
				t.Error("signature claimed on a failed redemption")
			}
		})
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}
