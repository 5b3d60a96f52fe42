package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/agent"
	"github.com/mark3labs/paywall-go/encoding"
)

type fakePayer struct {
	mu    sync.Mutex
	paid  []paywall.PaymentRequirement
	fail  string
	onPay func(paywall.PaymentRequirement)
}

func (p *fakePayer) PayRequirement(_ context.Context, req paywall.PaymentRequirement, _ agent.PaymentRequest) agent.AgentPaymentResult {
	p.mu.Lock()
	p.paid = append(p.paid, req)
	p.mu.Unlock()

	if p.fail != "" {
		return agent.AgentPaymentResult{Error: p.fail, AmountLamports: req.Amount}
	}
	if p.onPay != nil {
		p.onPay(req)
	}
	return agent.AgentPaymentResult{Success: true, Signature: sigA, AmountLamports: req.Amount}
}

func (p *fakePayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paid)
}

func testRequirement(t *testing.T) paywall.PaymentRequirement {
	t.Helper()
	req, err := paywall.BuildPaymentRequirement(paywall.RequirementConfig{
		Network:  paywall.NetworkDevnet,
		PayTo:    merchant,
		Amount:   price,
		Resource: "/articles/one",
	})
	if err != nil {
		t.Fatal(err)
	}
	return req
}

// stubServer answers 402 until a request carries a payment header.
func stubServer(t *testing.T, req paywall.PaymentRequirement, headerChallenge bool) (*httptest.Server, *[]*http.Request) {
	t.Helper()
	var mu sync.Mutex
	var seen []*http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		clone := r.Clone(context.Background())
		clone.Body = io.NopCloser(strings.NewReader(string(body)))
		mu.Lock()
		seen = append(seen, clone)
		mu.Unlock()

		if r.Header.Get(HeaderPayment) == "" {
			if headerChallenge {
				if err := SendPaymentRequired(w, req, ReasonSessionRequired); err != nil {
					t.Error(err)
				}
				return
			}
			writeJSON(w, http.StatusPaymentRequired, PaymentRequiredResponse{Error: "pay", Requirement: req})
			return
		}
		if err := AddPaymentResponseHeader(w.Header(), paywall.Settlement{Success: true, Signature: sigA, Payer: payer}); err != nil {
			t.Error(err)
		}
		w.Write([]byte("paid content"))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestPaymentTransport_PassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("free"))
	}))
	defer srv.Close()

	p := &fakePayer{}
	client, err := NewClient(WithPayer(p))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || p.count() != 0 {
		t.Errorf("status = %d, payments = %d", resp.StatusCode, p.count())
	}
}

func TestPaymentTransport_PaysChallenge(t *testing.T) {
	for _, headerChallenge := range []bool{true, false} {
		name := "body"
		if headerChallenge {
			name = "header"
		}
		t.Run(name, func(t *testing.T) {
			req := testRequirement(t)
			srv, seen := stubServer(t, req, headerChallenge)

			var events []paywall.PaymentEventType
			record := func(e paywall.PaymentEvent) { events = append(events, e.Type) }
			p := &fakePayer{}
			client, err := NewClient(
				WithPayer(p),
				WithPaymentCallback(paywall.PaymentEventAttempt, record),
				WithPaymentCallback(paywall.PaymentEventSuccess, record),
				WithPaymentCallback(paywall.PaymentEventFailure, record),
			)
			if err != nil {
				t.Fatal(err)
			}

			resp, err := client.Get(srv.URL + "/articles/one")
			if err != nil {
				t.Fatal(err)
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			if resp.StatusCode != http.StatusOK || string(body) != "paid content" {
				t.Fatalf("status = %d body = %q", resp.StatusCode, body)
			}
			if p.count() != 1 || p.paid[0].Amount != price {
				t.Errorf("payments = %+v", p.paid)
			}
			if len(*seen) != 2 {
				t.Fatalf("server saw %d requests", len(*seen))
			}
			auth, err := encoding.DecodeAuthorization((*seen)[1].Header.Get(HeaderPayment))
			if err != nil {
				t.Fatal(err)
			}
			if auth.Payment.Signature != sigA || !auth.AcceptedRequirement.Matches(req) {
				t.Errorf("authorization = %+v", auth)
			}
			if s := GetSettlement(resp); s == nil || s.Signature != sigA {
				t.Errorf("settlement = %+v", s)
			}
			if len(events) != 2 || events[0] != paywall.PaymentEventAttempt || events[1] != paywall.PaymentEventSuccess {
				t.Errorf("events = %v", events)
			}
		})
	}
}

func TestPaymentTransport_MaxAmount(t *testing.T) {
	srv, _ := stubServer(t, testRequirement(t), true)
	p := &fakePayer{}
	client, err := NewClient(WithPayer(p), WithMaxAmount(price-1))
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Get(srv.URL)
	var pe *paywall.PaymentError
	if !errors.As(err, &pe) || pe.Code != paywall.ErrCodeAmountExceeded {
		t.Fatalf("error = %v, want AMOUNT_EXCEEDED", err)
	}
	if p.count() != 0 {
		t.Error("paid above the limit")
	}
}

func TestPaymentTransport_PaymentFails(t *testing.T) {
	srv, seen := stubServer(t, testRequirement(t), true)
	var failures int
	p := &fakePayer{fail: "transaction failed on-chain"}
	client, err := NewClient(WithPayer(p), WithPaymentCallback(paywall.PaymentEventFailure, func(paywall.PaymentEvent) { failures++ }))
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Get(srv.URL)
	var pe *paywall.PaymentError
	if !errors.As(err, &pe) || pe.Code != paywall.ErrCodePaymentFailed {
		t.Fatalf("error = %v, want PAYMENT_FAILED", err)
	}
	if !errors.Is(err, paywall.ErrInvalidPayment) {
		t.Error("error does not wrap ErrInvalidPayment")
	}
	if failures != 1 || len(*seen) != 1 {
		t.Errorf("failures = %d, requests = %d", failures, len(*seen))
	}
}

func TestPaymentTransport_InvalidChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p := &fakePayer{}
	client, _ := NewClient(WithPayer(p))
	_, err := client.Get(srv.URL)
	var pe *paywall.PaymentError
	if !errors.As(err, &pe) || pe.Code != paywall.ErrCodeInvalidRequirement {
		t.Fatalf("error = %v", err)
	}
	if p.count() != 0 {
		t.Error("paid an unparseable challenge")
	}
}

func TestPaymentTransport_ReplaysBody(t *testing.T) {
	srv, seen := stubServer(t, testRequirement(t), true)
	client, _ := NewClient(WithPayer(&fakePayer{}))

	resp, err := client.Post(srv.URL, "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if len(*seen) != 2 {
		t.Fatalf("server saw %d requests", len(*seen))
	}
	body, _ := io.ReadAll((*seen)[1].Body)
	if string(body) != "hello" {
		t.Errorf("retried body = %q", body)
	}
}

func TestPaymentTransport_OneShotBodyNotPaid(t *testing.T) {
	srv, seen := stubServer(t, testRequirement(t), true)
	p := &fakePayer{}
	client, _ := NewClient(WithPayer(p))

	// MultiReader is not a type NewRequest knows how to rewind.
	req, err := http.NewRequest(http.MethodPost, srv.URL, io.MultiReader(strings.NewReader("hello")))
	if err != nil {
		t.Fatal(err)
	}
	if req.GetBody != nil {
		t.Fatal("request body is replayable")
	}

	_, err = client.Do(req)
	if err == nil || !strings.Contains(err.Error(), "cannot be replayed") {
		t.Fatalf("error = %v, want replay error", err)
	}
	if p.count() != 0 {
		t.Error("paid for a request that could not be retried")
	}
	if len(*seen) != 1 {
		t.Errorf("server saw %d requests", len(*seen))
	}
}

func TestClient_EndToEnd(t *testing.T) {
	f := newFixture(t)
	mw, err := NewPaywallMiddleware(f.config())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := SessionFromContext(r.Context())
		w.Write([]byte("hello " + s.WalletAddress))
	})))
	defer srv.Close()

	p := &fakePayer{onPay: func(req paywall.PaymentRequirement) { f.pay(sigA, req.Amount) }}
	client, err := NewClient(WithPayer(p))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Get(srv.URL + "/articles/one")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || string(body) != "hello "+payer {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}
	if s := GetSettlement(resp); s == nil || !s.Success || s.Payer != payer {
		t.Errorf("settlement = %+v", s)
	}
}

func TestNewClient_Options(t *testing.T) {
	if _, err := NewClient(WithPayer(nil)); err == nil {
		t.Error("nil payer accepted")
	}
	if _, err := NewClient(WithPaymentCallback("bogus", func(paywall.PaymentEvent) {})); err == nil {
		t.Error("unknown event type accepted")
	}

	base := &http.Client{}
	c, err := NewClient(WithHTTPClient(base), WithMaxAmount(5))
	if err != nil {
		t.Fatal(err)
	}
	tr, ok := c.Transport.(*PaymentTransport)
	if !ok || tr.MaxAmount != 5 || tr.Base != http.DefaultTransport {
		t.Errorf("transport = %#v", c.Transport)
	}
}
