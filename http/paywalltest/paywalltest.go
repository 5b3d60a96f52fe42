// Package paywalltest builds a fully wired paywall over an in-memory chain
// for framework adapter tests.
package paywalltest

import (
	"strings"
	"testing"
	"time"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/chain"
	"github.com/mark3labs/paywall-go/chain/chaintest"
	"github.com/mark3labs/paywall-go/encoding"
	httppaywall "github.com/mark3labs/paywall-go/http"
	"github.com/mark3labs/paywall-go/redeem"
	"github.com/mark3labs/paywall-go/replay"
	"github.com/mark3labs/paywall-go/session"
	"github.com/mark3labs/paywall-go/verify"
)

const (
	Merchant = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	Payer    = "29d2S7vB453rNYFdR5Ycwt7y9haRT5fwVwL9zTmBhfV2"
	Price    = 10_000_000

	SigA = "99eUso3aSbE9tqGSTXzo3TLfKb9RkMTURrHKQ1K7Zh3BbeqPevr5E1iCbpTjqHuTFLtfxTTD5ekfVuZFzQyEQf8"
	SigB = "AKAh9LUoWFG2sxAMotzmLNpKwPTCiG6Q4YTwAinZMnkvYKPAKVPwYSfoQDp8XLKWzpbCNx66XB1BrcD1ZUPqU39"
)

// Fixture is a paywall protecting /articles/* at Price lamports.
type Fixture struct {
	Oracle   *chaintest.Oracle
	Sessions *session.Issuer
	Paywall  *httppaywall.Paywall
}

// New builds a Fixture. Extra protected patterns may be passed.
func New(t testing.TB, protected ...string) *Fixture {
	t.Helper()
	oracle := chaintest.New()
	store := replay.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	sessions, err := session.NewIssuer(session.Config{Secret: strings.Repeat("t", 32)})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := redeem.New(redeem.Config{
		Verifier: verify.New(verify.Single(oracle)),
		Store:    store,
		Sessions: sessions,
	})
	if err != nil {
		t.Fatal(err)
	}
	p, err := httppaywall.New(httppaywall.Config{
		Sessions:  sessions,
		Redeemer:  svc,
		Protected: append([]string{"/articles/*"}, protected...),
		Requirement: paywall.RequirementConfig{
			Network: paywall.NetworkDevnet,
			PayTo:   Merchant,
			Amount:  Price,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &Fixture{Oracle: oracle, Sessions: sessions, Paywall: p}
}

// Pay records a confirmed transfer of lamports from Payer to Merchant.
func (f *Fixture) Pay(sig string, lamports uint64) {
	blockTime := time.Now().Add(-5 * time.Second)
	f.Oracle.AddTransaction(&chain.ParsedTransaction{
		Signature: sig,
		Slot:      10,
		BlockTime: &blockTime,
		Instructions: []chain.Instruction{{
			Program:   "system",
			ProgramID: "11111111111111111111111111111111",
			Type:      "transfer",
			Info: map[string]any{
				"source":      Payer,
				"destination": Merchant,
				"lamports":    float64(lamports),
			},
		}},
	})
}

// Authorization answers the PAYMENT-REQUIRED challenge with sig.
func (f *Fixture) Authorization(t testing.TB, challenge, sig string) string {
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
