package http

import (
	"strings"
	"testing"
	"time"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/chain"
	"github.com/mark3labs/paywall-go/chain/chaintest"
	"github.com/mark3labs/paywall-go/redeem"
	"github.com/mark3labs/paywall-go/replay"
	"github.com/mark3labs/paywall-go/session"
	"github.com/mark3labs/paywall-go/verify"
)

const (
	merchant = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	payer    = "29d2S7vB453rNYFdR5Ycwt7y9haRT5fwVwL9zTmBhfV2"
	sigA     = "99eUso3aSbE9tqGSTXzo3TLfKb9RkMTURrHKQ1K7Zh3BbeqPevr5E1iCbpTjqHuTFLtfxTTD5ekfVuZFzQyEQf8"
	sigB     = "AKAh9LUoWFG2sxAMotzmLNpKwPTCiG6Q4YTwAinZMnkvYKPAKVPwYSfoQDp8XLKWzpbCNx66XB1BrcD1ZUPqU39"

	price = 10_000_000
)

type fixture struct {
	oracle   *chaintest.Oracle
	sessions *session.Issuer
	redeemer *redeem.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	oracle := chaintest.New()
	store := replay.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	sessions, err := session.NewIssuer(session.Config{Secret: strings.Repeat("k", 32)})
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
	return &fixture{oracle: oracle, sessions: sessions, redeemer: svc}
}

// pay records a confirmed transfer of lamports from payer to merchant.
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

func (f *fixture) config() Config {
	return Config{
		Sessions:  f.sessions,
		Redeemer:  f.redeemer,
		Protected: []string{"/articles/*"},
		Requirement: paywall.RequirementConfig{
			Network: paywall.NetworkDevnet,
			PayTo:   merchant,
			Amount:  price,
		},
	}
}

func (f *fixture) paywall(t *testing.T) *Paywall {
	t.Helper()
	p, err := New(f.config())
	if err != nil {
		t.Fatal(err)
	}
	return p
}
