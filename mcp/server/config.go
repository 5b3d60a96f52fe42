package server

import (
	"context"
	"log/slog"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/redeem"
	"github.com/mark3labs/paywall-go/session"
)

// Redeemer redeems payment authorizations. *redeem.Service implements it.
type Redeemer interface {
	Redeem(ctx context.Context, req redeem.Request) (redeem.Result, error)
}

// Config holds configuration for the MCP server. Redeemer and Sessions are
// only required once a payable tool is added.
type Config struct {
	Redeemer Redeemer
	Sessions *session.Issuer
	Logger   *slog.Logger

	// PaymentTools maps tool names to their requirement. AddPayableTool
	// fills it in.
	PaymentTools map[string]paywall.PaymentRequirement
}

// DefaultConfig returns a Config with no payable tools.
func DefaultConfig() *Config {
	return &Config{
		PaymentTools: make(map[string]paywall.PaymentRequirement),
	}
}

// RequiresPayment checks if a tool requires payment.
func (c *Config) RequiresPayment(toolName string) bool {
	_, ok := c.PaymentTools[toolName]
	return ok
}

// PaymentRequirement returns the requirement for a tool.
func (c *Config) PaymentRequirement(toolName string) (paywall.PaymentRequirement, bool) {
	req, ok := c.PaymentTools[toolName]
	return req, ok
}
