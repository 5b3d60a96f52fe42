package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/encoding"
	"github.com/mark3labs/paywall-go/events"
	httppaywall "github.com/mark3labs/paywall-go/http"
	ginpaywall "github.com/mark3labs/paywall-go/http/gin"
	mcpserver "github.com/mark3labs/paywall-go/mcp/server"
	"github.com/mark3labs/paywall-go/metrics"
	"github.com/mark3labs/paywall-go/redeem"
	"github.com/mark3labs/paywall-go/replay"
	"github.com/mark3labs/paywall-go/session"
	"github.com/mark3labs/paywall-go/verify"
)

const (
	version         = "0.1.0"
	creditsResource = "/api/credits/purchase"
	bundleValidity  = 30 * 24 * time.Hour
)

// deps are the collaborators run builds from the environment and tests build
// in memory.
type deps struct {
	Oracles  verify.OracleSource
	Store    replay.Store
	Events   events.Publisher
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

type app struct {
	cfg      Config
	logger   *slog.Logger
	sessions *session.Issuer
	redeemer *redeem.Service
	paywall  *httppaywall.Paywall
	limiter  *paymentLimiter
	mcp      *mcpserver.Server
	registry *prometheus.Registry

	bundle paywall.PaymentRequirement
}

func newApp(cfg Config, d deps) (*app, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	recorder, err := metrics.NewPrometheusRecorder(d.Registry)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewIssuer(session.Config{
		Secret:   cfg.SessionSecret,
		Duration: cfg.SessionDuration,
		Cookie:   session.CookieSettings{Production: cfg.Production},
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	redeemer, err := redeem.New(redeem.Config{
		Verifier: verify.New(d.Oracles, verify.WithLogger(logger), verify.WithOwnerCache(5*time.Minute)),
		Store:    d.Store,
		Sessions: sessions,
		Metrics:  recorder,
		Events:   d.Events,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	p, err := httppaywall.New(httppaywall.Config{
		Sessions:  sessions,
		Redeemer:  redeemer,
		Protected: cfg.Protected,
		Requirement: paywall.RequirementConfig{
			Network: cfg.Network,
			PayTo:   cfg.CreatorWallet,
			Amount:  cfg.DefaultPrice,
		},
		SiteWide: cfg.SiteWide,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		redeemer: redeemer,
		paywall:  p,
		limiter:  newPaymentLimiter(cfg.RateLimit, cfg.RateBurst),
		registry: d.Registry,
	}

	if cfg.CreditBundleSize > 0 {
		a.bundle, err = paywall.BuildPaymentRequirement(paywall.RequirementConfig{
			Network:     cfg.Network,
			PayTo:       cfg.CreatorWallet,
			Amount:      cfg.CreditBundlePrice,
			Resource:    creditsResource,
			Description: "Credit bundle",
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.EnableMCP {
		a.mcp = mcpserver.NewServer("paywalld", version, &mcpserver.Config{
			Redeemer: redeemer,
			Sessions: sessions,
			Logger:   logger,
		})
		err = a.mcp.AddPayableTool(mcpproto.NewTool("read_article",
			mcpproto.WithDescription("Read a premium article"),
			mcpproto.WithString("id", mcpproto.Required(), mcpproto.Description("Article id")),
		), a.readArticleTool, paywall.RequirementConfig{
			Network: cfg.Network,
			PayTo:   cfg.CreatorWallet,
			Amount:  cfg.DefaultPrice,
		})
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":      "paywalld",
			"version":   version,
			"network":   a.cfg.Network,
			"protected": a.cfg.Protected,
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	gated := r.Group("/", a.limiter.Middleware(), ginpaywall.Middleware(a.paywall))
	gated.GET("/articles/:id", a.article)

	api := r.Group("/api")
	api.GET("/session", a.currentSession)
	api.POST("/logout", a.logout)
	if a.cfg.CreditBundleSize > 0 {
		api.POST("/credits/purchase", a.limiter.Middleware(), a.purchaseCredits)
		api.POST("/credits/use", a.useCredits)
	}

	if a.mcp != nil {
		r.Any("/mcp", gin.WrapH(a.mcp.Handler()))
	}
	return r
}

func (a *app) article(c *gin.Context) {
	body := gin.H{
		"id":      c.Param("id"),
		"title":   "Article " + c.Param("id"),
		"content": articleContent(c.Param("id")),
	}
	if v, ok := c.Get(ginpaywall.SessionKey); ok {
		if s, ok := v.(*session.SessionData); ok {
			body["wallet"] = s.WalletAddress
			body["expiresAt"] = s.ExpiresAt
		}
	}
	c.JSON(http.StatusOK, body)
}

func articleContent(id string) string {
	return "Premium content for article " + id + "."
}

func (a *app) readArticleTool(ctx context.Context, call mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	id, _ := call.GetArguments()["id"].(string)
	if strings.TrimSpace(id) == "" {
		return mcpproto.NewToolResultError("id is required"), nil
	}
	return mcpproto.NewToolResultText(articleContent(id)), nil
}

func (a *app) currentSession(c *gin.Context) {
	token := httppaywall.SessionToken(ginpaywall.Source{C: c}, a.sessions.CookieName())
	if token == "" {
		c.JSON(http.StatusUnauthorized, httppaywall.ErrorResponse{Error: httppaywall.ReasonSessionRequired})
		return
	}
	v := a.sessions.Validate(token)
	if !v.Valid {
		c.JSON(http.StatusUnauthorized, httppaywall.ErrorResponse{Error: v.Reason, Code: paywall.ErrCodeSessionInvalid})
		return
	}
	c.JSON(http.StatusOK, v.Session)
}

func (a *app) logout(c *gin.Context) {
	http.SetCookie(c.Writer, a.sessions.ClearCookie())
	c.Status(http.StatusNoContent)
}

func (a *app) purchaseCredits(c *gin.Context) {
	header := c.GetHeader(httppaywall.HeaderPayment)
	if header == "" {
		a.challenge(c, a.bundle, "payment required for credit bundle", "")
		return
	}
	auth, err := encoding.DecodeAuthorization(header)
	if err != nil {
		c.JSON(http.StatusBadRequest, httppaywall.ErrorResponse{Error: "Invalid payment header", Code: paywall.ErrCodeMalformedHeader})
		return
	}

	result, err := a.redeemer.Redeem(c.Request.Context(), redeem.Request{
		Authorization: auth,
		Requirement:   a.bundle,
		ResourceID:    creditsResource,
	})
	if err != nil {
		var pe *paywall.PaymentError
		switch {
		case errors.As(err, &pe) && pe.Code == paywall.ErrCodeNetworkError:
			c.JSON(http.StatusServiceUnavailable, httppaywall.ErrorResponse{Error: pe.Message, Code: pe.Code})
		case errors.As(err, &pe):
			a.challenge(c, a.bundle, pe.Message, pe.Code)
		default:
			a.logger.Error("credit purchase failed", "error", err)
			c.JSON(http.StatusInternalServerError, httppaywall.ErrorResponse{Error: "internal error"})
		}
		return
	}

	expiry := time.Now().Add(bundleValidity)
	tok, err := a.sessions.CreateCredit(result.Settlement.Payer, a.cfg.CreditBundleSize, session.Bundle{
		Type:   "standard",
		Expiry: &expiry,
	})
	if err != nil {
		a.logger.Error("failed to issue credit token after payment", "signature", result.Settlement.Signature, "error", err)
		c.JSON(http.StatusInternalServerError, httppaywall.ErrorResponse{Error: "failed to issue credits", Code: paywall.ErrCodeSessionInvalid})
		return
	}
	if err := httppaywall.AddPaymentResponseHeader(c.Writer.Header(), result.Settlement); err != nil {
		a.logger.Warn("failed to add payment response header", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"token":   tok.Token,
		"credits": tok.Session.Credits,
	})
}

type useCreditsRequest struct {
	Amount int `json:"amount" validate:"required,gt=0"`
}

func (a *app) useCredits(c *gin.Context) {
	token := httppaywall.SessionToken(ginpaywall.Source{C: c}, a.sessions.CookieName())
	if token == "" {
		c.JSON(http.StatusUnauthorized, httppaywall.ErrorResponse{Error: httppaywall.ReasonSessionRequired})
		return
	}
	var req useCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httppaywall.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, httppaywall.ErrorResponse{Error: session.ReasonInvalidCreditAmount})
		return
	}

	result := a.sessions.UseCredit(token, req.Amount)
	if !result.Success {
		status := http.StatusPaymentRequired
		if result.Reason == session.ReasonInvalid {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": result.Reason, "remaining": result.RemainingCredits})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": result.Token, "remaining": result.RemainingCredits})
}

func (a *app) challenge(c *gin.Context, req paywall.PaymentRequirement, reason string, code paywall.ErrorCode) {
	body, encoded, err := httppaywall.NewPaymentRequired(req, reason, code)
	if err != nil {
		a.logger.Error("failed to encode payment requirement", "error", err)
		c.JSON(http.StatusInternalServerError, httppaywall.ErrorResponse{Error: "internal error"})
		return
	}
	c.Header(httppaywall.HeaderPaymentRequired, encoded)
	c.JSON(http.StatusPaymentRequired, body)
}
