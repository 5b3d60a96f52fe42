package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	paywall "github.com/mark3labs/paywall-go"
	httppaywall "github.com/mark3labs/paywall-go/http"
	"github.com/mark3labs/paywall-go/mcp"
	"github.com/mark3labs/paywall-go/redeem"
)

// ReasonPaymentRequired is reported when a paid tool is called without
// payment or a session.
const ReasonPaymentRequired = "payment required to access this tool"

// paid wraps handler so it runs only for a valid session or a redeemed
// payment. The payment is redeemed before the tool runs and is not refunded
// if the tool fails; a failed call still returns the session and settlement.
func (s *Server) paid(req paywall.PaymentRequirement, handler mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	resourceID := req.Resource
	return func(ctx context.Context, call mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		meta := metaFields(call.Params.Meta)
		token, _ := meta[mcp.MetaKeySession].(string)

		if token != "" && s.config.Sessions.IsArticleUnlocked(token, resourceID) {
			return handler(ctx, call)
		}

		auth, ok, err := mcp.PaymentFromMeta(meta)
		if err != nil {
			s.logger.Warn("invalid payment metadata", "tool", call.Params.Name, "error", err)
			return paymentRequired(req, "invalid payment data", paywall.ErrCodeMalformedHeader)
		}
		if !ok {
			return paymentRequired(req, ReasonPaymentRequired, "")
		}

		result, err := s.config.Redeemer.Redeem(ctx, redeem.Request{
			Authorization: auth,
			Requirement:   req,
			ResourceID:    resourceID,
			ExistingToken: token,
		})
		if err != nil {
			var pe *paywall.PaymentError
			if errors.As(err, &pe) {
				s.logger.Info("tool payment rejected", "tool", call.Params.Name, "code", pe.Code, "reason", pe.Message)
				return paymentRequired(req, pe.Message, pe.Code)
			}
			return nil, fmt.Errorf("redeem payment for %s: %w", call.Params.Name, err)
		}

		s.logger.Info("tool payment redeemed",
			"tool", call.Params.Name,
			"signature", result.Settlement.Signature,
			"payer", result.Settlement.Payer)

		out, err := handler(ctx, call)
		if err != nil || out == nil {
			// The payment is spent; hand back the session so the caller can retry.
			msg := "tool returned no result"
			if err != nil {
				msg = err.Error()
			}
			s.logger.Warn("paid tool failed", "tool", call.Params.Name, "signature", result.Settlement.Signature, "error", msg)
			out = mcpproto.NewToolResultError(msg)
		}
		setMeta(out, mcp.MetaKeyPaymentResponse, result.Settlement)
		setMeta(out, mcp.MetaKeySession, result.Session.Token)
		return out, nil
	}
}

// paymentRequired builds the error result for a refused call. The challenge
// is both the text content and the structured content, and its encoded form
// goes in _meta for clients that pay from the header value.
func paymentRequired(req paywall.PaymentRequirement, reason string, code paywall.ErrorCode) (*mcpproto.CallToolResult, error) {
	body, encoded, err := httppaywall.NewPaymentRequired(req, reason, code)
	if err != nil {
		return nil, fmt.Errorf("build payment challenge: %w", err)
	}
	text, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal payment challenge: %w", err)
	}

	result := &mcpproto.CallToolResult{
		Content:           []mcpproto.Content{mcpproto.NewTextContent(string(text))},
		StructuredContent: body,
		IsError:           true,
	}
	setMeta(result, mcp.MetaKeyPaymentRequired, encoded)
	return result, nil
}

func metaFields(meta *mcpproto.Meta) map[string]any {
	if meta == nil {
		return nil
	}
	return meta.AdditionalFields
}

func setMeta(result *mcpproto.CallToolResult, key string, value any) {
	if result.Meta == nil {
		result.Meta = &mcpproto.Meta{}
	}
	if result.Meta.AdditionalFields == nil {
		result.Meta.AdditionalFields = make(map[string]any)
	}
	result.Meta.AdditionalFields[key] = value
}
