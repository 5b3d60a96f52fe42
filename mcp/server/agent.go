package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	mcpproto "github.com/mark3labs/mcp-go/mcp"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/agent"
	"github.com/mark3labs/paywall-go/encoding"
)

// Agent tool names.
const (
	ToolBalance             = "agent_balance"
	ToolPay                 = "agent_pay"
	ToolPayRequirement      = "agent_pay_requirement"
	ToolEstimatePriorityFee = "agent_estimate_priority_fee"
)

// Agent is the payment side exposed as tools. *agent.Executor implements it.
type Agent interface {
	Address() string
	Execute(ctx context.Context, req agent.PaymentRequest) agent.AgentPaymentResult
	PayRequirement(ctx context.Context, req paywall.PaymentRequirement, opts agent.PaymentRequest) agent.AgentPaymentResult
	Balance(ctx context.Context) (uint64, error)
	HasSufficientBalance(ctx context.Context, required uint64) (agent.BalanceCheck, error)
	EstimatePriorityFee(ctx context.Context, accounts ...string) (uint64, error)
}

// BalanceResult is the agent_balance tool output.
type BalanceResult struct {
	Address    string `json:"address"`
	Lamports   uint64 `json:"lamports"`
	Sol        string `json:"sol"`
	Required   uint64 `json:"required,omitempty"`
	Sufficient *bool  `json:"sufficient,omitempty"`
}

// RequirementPaymentResult is the agent_pay_requirement tool output.
// Authorization is the X-PAYMENT value to retry the original request with.
type RequirementPaymentResult struct {
	agent.AgentPaymentResult
	Authorization string `json:"authorization,omitempty"`
}

// AddAgentTools registers tools that let a model pay from the agent's wallet.
// maxAmount, when non-zero, caps every payment.
func (s *Server) AddAgentTools(a Agent, maxAmount uint64) {
	s.AddTool(mcpproto.NewTool(ToolBalance,
		mcpproto.WithDescription("Report the agent wallet balance in lamports and SOL"),
		mcpproto.WithString("required_lamports", mcpproto.Description("Check the balance covers this amount plus a fee buffer")),
	), func(ctx context.Context, call mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		return balanceTool(ctx, a, call)
	})

	s.AddTool(mcpproto.NewTool(ToolPay,
		mcpproto.WithDescription("Send lamports from the agent wallet and wait for confirmation"),
		mcpproto.WithString("recipient", mcpproto.Required(), mcpproto.Description("Recipient wallet address")),
		mcpproto.WithString("amount_lamports", mcpproto.Required(), mcpproto.Description("Amount in lamports")),
		mcpproto.WithString("memo", mcpproto.Description("Optional memo")),
		mcpproto.WithBoolean("priority_fee", mcpproto.Description("Attach an estimated priority fee")),
	), func(ctx context.Context, call mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		return payTool(ctx, a, maxAmount, call)
	})

	s.AddTool(mcpproto.NewTool(ToolPayRequirement,
		mcpproto.WithDescription("Pay an encoded PAYMENT-REQUIRED challenge and return the authorization to retry with"),
		mcpproto.WithString("requirement", mcpproto.Required(), mcpproto.Description("The PAYMENT-REQUIRED header value")),
		mcpproto.WithBoolean("priority_fee", mcpproto.Description("Attach an estimated priority fee")),
	), func(ctx context.Context, call mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		return payRequirementTool(ctx, a, maxAmount, call)
	})

	s.AddTool(mcpproto.NewTool(ToolEstimatePriorityFee,
		mcpproto.WithDescription("Estimate a priority fee in micro-lamports per compute unit"),
	), func(ctx context.Context, call mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		return estimateFeeTool(ctx, a)
	})
}

func estimateFeeTool(ctx context.Context, a Agent) (*mcpproto.CallToolResult, error) {
	fee, err := a.EstimatePriorityFee(ctx)
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]uint64{"microLamports": fee}, false)
}

func balanceTool(ctx context.Context, a Agent, call mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	args := call.GetArguments()
	out := BalanceResult{Address: a.Address()}

	if _, ok := args["required_lamports"]; ok {
		required, err := uintArg(args, "required_lamports")
		if err != nil {
			return mcpproto.NewToolResultError(err.Error()), nil
		}
		check, err := a.HasSufficientBalance(ctx, required)
		if err != nil {
			return mcpproto.NewToolResultError(err.Error()), nil
		}
		out.Lamports = check.Balance
		out.Required = check.Required
		out.Sufficient = &check.Sufficient
	} else {
		balance, err := a.Balance(ctx)
		if err != nil {
			return mcpproto.NewToolResultError(err.Error()), nil
		}
		out.Lamports = balance
	}
	out.Sol = agent.LamportsToSol(out.Lamports).String()
	return jsonResult(out, false)
}

func payTool(ctx context.Context, a Agent, maxAmount uint64, call mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	args := call.GetArguments()
	recipient, _ := args["recipient"].(string)
	amount, err := uintArg(args, "amount_lamports")
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}
	if maxAmount > 0 && amount > maxAmount {
		return mcpproto.NewToolResultError(fmt.Sprintf("amount %d exceeds limit %d", amount, maxAmount)), nil
	}
	memo, _ := args["memo"].(string)

	req := agent.PaymentRequest{Recipient: recipient, AmountLamports: amount, Memo: memo}
	if err := priorityFee(ctx, a, args, &req); err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}
	result := a.Execute(ctx, req)
	return jsonResult(result, !result.Success)
}

func payRequirementTool(ctx context.Context, a Agent, maxAmount uint64, call mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	args := call.GetArguments()
	encoded, _ := args["requirement"].(string)
	req, err := encoding.DecodeRequirement(encoded)
	if err != nil {
		return mcpproto.NewToolResultError(fmt.Sprintf("invalid requirement: %v", err)), nil
	}
	if err := req.Validate(); err != nil {
		return mcpproto.NewToolResultError(fmt.Sprintf("invalid requirement: %v", err)), nil
	}
	if maxAmount > 0 && req.Amount > maxAmount {
		return mcpproto.NewToolResultError(fmt.Sprintf("amount %d exceeds limit %d", req.Amount, maxAmount)), nil
	}

	var opts agent.PaymentRequest
	if err := priorityFee(ctx, a, args, &opts); err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}
	out := RequirementPaymentResult{AgentPaymentResult: a.PayRequirement(ctx, req, opts)}
	if !out.Success {
		return jsonResult(out, true)
	}

	out.Authorization, err = encoding.EncodeAuthorization(paywall.Authorization{
		AcceptedRequirement: req,
		Client:              paywall.ClientInfo{Scheme: req.Scheme, Network: req.Network},
		Payment:             paywall.PaymentProof{Signature: out.Signature},
	})
	if err != nil {
		return nil, fmt.Errorf("encode authorization: %w", err)
	}
	return jsonResult(out, false)
}

func priorityFee(ctx context.Context, a Agent, args map[string]any, req *agent.PaymentRequest) error {
	if enabled, _ := args["priority_fee"].(bool); !enabled {
		return nil
	}
	fee, err := a.EstimatePriorityFee(ctx)
	if err != nil {
		return err
	}
	req.PriorityFee = &agent.PriorityFee{MicroLamports: fee}
	return nil
}

// uintArg reads a non-negative integer sent either as a decimal string or as
// a JSON number.
func uintArg(args map[string]any, key string) (uint64, error) {
	switch v := args[key].(type) {
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid amount %q", key, v)
		}
		return n, nil
	case float64:
		if v < 0 || v != math.Trunc(v) || v > (1<<53) {
			return 0, fmt.Errorf("%s: invalid amount %v", key, v)
		}
		return uint64(v), nil
	case nil:
		return 0, fmt.Errorf("%s is required", key)
	default:
		return 0, fmt.Errorf("%s: unexpected type %T", key, v)
	}
}

func jsonResult(v any, isError bool) (*mcpproto.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	result := mcpproto.NewToolResultText(string(data))
	result.IsError = isError
	return result, nil
}
