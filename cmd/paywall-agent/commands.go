package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/agent"
	"github.com/mark3labs/paywall-go/chain"
	httppaywall "github.com/mark3labs/paywall-go/http"
	mcpserver "github.com/mark3labs/paywall-go/mcp/server"
)

type options struct {
	network        string
	rpcURL         string
	fallbackRPCs   []string
	enableFallback bool
	priorityFees   bool
	key            string
	timeout        time.Duration

	logger *slog.Logger

	// oracle, when set, replaces the RPC registry.
	oracle chain.Oracle
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	return newCommand(&options{logger: logger})
}

func newCommand(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:          "paywall-agent",
		Short:        "Pay Solana HTTP 402 paywalls from an agent wallet",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.network, "network", envOr("PAYWALL_NETWORK", "devnet"), "network (devnet, mainnet)")
	flags.StringVar(&opts.rpcURL, "rpc-url", os.Getenv("PAYWALL_RPC_URL"), "RPC endpoint override")
	flags.StringSliceVar(&opts.fallbackRPCs, "fallback-rpc", nil, "fallback RPC endpoints")
	flags.BoolVar(&opts.enableFallback, "enable-fallback", envBool("PAYWALL_ENABLE_RPC_FALLBACK"), "use fallback RPC endpoints")
	flags.BoolVar(&opts.priorityFees, "priority-fees", envBool("PAYWALL_ENABLE_PRIORITY_FEES"), "attach an estimated priority fee")
	flags.StringVar(&opts.key, "key", os.Getenv("PAYWALL_AGENT_KEY"), "agent key: base58 secret, keygen JSON file or mnemonic")
	flags.DurationVar(&opts.timeout, "timeout", 90*time.Second, "overall command timeout")

	root.AddCommand(
		newBalanceCmd(opts),
		newPayCmd(opts),
		newFetchCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func (o *options) executor() (*agent.Executor, error) {
	network, err := paywall.ParseNetwork(o.network)
	if err != nil {
		return nil, err
	}
	key, err := agent.LoadKey(o.key)
	if err != nil {
		return nil, fmt.Errorf("load agent key: %w", err)
	}

	oracle := o.oracle
	if oracle == nil {
		cfg, err := paywall.ChainConfigFor(network)
		if err != nil {
			return nil, err
		}
		if o.rpcURL != "" {
			cfg.RPCURL = o.rpcURL
		}
		cfg.FallbackRPCURLs = o.fallbackRPCs
		registry, err := chain.NewRegistry([]paywall.ChainConfig{cfg},
			chain.WithFallback(o.enableFallback),
			chain.WithRegistryLogger(o.logger))
		if err != nil {
			return nil, err
		}
		if oracle, err = registry.Oracle(network); err != nil {
			return nil, err
		}
	}

	return agent.NewExecutor(agent.Config{
		Oracle:  oracle,
		Key:     key,
		Network: network,
		Logger:  o.logger,
	})
}

// paymentOptions returns the per-payment settings shared by pay and fetch.
func (o *options) paymentOptions(ctx context.Context, e *agent.Executor) agent.PaymentRequest {
	var req agent.PaymentRequest
	if !o.priorityFees {
		return req
	}
	fee, err := e.EstimatePriorityFee(ctx)
	if err != nil {
		o.logger.Warn("priority fee estimate failed, sending without", "error", err)
		return req
	}
	req.PriorityFee = &agent.PriorityFee{MicroLamports: fee}
	return req
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newBalanceCmd(opts *options) *cobra.Command {
	var required uint64
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the agent wallet balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.executor()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			check, err := e.HasSufficientBalance(ctx, required)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"address":    e.Address(),
				"lamports":   check.Balance,
				"sol":        agent.LamportsToSol(check.Balance).String(),
				"required":   check.Required,
				"sufficient": check.Sufficient,
			})
		},
	}
	cmd.Flags().Uint64Var(&required, "required", 0, "lamports the next payment needs")
	return cmd
}

func newPayCmd(opts *options) *cobra.Command {
	var memo string
	cmd := &cobra.Command{
		Use:   "pay <recipient> <lamports>",
		Short: "Send lamports and wait for confirmation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			e, err := opts.executor()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			req := opts.paymentOptions(ctx, e)
			req.Recipient = args[0]
			req.AmountLamports = amount
			req.Memo = memo

			result := e.Execute(ctx, req)
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return errors.New(result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&memo, "memo", "", "memo attached to the transfer")
	return cmd
}

func newFetchCmd(opts *options) *cobra.Command {
	var maxAmount uint64
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "GET a URL, paying its paywall if it answers 402",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.executor()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			client, err := httppaywall.NewClient(
				httppaywall.WithPayer(e),
				httppaywall.WithMaxAmount(maxAmount),
				httppaywall.WithPaymentOptions(opts.paymentOptions(ctx, e)),
				httppaywall.WithPaymentCallback(paywall.PaymentEventSuccess, func(ev paywall.PaymentEvent) {
					fmt.Fprintf(cmd.ErrOrStderr(), "paid %d to %s (%s)\n", ev.Amount, ev.Recipient, ev.Signature)
				}),
			)
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, args[0], nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if settlement := httppaywall.GetSettlement(resp); settlement != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "settlement: success=%v signature=%s payer=%s\n",
					settlement.Success, settlement.Signature, settlement.Payer)
			}
			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return err
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("server answered %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&maxAmount, "max-amount", 0, "refuse paywalls priced above this many base units (0 = no limit)")
	return cmd
}

func newMCPCmd(opts *options) *cobra.Command {
	var (
		addr      string
		maxAmount uint64
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the agent wallet as MCP tools over streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.executor()
			if err != nil {
				return err
			}
			s := mcpserver.NewServer("paywall-agent", "0.1.0", &mcpserver.Config{Logger: opts.logger})
			s.AddAgentTools(e, maxAmount)
			fmt.Fprintf(cmd.ErrOrStderr(), "agent %s serving MCP on %s\n", e.Address(), addr)
			return s.Start(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8090", "listen address")
	cmd.Flags().Uint64Var(&maxAmount, "max-amount", 0, "cap per payment in base units (0 = no limit)")
	return cmd
}
