package chain

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	paywall "github.com/mark3labs/paywall-go"
)

// Factory builds an oracle for one endpoint.
type Factory func(endpoint string) Oracle

// Registry owns one oracle per network. It is created by the application's
// composition root and passed to verifiers and executors; there is no
// package-level client cache.
type Registry struct {
	mu             sync.RWMutex
	configs        map[string]paywall.ChainConfig
	oracles        map[string]Oracle
	enableFallback bool
	factory        Factory
	logger         *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFallback enables the configured fallback RPC URLs. Off by default.
func WithFallback(enabled bool) RegistryOption {
	return func(r *Registry) {
		r.enableFallback = enabled
	}
}

// WithFactory replaces the oracle constructor (defaults to NewRPCOracle).
func WithFactory(factory Factory) RegistryOption {
	return func(r *Registry) {
		if factory != nil {
			r.factory = factory
		}
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a registry for the given chain configurations.
func NewRegistry(configs []paywall.ChainConfig, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		configs: make(map[string]paywall.ChainConfig),
		oracles: make(map[string]Oracle),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.factory == nil {
		logger := r.logger
		r.factory = func(endpoint string) Oracle {
			return NewRPCOracle(endpoint, WithLogger(logger))
		}
	}
	for _, cfg := range configs {
		if err := r.Register(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces the configuration of a network. The cached oracle
// is dropped only when the configuration actually changed.
func (r *Registry) Register(cfg paywall.ChainConfig) error {
	if err := paywall.ValidateNetwork(cfg.Network); err != nil {
		return err
	}
	if cfg.RPCURL == "" {
		return fmt.Errorf("rpcURL: cannot be empty for %s", cfg.Network)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.configs[cfg.Network]; ok && sameConfig(old, cfg) {
		return nil
	}
	r.configs[cfg.Network] = cfg
	delete(r.oracles, cfg.Network)
	return nil
}

// Set installs a ready-made oracle for network, bypassing the factory.
func (r *Registry) Set(network string, oracle Oracle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oracles[network] = oracle
}

// Oracle returns the oracle for network, creating it on first use.
func (r *Registry) Oracle(network string) (Oracle, error) {
	r.mu.RLock()
	o, ok := r.oracles[network]
	r.mu.RUnlock()
	if ok {
		return o, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.oracles[network]; ok {
		return o, nil
	}
	cfg, ok := r.configs[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", paywall.ErrUnsupportedNetwork, network)
	}

	o = r.build(cfg)
	r.oracles[network] = o
	return o, nil
}

// Config returns the configuration registered for network.
func (r *Registry) Config(network string) (paywall.ChainConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[network]
	return cfg, ok
}

func (r *Registry) build(cfg paywall.ChainConfig) Oracle {
	primary := r.factory(cfg.RPCURL)
	if !r.enableFallback || len(cfg.FallbackRPCURLs) == 0 {
		return primary
	}

	oracles := []Oracle{primary}
	for _, url := range cfg.FallbackRPCURLs {
		if url == "" || url == cfg.RPCURL {
			continue
		}
		oracles = append(oracles, r.factory(url))
	}
	r.logger.Info("rpc fallback enabled", "network", cfg.Network, "endpoints", len(oracles))
	return NewFallbackOracle(r.logger, oracles...)
}

func sameConfig(a, b paywall.ChainConfig) bool {
	return a.Network == b.Network &&
		a.RPCURL == b.RPCURL &&
		a.USDCMint == b.USDCMint &&
		slices.Equal(a.FallbackRPCURLs, b.FallbackRPCURLs)
}
