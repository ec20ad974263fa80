package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Chain tries each method in order and accepts the first success.
type Chain struct {
	methods []Method
	logger  *slog.Logger
}

// NewChain creates a chain over methods.
func NewChain(methods []Method, logger *slog.Logger) (chain *Chain) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	chain = &Chain{
		methods: methods,
		logger:  logger,
	}

	return chain
}

// Methods returns the names of the configured methods in order.
func (c *Chain) Methods() (names []string) {
	for _, method := range c.methods {
		names = append(names, method.Name())
	}

	return names
}

// Authenticate returns the result of the first method that accepts r.
// An empty chain accepts every request as anonymous.
func (c *Chain) Authenticate(r *http.Request) (result *Result, err error) {
	if len(c.methods) == 0 {
		result = &Result{
			Authenticated: true,
			Method:        "none",
			Username:      "anonymous",
		}
		return result, err
	}

	var failures []error
	for _, method := range c.methods {
		result, err = method.Authenticate(r)
		if err == nil {
			c.logger.Debug("authenticated MCP client",
				slog.String("method", method.Name()),
				slog.String("username", result.Username))
			return result, nil
		}

		failures = append(failures, fmt.Errorf("%s: %w", method.Name(), err))
	}

	err = fmt.Errorf("all authentication methods failed: %w", errors.Join(failures...))
	return nil, err
}

// Name returns the chain name.
func (c *Chain) Name() (name string) {
	name = "auth-chain"
	return name
}
