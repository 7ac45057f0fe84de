// Package remote reaches an engine exposed behind an HTTP gateway
// answering "POST /invoke".
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/http"
	"github.com/bascanada/epidata/pkg/log"
	"github.com/bascanada/epidata/pkg/ty"
)

type Options struct {
	Endpoint   string        `json:"endpoint"`
	Headers    ty.MS         `json:"headers"`
	EntryPoint string        `json:"entryPoint"`
	Insecure   bool          `json:"insecure"`
	Timeout    time.Duration `json:"timeout"`
	// SkipReady does not probe GET /ready when the gateway is opened.
	SkipReady bool `json:"skipReady"`
}

// Gateway invokes engine operations over HTTP. It holds no connection of
// its own; Close only prevents further invocations.
type Gateway struct {
	client     http.HttpClient
	auth       http.Auth
	entryPoint string
	ready      bridge.ReadyPayload
	closed     atomic.Bool
}

// Open validates the options and checks that the gateway is reachable.
func Open(ctx context.Context, opts Options) (*Gateway, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, fmt.Errorf("%w: endpoint is missing for the remote engine", bridge.ErrLaunch)
	}

	g := &Gateway{
		client:     http.GetClient(opts.Endpoint, &http.ClientOptions{Timeout: opts.Timeout, Insecure: opts.Insecure}),
		auth:       http.HeaderAuth{Headers: opts.Headers},
		entryPoint: opts.EntryPoint,
	}

	if opts.SkipReady {
		return g, nil
	}

	if err := g.client.Get(ctx, "/ready", nil, nil, &g.ready, g.auth); err != nil {
		return nil, fmt.Errorf("%w: %s is not reachable: %w", bridge.ErrLaunch, g.client.URL(), err)
	}
	if opts.EntryPoint != "" && g.ready.EntryPoint != "" && g.ready.EntryPoint != opts.EntryPoint {
		return nil, fmt.Errorf("%w: gateway serves entry point %s, expected %s", bridge.ErrLaunch, g.ready.EntryPoint, opts.EntryPoint)
	}
	log.Info("remote engine %s ready, entry point %s %s", g.client.URL(), g.ready.EntryPoint, g.ready.Version)
	return g, nil
}

// Ready returns what the gateway announced on GET /ready.
func (g *Gateway) Ready() bridge.ReadyPayload {
	return g.ready
}

func (g *Gateway) Invoke(ctx context.Context, inv bridge.Invocation) ([]ty.MI, error) {
	if g.closed.Load() {
		return nil, bridge.ErrClosed
	}
	if inv.EntryPoint == "" {
		inv.EntryPoint = g.entryPoint
	}

	var response bridge.ResponsePayload
	err := g.client.PostJson(ctx, "/invoke", nil, inv, &response, g.auth)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var statusErr *http.StatusError
		if errors.As(err, &statusErr) {
			return nil, toRemoteError(inv.Method, statusErr)
		}
		return nil, fmt.Errorf("%w: %s: %w", bridge.ErrLaunch, g.client.URL(), err)
	}

	if response.Records == nil {
		response.Records = []ty.MI{}
	}
	return response.Records, nil
}

func (g *Gateway) Close() error {
	g.closed.Store(true)
	return nil
}

func toRemoteError(method string, statusErr *http.StatusError) *bridge.RemoteError {
	var payload bridge.ErrorPayload
	if err := json.Unmarshal(statusErr.Body, &payload); err == nil && payload.Message != "" {
		return &bridge.RemoteError{Method: method, Message: payload.Message, Code: payload.Code, Stack: payload.Stack}
	}
	return &bridge.RemoteError{
		Method:  method,
		Message: string(bytes.TrimSpace(statusErr.Body)),
		Code:    fmt.Sprintf("HTTP_%d", statusErr.StatusCode),
	}
}
