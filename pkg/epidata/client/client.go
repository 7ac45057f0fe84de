// Package client is the remote query client: it holds one bridge to an
// engine for its whole lifetime and turns field queries and time ranges into
// engine invocations whose records come back as a table.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/log"
	"github.com/bascanada/epidata/pkg/metrics"
	"github.com/bascanada/epidata/pkg/query"
	"github.com/bascanada/epidata/pkg/table"
	"github.com/bascanada/epidata/pkg/ty"
)

type Options struct {
	// Name identifies the engine in logs and metrics.
	Name string
	// EntryPoint is sent with every invocation when set.
	EntryPoint string
	// KeyFields are the columns of ListKeys results. nil means
	// bridge.DefaultKeyFields; an empty non-nil slice keeps whatever the engine
	// returns.
	KeyFields []string
}

// Client is safe for concurrent use. Close releases the gateway; later calls
// fail with bridge.ErrClosed.
type Client struct {
	name       string
	entryPoint string
	keyFields  []string
	gateway    Gateway

	mu     sync.RWMutex
	closed bool
}

// New wraps an already opened gateway.
func New(gateway Gateway, opts Options) *Client {
	keyFields := opts.KeyFields
	if keyFields == nil {
		keyFields = bridge.DefaultKeyFields
	}
	metrics.EngineOpened()
	return &Client{
		name:       opts.Name,
		entryPoint: opts.EntryPoint,
		keyFields:  append([]string{}, keyFields...),
		gateway:    gateway,
	}
}

func (c *Client) Name() string {
	return c.name
}

// KeyFields returns the columns of ListKeys results.
func (c *Client) KeyFields() []string {
	return append([]string{}, c.keyFields...)
}

// QueryOriginal queries the primary measurement store over [begin, end).
func (c *Client) QueryOriginal(ctx context.Context, fq query.FieldQuery, begin, end time.Time) (*table.Table, error) {
	return c.Query(ctx, KindOriginal, fq, begin, end)
}

// QueryCleansed queries the cleansed view over [begin, end).
func (c *Client) QueryCleansed(ctx context.Context, fq query.FieldQuery, begin, end time.Time) (*table.Table, error) {
	return c.Query(ctx, KindCleansed, fq, begin, end)
}

// QuerySummary queries the summary view over [begin, end).
func (c *Client) QuerySummary(ctx context.Context, fq query.FieldQuery, begin, end time.Time) (*table.Table, error) {
	return c.Query(ctx, KindSummary, fq, begin, end)
}

// Query runs a measurement query of the given kind. Timestamps are sent as
// epoch milliseconds, fractions of a millisecond truncated.
func (c *Client) Query(ctx context.Context, kind Kind, fq query.FieldQuery, begin, end time.Time) (*table.Table, error) {
	method, err := kind.Method()
	if err != nil {
		return nil, err
	}

	encoded, err := fq.Encode()
	if err != nil {
		metrics.ObserveInvocation(c.name, method, metrics.OutcomeTranslation, 0, 0)
		return nil, err
	}

	beginMs, endMs := ty.EpochMillis(begin), ty.EpochMillis(end)
	records, err := c.invoke(ctx, bridge.Invocation{
		Method:     method,
		FieldQuery: encoded,
		BeginTime:  &beginMs,
		EndTime:    &endMs,
	})
	if err != nil {
		return nil, err
	}
	return table.FromRecords(records), nil
}

// ListKeys returns the distinct key-field combinations known to the engine.
// The table columns are exactly the key fields, even when it has no rows.
func (c *Client) ListKeys(ctx context.Context) (*table.Table, error) {
	records, err := c.invoke(ctx, bridge.Invocation{Method: bridge.MethodListKeys})
	if err != nil {
		return nil, err
	}
	if len(c.keyFields) == 0 {
		return table.FromRecords(records), nil
	}
	return table.FromRecordsWithColumns(records, c.keyFields), nil
}

func (c *Client) invoke(ctx context.Context, inv bridge.Invocation) ([]ty.MI, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, bridge.ErrClosed
	}

	if inv.EntryPoint == "" {
		inv.EntryPoint = c.entryPoint
	}

	start := time.Now()
	records, err := c.gateway.Invoke(ctx, inv)
	elapsed := time.Since(start)

	metrics.ObserveInvocation(c.name, inv.Method, outcome(err), elapsed, len(records))
	if err != nil {
		log.Debug("%s %s failed after %s: %v", c.name, inv.Method, elapsed, err)
		return nil, err
	}
	log.Debug("%s %s returned %d records in %s", c.name, inv.Method, len(records), elapsed)
	return records, nil
}

// Close releases the gateway; invocations still waiting fail with
// bridge.ErrClosed. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	metrics.EngineClosed()
	return c.gateway.Close()
}

func outcome(err error) string {
	var remote *bridge.RemoteError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &remote):
		return metrics.OutcomeRemoteError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeConnection
	}
}
