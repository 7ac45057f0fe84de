package factory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bascanada/epidata/pkg/epidata/client"
	"github.com/bascanada/epidata/pkg/epidata/client/config"
	"github.com/bascanada/epidata/pkg/query"
	"github.com/bascanada/epidata/pkg/table"
)

// ErrNoEngine is returned when a request names no engine and the
// configuration offers more than one.
var ErrNoEngine = errors.New("no engine selected")

// Request is a measurement query as issued by the CLI, the HTTP server or
// the MCP tools. Either ContextID or Engine must point at an engine.
type Request struct {
	ContextID string            `json:"contextId,omitempty"`
	Inherits  []string          `json:"inherits,omitempty"`
	Engine    string            `json:"engine,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Query     config.Query      `json:"query"`
	Variables map[string]string `json:"variables,omitempty"`
}

// Result is a resolved request and its table.
type Result struct {
	Engine string           `json:"engine"`
	Kind   client.Kind      `json:"kind"`
	Range  query.TimeRange  `json:"range"`
	Fields query.FieldQuery `json:"fields"`
	Table  *table.Table     `json:"table"`
}

// QueryFactory resolves requests against the configuration and runs them on
// the engine clients.
type QueryFactory interface {
	GetQueryContext(contextID string, inherits []string, override config.Query, runtimeVars map[string]string) (*config.QueryContext, error)
	Resolve(req Request) (*config.QueryContext, error)
	Run(ctx context.Context, req Request) (*Result, error)
	ListKeys(ctx context.Context, engine string) (*table.Table, error)
}

type queryFactory struct {
	engines EngineFactory
	config  config.Config
	now     func() time.Time
}

// GetQueryFactory ties a configuration to its engines.
func GetQueryFactory(engines EngineFactory, cfg config.Config) QueryFactory {
	return &queryFactory{engines: engines, config: cfg, now: time.Now}
}

func (qf *queryFactory) GetQueryContext(contextID string, inherits []string, override config.Query, runtimeVars map[string]string) (*config.QueryContext, error) {
	qc, err := qf.config.GetQueryContext(contextID, inherits, override, runtimeVars)
	if err != nil {
		return nil, err
	}
	return &qc, nil
}

// Resolve merges the request with its context, if any, and picks the
// engine: the request engine wins over the context one, and a single
// configured engine is used when neither names one.
func (qf *queryFactory) Resolve(req Request) (*config.QueryContext, error) {
	var qc config.QueryContext
	if req.ContextID != "" {
		resolved, err := qf.GetQueryContext(req.ContextID, req.Inherits, req.Query, req.Variables)
		if err != nil {
			return nil, err
		}
		qc = *resolved
	} else {
		qc.Query = config.Query{}
		for _, inherit := range req.Inherits {
			base, ok := qf.config.Queries[inherit]
			if !ok {
				return nil, fmt.Errorf("failed to find a query for %s", inherit)
			}
			qc.Query.Merge(&base)
		}
		qc.Query.Merge(&req.Query)
		qc.Query.Fields = qc.Query.Fields.ResolveVariablesWith(req.Variables)
	}

	if req.Engine != "" {
		qc.Engine = req.Engine
	}
	if req.Kind != "" {
		qc.Kind = req.Kind
	}
	if qc.Engine == "" {
		names := qf.engines.Names()
		if len(names) != 1 {
			return nil, fmt.Errorf("%w: use a context or pick one of %v", ErrNoEngine, names)
		}
		qc.Engine = names[0]
	}
	return &qc, nil
}

func (qf *queryFactory) Run(ctx context.Context, req Request) (*Result, error) {
	qc, err := qf.Resolve(req)
	if err != nil {
		return nil, err
	}

	kind, err := client.ParseKind(qc.Kind)
	if err != nil {
		return nil, err
	}

	tr, err := qc.Query.Range.Resolve(qf.now())
	if err != nil {
		return nil, err
	}

	c, err := qf.engines.Get(qc.Engine)
	if err != nil {
		return nil, err
	}

	fields := qc.Query.Fields
	if fields == nil {
		fields = query.FieldQuery{}
	}

	t, err := c.Query(ctx, kind, fields, tr.Begin, tr.End)
	if err != nil {
		return nil, err
	}

	return &Result{Engine: qc.Engine, Kind: kind, Range: tr, Fields: fields, Table: t}, nil
}

// ListKeys lists the keys of engine; an empty name picks the single
// configured engine.
func (qf *queryFactory) ListKeys(ctx context.Context, engine string) (*table.Table, error) {
	if engine == "" {
		names := qf.engines.Names()
		if len(names) != 1 {
			return nil, fmt.Errorf("%w: pick one of %v", ErrNoEngine, names)
		}
		engine = names[0]
	}
	c, err := qf.engines.Get(engine)
	if err != nil {
		return nil, err
	}
	return c.ListKeys(ctx)
}
