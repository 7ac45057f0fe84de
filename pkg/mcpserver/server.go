// Package mcpserver exposes the measurement queries as MCP tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bascanada/epidata/pkg/epidata/client"
	"github.com/bascanada/epidata/pkg/epidata/client/config"
	"github.com/bascanada/epidata/pkg/epidata/factory"
	"github.com/bascanada/epidata/pkg/query"
	"github.com/bascanada/epidata/pkg/ty"
)

// DefaultRowLimit caps the rows returned to the model when the call sets
// no limit.
const DefaultRowLimit = 500

// Bundle is a built MCP server with direct access to its tool handlers.
type Bundle struct {
	Server       *server.MCPServer
	ToolHandlers map[string]server.ToolHandlerFunc
}

type tools struct {
	config  *config.Config
	queries factory.QueryFactory
}

// Build registers the tools over the engines of cfg.
func Build(cfg *config.Config, engines factory.EngineFactory, version string) (*Bundle, error) {
	if cfg == nil {
		return nil, errors.New("mcp server needs a configuration")
	}

	t := &tools{config: cfg, queries: factory.GetQueryFactory(engines, *cfg)}

	s := server.NewMCPServer("epidata", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	bundle := &Bundle{Server: s, ToolHandlers: map[string]server.ToolHandlerFunc{}}

	add := func(tool mcp.Tool, h server.ToolHandlerFunc) {
		s.AddTool(tool, h)
		bundle.ToolHandlers[tool.Name] = h
	}

	add(mcp.NewTool("list_contexts",
		mcp.WithDescription("List the configured query contexts. A context names an engine, a query kind, saved field filters and a time range."),
	), t.listContexts)

	add(mcp.NewTool("list_keys",
		mcp.WithDescription("List the distinct measurement keys (company, site, device group, tester) known to an engine."),
		mcp.WithString("engine", mcp.Description("Engine name; may be omitted when only one engine is configured.")),
	), t.listKeys)

	add(mcp.NewTool("query_measurements",
		mcp.WithDescription("Query measurements over a time range [begin, end). Field filters match exact values; a list of values matches any of them."),
		mcp.WithString("kind",
			mcp.Description("original returns raw measurements, cleansed drops failed or flagged ones, summary aggregates per key."),
			mcp.Enum(string(client.KindOriginal), string(client.KindCleansed), string(client.KindSummary)),
		),
		mcp.WithString("contextId", mcp.Description("Context to start from; see list_contexts.")),
		mcp.WithString("engine", mcp.Description("Engine to query, overriding the context one.")),
		mcp.WithArray("inherits", mcp.Description("Saved queries to merge before the call arguments."), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithObject("fields", mcp.Description(`Field filters, e.g. {"company": "Company-1", "site": ["Site-1", "Site-2"]}.`)),
		mcp.WithString("begin", mcp.Description("Inclusive start, RFC3339 or a duration back from now such as 24h.")),
		mcp.WithString("end", mcp.Description("Exclusive end, RFC3339; defaults to now.")),
		mcp.WithString("last", mcp.Description("Window ending at end, e.g. 1h; wins over begin.")),
		mcp.WithObject("variables", mcp.Description("Values for the ${var} placeholders of the context.")),
		mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Maximum rows returned, default %d.", DefaultRowLimit))),
	), t.queryMeasurements)

	return bundle, nil
}

// ServeStdio runs the server over stdin and stdout until they close.
func (b *Bundle) ServeStdio() error {
	return server.ServeStdio(b.Server)
}

type contextEntry struct {
	ID           string                               `json:"id"`
	Engine       string                               `json:"engine"`
	Kind         string                               `json:"kind,omitempty"`
	Description  string                               `json:"description,omitempty"`
	QueryInherit []string                             `json:"queryInherit,omitempty"`
	Fields       query.FieldQuery                     `json:"fields,omitempty"`
	Range        query.RangeSpec                      `json:"range"`
	Variables    map[string]config.VariableDefinition `json:"variables,omitempty"`
}

func (t *tools) listContexts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries := []contextEntry{}
	for _, id := range t.config.ContextIDs() {
		qc := t.config.Contexts[id]
		entries = append(entries, contextEntry{
			ID:           id,
			Engine:       qc.Engine,
			Kind:         qc.Kind,
			Description:  qc.Description,
			QueryInherit: qc.QueryInherit,
			Fields:       qc.Query.Fields,
			Range:        qc.Query.Range,
			Variables:    qc.Query.Variables,
		})
	}
	return jsonResult(map[string]any{"contexts": entries})
}

func (t *tools) listKeys(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	engine := req.GetString("engine", "")
	if engine != "" {
		if _, ok := t.config.Engines[engine]; !ok {
			return t.unknown("engine", engine, sortedNames(t.config.Engines)), nil
		}
	}

	tbl, err := t.queries.ListKeys(ctx, engine)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("list_keys failed", err), nil
	}
	return jsonResult(map[string]any{"columns": tbl.Columns, "rows": tbl.Rows, "rowCount": tbl.Len()})
}

func (t *tools) queryMeasurements(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, limit, errResult := t.request(req)
	if errResult != nil {
		return errResult, nil
	}

	result, err := t.queries.Run(ctx, r)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("query_measurements failed", err), nil
	}

	rows := result.Table.Rows
	truncated := false
	if len(rows) > limit {
		rows = rows[:limit]
		truncated = true
	}

	return jsonResult(map[string]any{
		"engine":    result.Engine,
		"kind":      result.Kind,
		"range":     result.Range,
		"fields":    result.Fields,
		"columns":   result.Table.Columns,
		"rows":      rows,
		"rowCount":  result.Table.Len(),
		"truncated": truncated,
	})
}

// request turns the call arguments into a factory request. A non-nil
// result is the error to hand back to the model.
func (t *tools) request(req mcp.CallToolRequest) (factory.Request, int, *mcp.CallToolResult) {
	args := req.GetArguments()
	r := factory.Request{
		ContextID: req.GetString("contextId", ""),
		Engine:    req.GetString("engine", ""),
		Kind:      req.GetString("kind", ""),
	}

	if r.ContextID != "" {
		if _, ok := t.config.Contexts[r.ContextID]; !ok {
			return r, 0, t.unknown("context", r.ContextID, t.config.ContextIDs())
		}
	}
	if r.Engine != "" {
		if _, ok := t.config.Engines[r.Engine]; !ok {
			return r, 0, t.unknown("engine", r.Engine, sortedNames(t.config.Engines))
		}
	}
	if _, err := client.ParseKind(r.Kind); err != nil {
		return r, 0, mcp.NewToolResultError(err.Error())
	}

	r.Inherits = req.GetStringSlice("inherits", nil)
	for _, inherit := range r.Inherits {
		if _, ok := t.config.Queries[inherit]; !ok {
			return r, 0, t.unknown("saved query", inherit, sortedNames(t.config.Queries))
		}
	}

	if raw, ok := args["fields"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return r, 0, mcp.NewToolResultError("fields must be an object of field name to value or list of values")
		}
		fq, err := query.FromAny(m)
		if err != nil {
			return r, 0, mcp.NewToolResultError(err.Error())
		}
		r.Query.Fields = fq
	}

	for name, opt := range map[string]*ty.Opt[string]{
		"begin": &r.Query.Range.Begin,
		"end":   &r.Query.Range.End,
		"last":  &r.Query.Range.Last,
	} {
		if v := req.GetString(name, ""); v != "" {
			opt.S(v)
		}
	}

	if raw, ok := args["variables"].(map[string]any); ok {
		r.Variables = make(map[string]string, len(raw))
		for k, v := range raw {
			r.Variables[k] = fmt.Sprint(v)
		}
	}

	limit := req.GetInt("limit", DefaultRowLimit)
	if limit <= 0 {
		limit = DefaultRowLimit
	}
	return r, limit, nil
}

func (t *tools) unknown(what, name string, candidates []string) *mcp.CallToolResult {
	msg := fmt.Sprintf("unknown %s %q", what, name)
	if similar := suggestSimilar(name, candidates, 3); len(similar) > 0 {
		msg += "; did you mean " + strings.Join(similar, ", ") + "?"
	} else if len(candidates) > 0 {
		msg += "; available: " + strings.Join(candidates, ", ")
	}
	return mcp.NewToolResultError(msg)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	s, err := ty.ToJSONString(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(s), nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
