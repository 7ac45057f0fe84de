package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bascanada/epidata/pkg/epidata/client/config"
	"github.com/bascanada/epidata/pkg/epidata/factory"
	"github.com/bascanada/epidata/pkg/query"
	"github.com/bascanada/epidata/pkg/ty"
)

// QueryResponse is the body of a successful /query call.
type QueryResponse struct {
	Engine  string           `json:"engine"`
	Kind    string           `json:"kind"`
	Range   query.TimeRange  `json:"range"`
	Fields  query.FieldQuery `json:"fields"`
	Columns []string         `json:"columns"`
	Rows    []ty.MI          `json:"rows"`
	Meta    QueryMetadata    `json:"meta"`
}

// KeysResponse is the body of a successful /keys call.
type KeysResponse struct {
	Engine  string        `json:"engine"`
	Columns []string      `json:"columns"`
	Rows    []ty.MI       `json:"rows"`
	Meta    QueryMetadata `json:"meta"`
}

// Response for /contexts endpoint
type ContextsResponse struct {
	Contexts []ContextInfo `json:"contexts"`
}

type ContextInfo struct {
	Id           string   `json:"id"`
	Engine       string   `json:"engine"`
	Kind         string   `json:"kind,omitempty"`
	Description  string   `json:"description,omitempty"`
	QueryInherit []string `json:"queryInherit,omitempty"`
}

// Metadata about query execution
type QueryMetadata struct {
	QueryTime   string `json:"queryTime"`
	ResultCount int    `json:"resultCount"`
	ContextUsed string `json:"contextUsed,omitempty"`
	EngineType  string `json:"engineType,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func openapiHandler(spec []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(spec)
	}
}

// queryHandler serves POST /query and POST /query/{kind}; a kind in the
// path wins over the one in the body.
func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST method is allowed")
		return
	}

	var req factory.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, ErrCodeInvalidQuery, "Invalid request body: "+err.Error())
		return
	}
	if kind := strings.Trim(strings.TrimPrefix(r.URL.Path, "/query"), "/"); kind != "" {
		req.Kind = kind
	}

	cfg, qf := s.snapshot()

	if err := validateQueryRequest(cfg, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, ErrCodeValidationError, err.Error())
		return
	}

	startTime := time.Now()

	result, err := qf.Run(r.Context(), req)
	if err != nil {
		s.logger.Error("query failed", "err", err, "contextId", req.ContextID, "engine", req.Engine)
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, QueryResponse{
		Engine:  result.Engine,
		Kind:    string(result.Kind),
		Range:   result.Range,
		Fields:  result.Fields,
		Columns: result.Table.Columns,
		Rows:    result.Table.Rows,
		Meta: QueryMetadata{
			QueryTime:   time.Since(startTime).String(),
			ResultCount: result.Table.Len(),
			ContextUsed: req.ContextID,
			EngineType:  cfg.Engines[result.Engine].Type,
		},
	})
}

// keysHandler serves GET /keys?engine=name.
func (s *Server) keysHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed")
		return
	}

	cfg, qf := s.snapshot()

	engine := r.URL.Query().Get("engine")
	if engine != "" {
		if _, ok := cfg.Engines[engine]; !ok {
			s.writeError(w, http.StatusBadRequest, ErrCodeValidationError, "engine '"+engine+"' not found in configuration")
			return
		}
	} else if len(cfg.Engines) == 1 {
		for name := range cfg.Engines {
			engine = name
		}
	}

	startTime := time.Now()

	t, err := qf.ListKeys(r.Context(), engine)
	if err != nil {
		s.logger.Error("list keys failed", "err", err, "engine", engine)
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, KeysResponse{
		Engine:  engine,
		Columns: t.Columns,
		Rows:    t.Rows,
		Meta: QueryMetadata{
			QueryTime:   time.Since(startTime).String(),
			ResultCount: t.Len(),
			EngineType:  cfg.Engines[engine].Type,
		},
	})
}

func (s *Server) contextsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed")
		return
	}

	cfg, _ := s.snapshot()

	path := strings.TrimPrefix(r.URL.Path, "/contexts")
	path = strings.Trim(path, "/")

	if path == "" {
		contexts := []ContextInfo{}
		for _, id := range cfg.ContextIDs() {
			contexts = append(contexts, contextInfo(id, cfg.Contexts[id]))
		}
		s.writeJSON(w, http.StatusOK, ContextsResponse{Contexts: contexts})
		return
	}

	qc, ok := cfg.Contexts[path]
	if !ok {
		s.writeError(w, http.StatusNotFound, ErrCodeContextNotFound, "Context not found")
		return
	}
	s.writeJSON(w, http.StatusOK, contextInfo(path, qc))
}

func contextInfo(id string, qc config.QueryContext) ContextInfo {
	return ContextInfo{
		Id:           id,
		Engine:       qc.Engine,
		Kind:         qc.Kind,
		Description:  qc.Description,
		QueryInherit: qc.QueryInherit,
	}
}
