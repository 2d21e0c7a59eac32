// Package httpapi exposes a capability registry over the invocation
// wire contract: JSON POST bodies of {tool, input}, success envelopes
// of {result}, and failure bodies of {error}. Execution and
// confirmation are separate, mutually exclusive entry points per
// capability.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	capflow "github.com/machinefabric/capflow-go"
)

// Server serves capability execution on the privileged side.
type Server struct {
	registry   *capflow.Registry
	dispatcher *capflow.Dispatcher
	logger     zerolog.Logger
}

// NewServer creates a server over a registry and a dispatcher. The
// dispatcher should default to the privileged environment; this is the
// privileged-side endpoint that restricted callers fall back to.
func NewServer(registry *capflow.Registry, dispatcher *capflow.Dispatcher, logger zerolog.Logger) *Server {
	return &Server{registry: registry, dispatcher: dispatcher, logger: logger}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(capflow.DefaultExecuteEndpoint, s.handleExecute)
	mux.HandleFunc(capflow.DefaultConfirmEndpoint, s.handleConfirm)
	mux.HandleFunc("/api/tools", s.handleCatalog)
	return mux
}

type wireRequest struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// handleExecute runs a capability that does not require confirmation.
// Confirmation-gated capabilities are rejected here; they may only
// enter through the confirmation endpoint.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, false)
}

// handleConfirm runs a confirmation-gated capability after explicit
// human approval. Capabilities without the confirmation flag are
// rejected here; they may only enter through the execution endpoint.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, true)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, confirming bool) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)
	logger := s.logger.With().Str("request_id", requestID).Logger()

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req wireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "missing tool name")
		return
	}

	def, err := s.registry.Get(req.Tool)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if def.RequiresConfirmation() != confirming {
		if confirming {
			writeError(w, http.StatusForbidden, "capability does not take confirmation")
		} else {
			writeError(w, http.StatusForbidden, "capability requires confirmation")
		}
		return
	}

	var input any
	if len(req.Input) > 0 {
		if err := json.Unmarshal(req.Input, &input); err != nil {
			writeError(w, http.StatusBadRequest, "malformed input")
			return
		}
	}

	spec := capflow.ContextSpec{
		Headers: flattenHeader(r.Header),
		Cookies: flattenCookies(r.Cookies()),
	}

	out, err := s.dispatcher.Run(r.Context(), def, input, spec)
	if err != nil {
		logger.Debug().Str("tool", req.Tool).Err(err).Msg("execution failed")
		writeError(w, statusFor(err), err.Error())
		return
	}

	logger.Debug().Str("tool", req.Tool).Msg("executed")
	writeJSON(w, http.StatusOK, map[string]any{"result": out})
}

// handleCatalog serves the introspection catalog: cards only, never
// handler bodies, schemas, or key functions.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Cards()})
}

// statusFor maps the engine's error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var validation *capflow.ValidationError
	var notImplemented *capflow.NotImplementedError
	var timeout *capflow.TimeoutError
	var remote *capflow.RemoteCallError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notImplemented):
		return http.StatusNotImplemented
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &remote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name := range h {
		out[name] = h.Get(name)
	}
	return out
}

func flattenCookies(cookies []*http.Cookie) map[string]string {
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out
}
