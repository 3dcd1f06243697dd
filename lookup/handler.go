package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"lookup-gateway/lookup/application"
	"lookup-gateway/lookup/domain"
)

// limite padrão de chaves num POST /v1/lookup
const defaultMaxBulkKeys = 1000

// Resolver é o que o handler precisa do motor (application.Service).
type Resolver interface {
	Resolve(ctx context.Context, raw string) (domain.Value, bool, error)
	ResolveMany(ctx context.Context, raws []string) []domain.Result
}

type statsProvider interface {
	Stats() application.Stats
}

type HandlerOptions struct {
	Logger      logr.Logger
	MaxBulkKeys int
	// Middlewares envolvem só as rotas /v1/lookup (throttle, concorrência).
	Middlewares []func(http.Handler) http.Handler
	// Metrics, se definido, é montado em /metrics.
	Metrics http.Handler
}

type handler struct {
	svc         Resolver
	log         logr.Logger
	maxBulkKeys int
}

// NewHandler monta as rotas:
//
//	GET  /v1/lookup/{key}
//	POST /v1/lookup        {"keys": [...]}
//	GET  /v1/stats
//	GET  /healthz
//	GET  /metrics          (se opts.Metrics != nil)
func NewHandler(svc Resolver, opts HandlerOptions) http.Handler {
	if opts.MaxBulkKeys <= 0 {
		opts.MaxBulkKeys = defaultMaxBulkKeys
	}
	h := &handler{svc: svc, log: opts.Logger, maxBulkKeys: opts.MaxBulkKeys}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/v1/stats", h.stats)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1/lookup", func(r chi.Router) {
		for _, mw := range opts.Middlewares {
			r.Use(mw)
		}
		r.Get("/{key}", h.lookupOne)
		r.Post("/", h.lookupMany)
	})
	return r
}

type lookupResponse struct {
	Key   string          `json:"key"`
	Found bool            `json:"found"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

type bulkRequest struct {
	Keys []string `json:"keys"`
}

type bulkResponse struct {
	Results []lookupResponse `json:"results"`
}

func (h *handler) lookupOne(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "key")
	v, ok, err := h.svc.Resolve(r.Context(), raw)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error(err, "lookup failed", "key", raw, "request_id", middleware.GetReqID(r.Context()))
		}
		writeJSON(w, status, lookupResponse{Key: raw, Error: err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, lookupResponse{Key: raw})
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{Key: raw, Found: true, Value: asJSON(v)})
}

func (h *handler) lookupMany(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Keys) == 0 {
		writeError(w, http.StatusBadRequest, "keys must not be empty")
		return
	}
	if len(req.Keys) > h.maxBulkKeys {
		writeError(w, http.StatusRequestEntityTooLarge, "too many keys")
		return
	}

	results := h.svc.ResolveMany(r.Context(), req.Keys)
	out := bulkResponse{Results: make([]lookupResponse, len(results))}
	for i, res := range results {
		item := lookupResponse{Key: req.Keys[i]}
		switch res.Outcome {
		case domain.OutcomeFound:
			item.Found = true
			item.Value = asJSON(res.Value)
		case domain.OutcomeError:
			item.Error = res.Err.Error()
		}
		out.Results[i] = item
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) stats(w http.ResponseWriter, _ *http.Request) {
	sp, ok := h.svc.(statsProvider)
	if !ok {
		writeError(w, http.StatusNotFound, "stats not available")
		return
	}
	writeJSON(w, http.StatusOK, sp.Stats())
}

// statusFor traduz os erros do motor em status HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrClosed), errors.Is(err, application.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrBatchFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// asJSON devolve o valor como JSON embutido; valores que não são JSON vão
// como string.
func asJSON(v domain.Value) json.RawMessage {
	if json.Valid(v) {
		return json.RawMessage(v)
	}
	b, _ := json.Marshal(string(v))
	return b
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
