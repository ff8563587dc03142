package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"poold/internal/capability"
	"poold/internal/pool"
	"poold/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Generate(ctx context.Context, model, prompt string, opts capability.GenerateOpts) (string, error)
	Stream(ctx context.Context, model, prompt string, opts capability.GenerateOpts, emit func(token string) error) error
	Embed(ctx context.Context, model, input string) ([]float32, error)
	BatchEmbed(ctx context.Context, model string, inputs []string) ([][]float32, error)
	Status() types.StatusResponse
	Ready() bool
}

// NewMux builds the HTTP router over the service.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("draining"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Post("/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		text, err := svc.Generate(ctx, req.Model, req.Prompt, generateOpts(req))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.GenerateResponse{Model: req.Model, Text: text})
	})

	r.Post("/v1/generate/stream", func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		flusher, _ := w.(http.Flusher)
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		// Tokens stream as NDJSON lines; headers go out with the first
		// token, so an early dispatch error still maps to a status code.
		wrote := false
		enc := json.NewEncoder(w)
		err := svc.Stream(ctx, req.Model, req.Prompt, generateOpts(req), func(token string) error {
			if !wrote {
				w.Header().Set("Content-Type", "application/x-ndjson")
				wrote = true
			}
			if err := enc.Encode(types.StreamChunk{Token: token}); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				// Client went away or shutdown canceled the stream.
				return
			}
			if !wrote {
				writeServiceError(w, r, err)
			}
			return
		}
		if !wrote {
			w.Header().Set("Content-Type", "application/x-ndjson")
		}
		enc.Encode(types.StreamChunk{Done: true})
	})

	r.Post("/v1/embed", func(w http.ResponseWriter, r *http.Request) {
		var req types.EmbedRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Input == "" {
			writeJSONError(w, http.StatusBadRequest, "input is required")
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		vec, err := svc.Embed(ctx, req.Model, req.Input)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.EmbedResponse{Model: req.Model, Embedding: vec})
	})

	r.Post("/v1/embed/batch", func(w http.ResponseWriter, r *http.Request) {
		var req types.BatchEmbedRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Inputs) == 0 {
			writeJSONError(w, http.StatusBadRequest, "inputs are required")
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		vecs, err := svc.BatchEmbed(ctx, req.Model, req.Inputs)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.BatchEmbedResponse{Model: req.Model, Embeddings: vecs})
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func generateOpts(req types.GenerateRequest) capability.GenerateOpts {
	return capability.GenerateOpts{MaxTokens: req.MaxTokens, Temperature: req.Temperature}
}

// decodeBody enforces the content type and body size limit, then decodes
// into dst. It writes the error response itself and reports success.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeServiceError maps pool errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case capability.IsModelNotFound(err):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case pool.IsOverloaded(err):
		IncrementBackpressure("queue_full")
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	case pool.IsShuttingDown(err):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case pool.IsSpawnFailed(err):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case pool.IsSpawnTimeout(err):
		writeJSONError(w, http.StatusGatewayTimeout, err.Error())
	case err == context.DeadlineExceeded || r.Context().Err() != nil:
		writeJSONError(w, http.StatusRequestTimeout, err.Error())
	default:
		if he, ok := err.(HTTPError); ok {
			writeJSONError(w, he.StatusCode(), he.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
