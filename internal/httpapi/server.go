package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imaged/internal/storage"
	"imaged/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error)
	Ready() bool
}

// NewMux builds the router for svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(corsOptions()))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	// Compression for JSON endpoints only; images are already compressed.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5, "application/json"))
		r.Get("/models", listModels(svc))
		r.Get("/status", status(svc))
		r.Post("/generate", generate(svc))
	})
	r.Get("/files/{name}", serveFile)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

func corsOptions() cors.Options {
	methods := corsAllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	headers := corsAllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", "X-Log-Level", "X-Request-Id"}
	}
	return cors.Options{
		AllowedOrigins: corsAllowedOrigins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}
}

// listModels godoc
//
//	@Summary	List local checkpoints
//	@Tags		models
//	@Produce	json
//	@Success	200	{object}	types.ModelsResponse
//	@Router		/models [get]
func listModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels()})
	}
}

// status godoc
//
//	@Summary	Cache and device status
//	@Tags		status
//	@Produce	json
//	@Success	200	{object}	types.StatusResponse
//	@Router		/status [get]
func status(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	}
}

// generate godoc
//
//	@Summary	Generate images from a text prompt
//	@Tags		generate
//	@Accept		json
//	@Produce	json
//	@Param		request	body		types.GenerateRequest	true	"Generation request"
//	@Success	200		{object}	types.GenerateResponse
//	@Failure	400		{object}	types.ErrorResponse
//	@Failure	422		{object}	types.ErrorResponse
//	@Failure	429		{object}	types.ErrorResponse
//	@Failure	503		{object}	types.ErrorResponse
//	@Router		/generate [post]
func generate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}

		log := requestLogger(r, LevelInfo)
		log.Info().Str("model", req.ModelName).Str("scheduler", req.Scheduler).Int("loras", len(req.Loras)).Msg("generate start")
		start := time.Now()

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if generateTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, time.Duration(generateTimeout)*time.Second)
			defer tcancel()
		}
		resp, err := svc.Generate(ctx, req)
		if err != nil {
			// If the client went away there is nobody to answer.
			if r.Context().Err() != nil {
				return
			}
			code := statusFor(err)
			if code == http.StatusTooManyRequests {
				IncrementBackpressure("lease_wait")
			}
			log.Info().Int("status", code).Dur("dur", time.Since(start)).Err(err).Msg("generate end")
			writeJSONError(w, code, err.Error())
			return
		}
		log.Info().Int("status", http.StatusOK).Dur("dur", time.Since(start)).Int("images", len(resp.Images)).Int64("seed", resp.Seed).Msg("generate end")
		writeJSON(w, http.StatusOK, resp)
	}
}

// serveFile godoc
//
//	@Summary	Download a generated image
//	@Tags		files
//	@Produce	png
//	@Produce	jpeg
//	@Param		name	path	string	true	"File name returned by /generate"
//	@Success	200
//	@Failure	404	{object}	types.ErrorResponse
//	@Router		/files/{name} [get]
func serveFile(w http.ResponseWriter, r *http.Request) {
	if files == nil {
		writeJSONError(w, http.StatusNotFound, "file storage is not enabled")
		return
	}
	name := chi.URLParam(r, "name")
	f, img, err := files.Open(r.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		log := requestLogger(r, LevelError)
		log.Error().Err(err).Str("file", name).Msg("open stored image")
		writeJSONError(w, http.StatusInternalServerError, "failed to open image")
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, img.FileName, time.Time{}, f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestID(r *http.Request) string { return middleware.GetReqID(r.Context()) }
