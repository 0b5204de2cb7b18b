package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cmlabs/modelproxy/config"
	"github.com/cmlabs/modelproxy/metrics"
	"github.com/cmlabs/modelproxy/model"
	"github.com/cmlabs/modelproxy/proxy"
	"github.com/cmlabs/modelproxy/utils"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// modelCreatedAt is the placeholder creation timestamp OpenAI's own examples
// use; clients only require the field to be present.
const modelCreatedAt = 1677610602

// Server wires the proxy's HTTP surface onto the configuration store and
// the request forwarder.
type Server struct {
	store      *config.Store
	forwarder  *proxy.Forwarder
	collector  *metrics.Collector
	configFile string
	logger     *zap.Logger
}

// NewServer creates the HTTP server. configFile is the default path used by
// POST /reload when no override is given.
func NewServer(store *config.Store, configFile string, collector *metrics.Collector, logger *zap.Logger) *Server {
	return &Server{
		store:      store,
		forwarder:  proxy.NewForwarder(logger),
		collector:  collector,
		configFile: configFile,
		logger:     logger,
	}
}

// Routes registers all routes. Anything not matched explicitly falls through
// to the generic reverse-proxy handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /models", s.handleListModels)
	mux.HandleFunc("POST /chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /debug", s.handleDebug)
	mux.HandleFunc("POST /reload", s.handleReload)
	mux.Handle("GET /metrics", s.collector.Handler())
	mux.HandleFunc("/", s.handleFallback)
	return withCORS(mux)
}

// withCORS answers preflight requests and marks responses as
// cross-origin-safe so browser front ends can talk to the proxy directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PUT, DELETE, PATCH")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
			} else {
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept, X-Model-ID")
			}
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleChatCompletions resolves the requested model against the active
// snapshot and forwards the call. Only model and stream are interpreted;
// the rest of the payload passes through opaquely.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(zap.String("request_id", uuid.NewString()))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "reading request body: %v", err)
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "request body is not valid JSON: %v", err)
		return
	}

	modelID, ok := payload["model"].(string)
	if !ok || modelID == "" {
		utils.WriteJSONError(w, http.StatusBadRequest, "model key missing or not a string")
		return
	}

	snap := s.store.Snapshot()
	ep, err := snap.Resolve(modelID)
	if err != nil {
		logger.Warn("Unknown model requested", zap.String("model", modelID))
		s.collector.ObserveRequest(modelID, http.StatusBadRequest, 0)
		utils.WriteJSONError(w, http.StatusBadRequest,
			"Model '%s' not supported. Available models: %s", modelID, strings.Join(snap.ModelIDs(), ", "))
		return
	}

	logger.Info("Routing chat completion",
		zap.String("model", modelID),
		zap.String("backend", ep.DisplayName))

	start := time.Now()
	rec := utils.NewResponseRecorder(w)
	s.forwarder.ForwardChatCompletion(rec, r, ep, payload)
	s.collector.ObserveRequest(modelID, rec.StatusCode, time.Since(start))
}

// modelList is the OpenAI "list models" envelope; go-openai's ModelsList
// omits the object field, so the envelope is declared here.
type modelList struct {
	Object string         `json:"object"`
	Data   []openai.Model `json:"data"`
}

// handleListModels synthesizes one entry per configured model identifier.
// No backend is consulted.
func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()

	list := modelList{Object: "list", Data: make([]openai.Model, 0, len(snap.Endpoints))}
	for _, id := range snap.ModelIDs() {
		ep := snap.Endpoints[id]
		list.Data = append(list.Data, openai.Model{
			ID:        id,
			Object:    "model",
			CreatedAt: modelCreatedAt,
			OwnedBy:   ep.DisplayName,
			Permission: []openai.Permission{{
				ID:            "modelperm",
				Object:        "model_permission",
				CreatedAt:     modelCreatedAt,
				AllowSampling: true,
				AllowLogprobs: true,
				AllowView:     true,
				Organization:  "*",
			}},
		})
	}

	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()

	type healthModel struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	}
	models := make([]healthModel, 0, len(snap.Endpoints))
	for _, id := range snap.ModelIDs() {
		models = append(models, healthModel{ID: id, DisplayName: snap.Endpoints[id].DisplayName})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"endpoints": len(snap.Endpoints),
		"models":    models,
	})
}

// handleDebug returns the active configuration with every API key masked so
// operators can verify routing without leaking secrets.
func (s *Server) handleDebug(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()

	masked := make(map[string]model.Endpoint, len(snap.Endpoints))
	for id, ep := range snap.Endpoints {
		masked[id] = model.Endpoint{
			DisplayName:     ep.DisplayName,
			URL:             ep.URL,
			APIKey:          utils.MaskAPIKey(ep.APIKey),
			ActualModelName: ep.ActualModelName,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoints":            masked,
		"config_file_location": snap.Path,
	})
}

// handleReload swaps in a freshly loaded snapshot. On failure the previous
// snapshot stays active and the error is reported to this caller only.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("config")
	if path == "" {
		path = s.configFile
	}

	snap, err := s.store.Reload(path)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to reload configuration from " + path + ": " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"message":   "Configuration reloaded from " + path,
		"endpoints": len(snap.Endpoints),
		"models":    snap.ModelIDs(),
	})
}

// handleFallback reverse-proxies every unhandled route to the backend named
// by the X-Model-ID header or the model query parameter. The body passes
// through untouched; only the Authorization header is rewritten.
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()

	modelID := r.Header.Get("X-Model-ID")
	if modelID == "" {
		modelID = r.URL.Query().Get("model")
	}
	if modelID == "" {
		utils.WriteJSONError(w, http.StatusBadRequest,
			"Missing model ID: set the X-Model-ID header or the model query parameter. Available models: %s",
			strings.Join(snap.ModelIDs(), ", "))
		return
	}

	ep, err := snap.Resolve(modelID)
	if err != nil {
		s.logger.Warn("Unknown model on generic route",
			zap.String("model", modelID), zap.String("path", r.URL.Path))
		utils.WriteJSONError(w, http.StatusBadRequest,
			"Model '%s' not supported. Available models: %s", modelID, strings.Join(snap.ModelIDs(), ", "))
		return
	}

	// The backend knows the model by its actual name, so an alias in the
	// query string is translated before forwarding.
	q := r.URL.Query()
	if q.Get("model") == modelID {
		q.Set("model", ep.ActualModelName)
		r.URL.RawQuery = q.Encode()
	}

	rp, err := proxy.NewReverseProxy(ep, s.logger)
	if err != nil {
		utils.WriteJSONError(w, http.StatusBadGateway, "invalid backend url for %s: %v", ep.DisplayName, err)
		return
	}

	s.logger.Info("Routing generic request",
		zap.String("model", modelID),
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method))

	start := time.Now()
	rec := utils.NewResponseRecorder(w)
	rp.ServeHTTP(rec, r)
	s.collector.ObserveRequest(modelID, rec.StatusCode, time.Since(start))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
