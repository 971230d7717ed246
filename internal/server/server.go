package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/curvefit/internal/config"
	"github.com/copyleftdev/curvefit/internal/errors"
	"github.com/copyleftdev/curvefit/internal/logging"
	"github.com/copyleftdev/curvefit/internal/metrics"
	"github.com/copyleftdev/curvefit/internal/optimization"
	"github.com/copyleftdev/curvefit/internal/optimization/models"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
	rpcNotFound       = -32001
	rpcUnavailable    = -32002
)

// Server implements the HTTP and JSON-RPC server for the fit service.
// It manages fit jobs and provides endpoints to start, monitor, and cancel them.
type Server struct {
	cfg     *config.Config
	logger  Logger
	zap     *zap.Logger
	metrics *metrics.Metrics

	// Fit job state management
	jobs   map[string]*FitJob
	jobsMu sync.RWMutex // Protects the jobs map and every job's fields
}

// NewServer creates a new server instance with the given config and logger.
// A nil m gets unregistered collectors.
func NewServer(cfg *config.Config, logger Logger, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		zap:     logging.NewZapLogger(logger.WithFields(map[string]interface{}{"component": "optimizer"})),
		metrics: m,
		jobs:    make(map[string]*FitJob),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/fit", s.handleFit)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/fit/{id}", s.handleCancel)
		r.Post("/predict", s.handlePredict)
		r.Get("/models", s.handleModels)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// PredictRequest asks for model values at xs.
type PredictRequest struct {
	Model      string    `json:"model"`
	Parameters []float64 `json:"parameters"`
	Xs         []float64 `json:"xs"`
}

func (s *Server) predict(req PredictRequest) (map[string]interface{}, error) {
	model, err := models.Lookup(req.Model)
	if err != nil {
		return nil, err
	}
	if err := optimization.ValidateParams(model, req.Parameters); err != nil {
		return nil, err
	}
	if limit := s.cfg.Fit.MaxPoints; limit > 0 && len(req.Xs) > limit {
		return nil, errors.E(errors.KindInput, "Server.predict", "%d xs requested, limit is %d", len(req.Xs), limit)
	}

	return map[string]interface{}{
		"model": model.Name(),
		"ys":    numbers(optimization.Predict(model, req.Parameters, req.Xs)),
	}, nil
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch request.Method {
	case "fit.start":
		var req FitRequest
		if err = decodeParams(request.Params, &req); err == nil {
			var job *FitJob
			if job, err = s.startFit(req); err == nil {
				result = s.startResponse(job, req.Wait)
			}
		}
	case "fit.status":
		var req struct {
			FitID string `json:"fit_id"`
		}
		if err = decodeParams(request.Params, &req); err == nil {
			result, err = s.fitStatus(req.FitID)
		}
	case "fit.cancel":
		var req struct {
			FitID string `json:"fit_id"`
		}
		if err = decodeParams(request.Params, &req); err == nil {
			if err = s.cancelFit(req.FitID); err == nil {
				result = map[string]string{"status": "cancellation requested"}
			}
		}
	case "fit.predict":
		var req PredictRequest
		if err = decodeParams(request.Params, &req); err == nil {
			result, err = s.predict(req)
		}
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, rpcCode(err), err.Error(), request.ID)
		return
	}

	// Send successful response
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// rpcCode maps an error onto a JSON-RPC error code.
func rpcCode(err error) int {
	switch errors.KindOf(err) {
	case errors.KindInput, errors.KindConfig:
		return rpcInvalidParams
	case errors.KindNotFound:
		return rpcNotFound
	case errors.KindUnavailable:
		return rpcUnavailable
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return rpcInvalidParams
	}
	return rpcServerError
}

// httpStatus maps an error onto an HTTP status code.
func httpStatus(err error) int {
	switch errors.KindOf(err) {
	case errors.KindInput, errors.KindConfig:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  code,
		"message": message,
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// respondJSON writes v with the given status.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondError writes err as {"error", "kind"} with a status derived from
// its kind.
func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, httpStatus(err), map[string]interface{}{
		"error": err.Error(),
		"kind":  errors.KindOf(err).String(),
	})
}

func (s *Server) startResponse(job *FitJob, wait bool) interface{} {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	if wait {
		return s.statusLocked(job)
	}
	return map[string]interface{}{
		"fit_id": job.ID,
		"status": job.Status,
	}
}

// Close cancels every unfinished fit job.
func (s *Server) Close() error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	for _, job := range s.jobs {
		if job.CancelFunc != nil {
			job.CancelFunc()
		}
	}
	return nil
}

// Wait blocks until every fit job has finished or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	s.jobsMu.RLock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.jobsMu.RUnlock()

	for _, id := range ids {
		if err := s.waitFit(ctx, id); err != nil && !errors.IsKind(err, errors.KindNotFound) {
			return fmt.Errorf("waiting for fit %s: %w", id, err)
		}
	}
	return nil
}

// handleFit handles POST /api/v1/fit for starting a new fit
func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": fmt.Sprintf("Invalid request body: %v", err),
			"kind":  errors.KindInput.String(),
		})
		return
	}

	job, err := s.startFit(req)
	if err != nil {
		respondError(w, err)
		return
	}

	status := http.StatusAccepted
	if req.Wait {
		status = http.StatusOK
	}
	respondJSON(w, status, s.startResponse(job, req.Wait))
}

// handleStatus handles GET /api/v1/status/{id} for checking fit status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.fitStatus(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleCancel handles DELETE /api/v1/fit/{id} for cancelling a fit
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelFit(chi.URLParam(r, "id")); err != nil {
		if errors.IsKind(err, errors.KindInput) {
			respondJSON(w, http.StatusConflict, map[string]interface{}{
				"error": err.Error(),
				"kind":  errors.KindInput.String(),
			})
			return
		}
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}

// handlePredict handles POST /api/v1/predict for curve sampling
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": fmt.Sprintf("Invalid request body: %v", err),
			"kind":  errors.KindInput.String(),
		})
		return
	}

	result, err := s.predict(req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleModels handles GET /api/v1/models
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	list := make([]map[string]interface{}, 0, len(models.Names()))
	for _, name := range models.Names() {
		model, _ := models.Lookup(name)
		methods := []string{MethodGradient}
		if name == models.LinearName {
			methods = append(methods, MethodAnalytic)
		}
		list = append(list, map[string]interface{}{
			"name":            name,
			"parameters":      model.NumParams(),
			"default_initial": models.DefaultInitial(name),
			"methods":         methods,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"models": list})
}
