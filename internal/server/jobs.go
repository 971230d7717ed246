package server

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/copyleftdev/curvefit/internal/dataset"
	"github.com/copyleftdev/curvefit/internal/errors"
	"github.com/copyleftdev/curvefit/internal/metrics"
	"github.com/copyleftdev/curvefit/internal/optimization"
	"github.com/copyleftdev/curvefit/internal/optimization/analytic"
	"github.com/copyleftdev/curvefit/internal/optimization/gradient"
	"github.com/copyleftdev/curvefit/internal/optimization/models"
)

// Job states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Fit methods.
const (
	MethodGradient = "gradient"
	MethodAnalytic = "analytic"
)

var errMissingParams = errors.E(errors.KindInput, "decodeParams", "missing required parameters")

// FitRequest describes a fit job. Exactly one of Points or Data supplies the
// dataset; Data uses the textual points format. Omitted hyperparameters take
// the configured defaults.
type FitRequest struct {
	Model                string                `json:"model"`
	Method               string                `json:"method,omitempty"`
	Points               []optimization.Sample `json:"points,omitempty"`
	Data                 string                `json:"data,omitempty"`
	Initial              []float64             `json:"initial,omitempty"`
	LearningRate         *float64              `json:"learning_rate,omitempty"`
	MaxIterations        *int                  `json:"max_iterations,omitempty"`
	ConvergenceThreshold *float64              `json:"convergence_threshold,omitempty"`
	// Wait runs the fit before responding instead of in the background.
	Wait bool `json:"wait,omitempty"`
}

// FitJob represents the state of a fit job.
// It tracks the progress, status, and results of a fit.
// Fields are guarded by the server's job mutex.
type FitJob struct {
	ID              string
	Status          string
	Model           optimization.Model
	Method          string
	Hyperparameters optimization.Hyperparameters
	Samples         []optimization.Sample
	Initial         []float64
	StartTime       time.Time
	EndTime         *time.Time
	Progress        float64
	Latest          *optimization.Evaluation
	Result          *optimization.FitResult
	Report          *optimization.Report
	Curve           []optimization.Sample
	Err             error
	CancelFunc      context.CancelFunc
	LastUpdated     time.Time

	optimizer optimization.Optimizer
	done      chan struct{}
}

func (j *FitJob) terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// prepareFit validates req and builds the job and its optimizer. Nothing is
// registered or started.
func (s *Server) prepareFit(req FitRequest) (*FitJob, error) {
	const op = "Server.prepareFit"

	model, err := models.Lookup(req.Model)
	if err != nil {
		return nil, err
	}

	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = MethodGradient
	}

	samples := req.Points
	if req.Data != "" {
		if len(samples) > 0 {
			return nil, errors.E(errors.KindInput, op, "points and data are mutually exclusive")
		}
		if samples, err = dataset.Parse(strings.NewReader(req.Data), s.cfg.Fit.MaxPoints); err != nil {
			return nil, err
		}
	}
	if err := optimization.ValidateSamples(samples); err != nil {
		return nil, err
	}
	if limit := s.cfg.Fit.MaxPoints; limit > 0 && len(samples) > limit {
		return nil, errors.E(errors.KindInput, op, "dataset has %d points, limit is %d", len(samples), limit)
	}

	job := &FitJob{
		Model:   model,
		Method:  method,
		Samples: samples,
		done:    make(chan struct{}),
	}

	switch method {
	case MethodAnalytic:
		if model.Name() != models.LinearName {
			return nil, errors.E(errors.KindConfig, op, "analytic method only supports the linear model, got %s", model.Name())
		}
		job.optimizer = analytic.NewLeastSquares(s.zap)

	case MethodGradient:
		hp := s.cfg.Hyperparameters()
		if req.LearningRate != nil {
			hp.LearningRate = *req.LearningRate
		}
		if req.MaxIterations != nil {
			hp.MaxIterations = *req.MaxIterations
		}
		if req.ConvergenceThreshold != nil {
			hp.ConvergenceThreshold = *req.ConvergenceThreshold
		}

		initial := req.Initial
		if initial == nil {
			initial = models.DefaultInitial(model.Name())
		}
		if err := optimization.ValidateParams(model, initial); err != nil {
			return nil, err
		}

		optimizer, err := gradient.New(model, hp,
			gradient.WithLogger(s.zap),
			gradient.WithProgressInterval(s.cfg.Fit.ProgressInterval),
			gradient.WithHistoryLimit(s.cfg.Fit.HistoryLimit),
			gradient.WithObserver(func(eval optimization.Evaluation) {
				s.recordProgress(job, eval)
			}),
		)
		if err != nil {
			return nil, err
		}
		job.optimizer = optimizer
		job.Hyperparameters = hp
		job.Initial = append([]float64(nil), initial...)

	default:
		return nil, errors.E(errors.KindConfig, op, "unknown method %q, expected %s or %s", req.Method, MethodGradient, MethodAnalytic)
	}

	return job, nil
}

// startFit registers a new job and runs it. When wait is false the fit
// runs in a goroutine and startFit returns immediately.
func (s *Server) startFit(req FitRequest) (*FitJob, error) {
	job, err := s.prepareFit(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	job.ID = "fit_" + uuid.NewString()
	job.Status = StatusPending
	job.StartTime = now
	job.LastUpdated = now
	job.CancelFunc = cancel

	s.jobsMu.Lock()
	if err := s.reserveSlotLocked(); err != nil {
		s.jobsMu.Unlock()
		cancel()
		return nil, err
	}
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()

	s.metrics.ActiveJobs.Inc()
	s.logger.Info("Fit job created", map[string]interface{}{
		"fit_id":  job.ID,
		"model":   job.Model.Name(),
		"method":  job.Method,
		"samples": len(job.Samples),
	})

	if req.Wait {
		s.runFit(ctx, job)
	} else {
		go s.runFit(ctx, job)
	}
	return job, nil
}

// reserveSlotLocked evicts the oldest finished jobs until there is room for
// one more. It fails when every stored job is still active.
func (s *Server) reserveSlotLocked() error {
	limit := s.cfg.Fit.MaxJobs
	if limit <= 0 || len(s.jobs) < limit {
		return nil
	}

	finished := make([]*FitJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.terminal() {
			finished = append(finished, job)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].LastUpdated.Before(finished[j].LastUpdated)
	})

	for _, job := range finished {
		if len(s.jobs) < limit {
			break
		}
		delete(s.jobs, job.ID)
	}
	if len(s.jobs) >= limit {
		return errors.E(errors.KindUnavailable, "Server.startFit", "too many active fit jobs (limit %d)", limit)
	}
	return nil
}

// runFit executes the fit and records its outcome.
func (s *Server) runFit(ctx context.Context, job *FitJob) {
	defer close(job.done)
	defer s.metrics.ActiveJobs.Dec()

	s.jobsMu.Lock()
	if job.Status == StatusCancelled {
		s.jobsMu.Unlock()
		s.metrics.ObserveCancelled(job.Model.Name(), job.Method)
		return
	}
	job.Status = StatusRunning
	job.LastUpdated = time.Now()
	s.jobsMu.Unlock()

	start := time.Now()
	result, err := job.optimizer.Fit(ctx, job.Samples, job.Initial)
	elapsed := time.Since(start)

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	now := time.Now()
	job.EndTime = &now
	job.LastUpdated = now

	if job.Status == StatusCancelled || errors.Is(err, context.Canceled) {
		job.Status = StatusCancelled
		s.metrics.ObserveCancelled(job.Model.Name(), job.Method)
		return
	}

	s.metrics.ObserveFit(job.Model.Name(), job.Method, elapsed, result, err)

	if err != nil {
		s.logger.Error("Fit failed", map[string]interface{}{
			"fit_id": job.ID,
			"error":  err.Error(),
		})
		job.Status = StatusFailed
		job.Err = err
		return
	}

	job.Status = StatusCompleted
	job.Progress = 1
	job.Result = result
	job.Report = optimization.NewReport(job.Model, job.Samples, result, job.Hyperparameters.MaxIterations)
	if !result.Diverged() {
		job.Curve = optimization.Curve(job.Model, result.Parameters, job.Samples, s.cfg.Fit.CurveSteps)
	}

	s.logger.Info("Fit completed", map[string]interface{}{
		"fit_id":     job.ID,
		"model":      job.Model.Name(),
		"method":     job.Method,
		"outcome":    metrics.Outcome(result, nil),
		"iterations": result.IterationsUsed,
		"duration":   elapsed.String(),
	})
}

// recordProgress is the optimizer observer for job.
func (s *Server) recordProgress(job *FitJob, eval optimization.Evaluation) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job.Latest = &eval
	if limit := job.Hyperparameters.MaxIterations; limit > 0 {
		job.Progress = float64(eval.Iteration+1) / float64(limit)
	}
	job.LastUpdated = time.Now()
}

// fitStatus returns a snapshot of the job for clients.
func (s *Server) fitStatus(id string) (map[string]interface{}, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, errors.E(errors.KindNotFound, "Server.fitStatus", "fit %q not found", id)
	}
	return s.statusLocked(job), nil
}

func (s *Server) statusLocked(job *FitJob) map[string]interface{} {
	response := map[string]interface{}{
		"fit_id":      job.ID,
		"status":      job.Status,
		"model":       job.Model.Name(),
		"method":      job.Method,
		"samples":     len(job.Samples),
		"progress":    job.Progress,
		"start_time":  job.StartTime.Format(time.RFC3339),
		"last_update": job.LastUpdated.Format(time.RFC3339),
	}

	if job.Method == MethodGradient {
		response["hyperparameters"] = map[string]interface{}{
			"learning_rate":         number(job.Hyperparameters.LearningRate),
			"max_iterations":        job.Hyperparameters.MaxIterations,
			"convergence_threshold": number(job.Hyperparameters.ConvergenceThreshold),
		}
		response["initial"] = numbers(job.Initial)
	}

	// Add end time if available
	if job.EndTime != nil {
		response["end_time"] = job.EndTime.Format(time.RFC3339)
	}

	if job.Err != nil {
		response["error"] = job.Err.Error()
		response["error_kind"] = errors.KindOf(job.Err).String()
	}

	if job.Latest != nil && job.Result == nil {
		response["current"] = map[string]interface{}{
			"iteration":  job.Latest.Iteration,
			"parameters": numbers(job.Latest.Solution.Parameters),
			"cost":       number(job.Latest.Solution.Cost),
		}
	}

	if job.Result != nil {
		response["report"] = encodeReport(job.Report)
		if len(job.Result.History) > 0 {
			response["history"] = encodeHistory(job.Result.History)
		}
		if job.Curve != nil {
			response["curve"] = encodePoints(job.Curve)
		}
	}

	return response
}

// cancelFit cancels a pending or running job.
func (s *Server) cancelFit(id string) error {
	const op = "Server.cancelFit"

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return errors.E(errors.KindNotFound, op, "fit %q not found", id)
	}

	if job.terminal() {
		return errors.E(errors.KindInput, op, "cannot cancel fit with status: %s", job.Status)
	}

	if job.CancelFunc != nil {
		job.CancelFunc()
	}

	job.Status = StatusCancelled
	now := time.Now()
	job.EndTime = &now
	job.LastUpdated = now

	s.logger.Info("Fit cancelled", map[string]interface{}{
		"fit_id": id,
	})

	return nil
}

// waitFit blocks until the job finishes or ctx is done.
func (s *Server) waitFit(ctx context.Context, id string) error {
	s.jobsMu.RLock()
	job, exists := s.jobs[id]
	s.jobsMu.RUnlock()
	if !exists {
		return errors.E(errors.KindNotFound, "Server.waitFit", "fit %q not found", id)
	}

	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
