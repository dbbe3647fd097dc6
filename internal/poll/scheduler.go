package poll

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/generation"
	"github.com/adcraft/creative-orchestrator/internal/metrics"
	"github.com/adcraft/creative-orchestrator/internal/provider"
)

// Config parameterizes one polling run. The same state machine serves every
// job kind; only the knobs differ.
type Config struct {
	// Interval between status polls for one job.
	Interval time.Duration
	// RequestTimeout bounds a single status call. A timed-out call is
	// transient and retried on the next tick.
	RequestTimeout time.Duration
	// MaxDuration bounds total polling wall-clock time per job.
	MaxDuration time.Duration
	// MaxAttempts bounds total polls per job. Zero means no attempt bound.
	MaxAttempts int
}

// ConfigForKind returns the empirically tuned polling knobs per job kind.
func ConfigForKind(kind generation.Kind, batchSize int) Config {
	cfg := Config{
		Interval:       time.Second,
		RequestTimeout: 3 * time.Second,
		MaxDuration:    120 * time.Second,
	}
	switch {
	case kind == generation.KindVideo && batchSize > 1:
		cfg.Interval = 5 * time.Second
	case kind == generation.KindVideo:
		cfg.Interval = 2 * time.Second
	case kind == generation.KindEdit:
		cfg.Interval = 2 * time.Second
	}
	return cfg
}

// Outcome summarizes a finished batch. The batch is done once every job is
// terminal; Completed and Failed carry scene indices, Errors the terminal
// error per failed scene.
type Outcome struct {
	Completed []int
	Failed    []int
	Errors    map[int]error
}

// Scheduler polls submitted jobs to completion. One scheduler is safe for
// use across batches; all per-run state lives in the Session and the jobs.
type Scheduler struct {
	provider provider.Provider
}

// NewScheduler creates a scheduler over the given provider.
func NewScheduler(p provider.Provider) *Scheduler {
	return &Scheduler{provider: p}
}

// Run polls every non-terminal job concurrently until all jobs are terminal,
// the session is cancelled, or ctx expires. Job structs are mutated in place
// as states change; onTerminal (optional) fires once per job on its
// terminal transition, from that job's poll goroutine.
//
// Cancellation is cooperative: each tick checks the session first, and a
// status response arriving after cancellation is discarded.
func (s *Scheduler) Run(ctx context.Context, session *Session, jobs []*generation.Job, cfg Config, est *Estimator, onTerminal func(*generation.Job)) (Outcome, error) {
	outcome := Outcome{Errors: make(map[int]error)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	start := time.Now()
	totalAttempts := 0

	for _, job := range jobs {
		if job.Status.Terminal() {
			recordTerminal(&mu, &outcome, job, nil)
			continue
		}
		wg.Add(1)
		go func(job *generation.Job) {
			defer wg.Done()
			attempts, err := s.pollJob(ctx, session, job, cfg, est)
			mu.Lock()
			totalAttempts += attempts
			mu.Unlock()
			if session.Cancelled() {
				return
			}
			recordTerminal(&mu, &outcome, job, err)
			if onTerminal != nil && job.Status.Terminal() {
				onTerminal(job)
			}
		}(job)
	}

	wg.Wait()

	if session.Cancelled() {
		return Outcome{}, generation.ErrCancelled
	}

	sort.Ints(outcome.Completed)
	sort.Ints(outcome.Failed)

	if est != nil && len(outcome.Failed) == 0 {
		est.Complete()
	}

	metrics.ForOperation("poll").
		Metric("PollAttempts", float64(totalAttempts), metrics.UnitCount).
		Metric("CompletedJobs", float64(len(outcome.Completed)), metrics.UnitCount).
		Metric("FailedJobs", float64(len(outcome.Failed)), metrics.UnitCount).
		Duration("BatchDurationMs", time.Since(start)).
		Flush()

	return outcome, nil
}

// pollJob drives one job to a terminal state. Returns the attempt count and
// the terminal error for FAILED or timed-out jobs.
func (s *Scheduler) pollJob(ctx context.Context, session *Session, job *generation.Job, cfg Config, est *Estimator) (int, error) {
	logger := log.With().Str("requestId", job.RequestID).Int("sceneIndex", job.SceneIndex).Logger()
	deadline := time.Now().Add(cfg.MaxDuration)
	attempts := 0

	for {
		if session.Cancelled() {
			return attempts, generation.ErrCancelled
		}

		timedOut := cfg.MaxDuration > 0 && time.Now().After(deadline)
		if !timedOut && cfg.MaxAttempts > 0 && attempts >= cfg.MaxAttempts {
			timedOut = true
		}
		if timedOut {
			job.Status = generation.StatusFailed
			job.ErrorKind = generation.ErrKindPollTimeout
			logger.Warn().Int("attempts", attempts).Msg("Polling bound exceeded")
			return attempts, &generation.PollTimeoutError{RequestID: job.RequestID, Attempts: attempts}
		}

		// Dedup guard: skip the tick while a status call is still in flight.
		if session.Begin(job.RequestID) {
			attempts++
			reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			resp, err := s.provider.Status(reqCtx, job.RequestID)
			cancel()
			session.End(job.RequestID)

			if session.Cancelled() {
				// The call was allowed to finish; its result is discarded.
				return attempts, generation.ErrCancelled
			}

			switch {
			case err != nil:
				// Transient: a slow or failing status call never flips the
				// job to FAILED on its own.
				logger.Debug().Err(err).Msg("Status poll error, retrying next tick")
			default:
				if est != nil && resp.Progress > 0 {
					est.Observe(resp.Progress)
				}
				if done, terminalErr := applyStatus(job, resp, &logger); done {
					session.MarkCompleted(job.RequestID)
					return attempts, terminalErr
				}
			}
		}

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}
}

// applyStatus folds one provider response into the job. Returns done=true
// on a terminal transition.
func applyStatus(job *generation.Job, resp provider.StatusResponse, logger *zerolog.Logger) (bool, error) {
	switch resp.State {
	case generation.StatusInQueue:
		job.Status = generation.StatusInQueue
	case generation.StatusInProgress:
		job.Status = generation.StatusInProgress
	case generation.StatusCompleted:
		job.Status = generation.StatusCompleted
		job.ResultURL = resp.ResultURL
		logger.Info().Msg("Generation completed")
		return true, nil
	case generation.StatusFailed:
		job.Status = generation.StatusFailed
		job.ErrorKind = resp.ErrorKind
		if job.ErrorKind == "" {
			job.ErrorKind = generation.ErrKindProvider
		}
		logger.Warn().Str("errorKind", job.ErrorKind).Str("reason", resp.ErrorMessage).Msg("Generation failed")
		return true, &generation.GenerationError{
			RequestID: job.RequestID,
			Kind:      job.ErrorKind,
			Reason:    resp.ErrorMessage,
		}
	}
	return false, nil
}

func recordTerminal(mu *sync.Mutex, outcome *Outcome, job *generation.Job, err error) {
	mu.Lock()
	defer mu.Unlock()
	if job.Status == generation.StatusCompleted {
		outcome.Completed = append(outcome.Completed, job.SceneIndex)
		return
	}
	outcome.Failed = append(outcome.Failed, job.SceneIndex)
	if err != nil {
		outcome.Errors[job.SceneIndex] = err
	}
}
