package generation

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"melodia/internal/apperr"
	"melodia/internal/config"
	"melodia/internal/logging"
	"melodia/internal/model"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPollAttempts = 60
)

var (
	pollProcessingCounter = metrics.GetOrCreateCounter(`generation_poll_total{result="processing"}`)
	pollDoneCounter       = metrics.GetOrCreateCounter(`generation_poll_total{result="done"}`)
	pollFailedCounter     = metrics.GetOrCreateCounter(`generation_poll_total{result="failed"}`)
	pollTimeoutCounter    = metrics.GetOrCreateCounter(`generation_poll_total{result="timeout"}`)
	pollErrorCounter      = metrics.GetOrCreateCounter(`generation_poll_total{result="poll_error"}`)
	pollCancelledCounter  = metrics.GetOrCreateCounter(`generation_poll_total{result="cancelled"}`)

	pollLoopDurationHistogram = metrics.GetOrCreateHistogram(`generation_poll_loop_duration_seconds`)
)

type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is what a polling loop ended with. Err is set for every outcome
// except OutcomeDone; its apperr kind tells a timeout apart from a failure.
type Result struct {
	Outcome  Outcome
	Status   *JobStatus
	Attempts int
	Err      error
}

type StatusPoller interface {
	PollOnce(ctx context.Context, handle JobHandle) (*JobStatus, error)
}

type Poller struct {
	client      StatusPoller
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

func NewPoller(client StatusPoller, cfg config.Generation, logger *slog.Logger) *Poller {
	interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxAttempts := cfg.MaxPollAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxPollAttempts
	}
	return &Poller{client: client, interval: interval, maxAttempts: maxAttempts, logger: logger}
}

// Run polls handle every interval until the job is done, failed, the attempt
// ceiling is reached, a poll fails, or ctx is cancelled. The next poll is only
// scheduled after the previous one returned. onTerminal is not invoked on
// cancellation, and a poll that returns after cancellation is discarded.
func (p *Poller) Run(ctx context.Context, handle JobHandle, onUpdate func(JobStatus), onTerminal func(Result)) Result {
	ctx = logging.AppendCtx(ctx, slog.String("jobId", string(handle)))
	startTime := time.Now()
	defer func() {
		pollLoopDurationHistogram.UpdateDuration(startTime)
	}()

	finish := func(r Result) Result {
		p.logger.InfoContext(ctx, "Polling finished", "outcome", r.Outcome, "attempts", r.Attempts)
		if onTerminal != nil {
			onTerminal(r)
		}
		return r
	}

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return p.cancelled(ctx, attempt-1)
		case <-timer.C:
		}

		status, err := p.client.PollOnce(ctx, handle)
		if ctx.Err() != nil {
			return p.cancelled(ctx, attempt)
		}

		if err != nil {
			pollErrorCounter.Inc()
			p.logger.ErrorContext(ctx, "Error polling job", "attempt", attempt, "error", err)
			if !apperr.Is(err, apperr.KindPoll) && !apperr.Is(err, apperr.KindConfiguration) {
				err = apperr.Wrap(apperr.KindPoll, err, "failed to poll job")
			}
			return finish(Result{Outcome: OutcomeFailed, Attempts: attempt, Err: err})
		}

		if onUpdate != nil {
			onUpdate(*status)
		}

		switch status.Status {
		case model.JobDone:
			if len(status.Records) == 0 {
				pollFailedCounter.Inc()
				return finish(Result{Outcome: OutcomeFailed, Status: status, Attempts: attempt,
					Err: apperr.New(apperr.KindProvider, "job finished without any tracks")})
			}
			pollDoneCounter.Inc()
			return finish(Result{Outcome: OutcomeDone, Status: status, Attempts: attempt})
		case model.JobFailed:
			pollFailedCounter.Inc()
			return finish(Result{Outcome: OutcomeFailed, Status: status, Attempts: attempt,
				Err: apperr.New(apperr.KindProvider, "generation failed: %s", status.Reason)})
		}

		pollProcessingCounter.Inc()
		if attempt >= p.maxAttempts {
			pollTimeoutCounter.Inc()
			return finish(Result{Outcome: OutcomeTimeout, Status: status, Attempts: attempt,
				Err: apperr.New(apperr.KindTimeout, "job still %s after %d attempts", status.Status, attempt)})
		}

		timer.Reset(p.interval)
	}
}

func (p *Poller) cancelled(ctx context.Context, attempts int) Result {
	pollCancelledCounter.Inc()
	p.logger.InfoContext(ctx, "Polling cancelled", "attempts", attempts)
	return Result{Outcome: OutcomeCancelled, Attempts: attempts, Err: context.Canceled}
}
