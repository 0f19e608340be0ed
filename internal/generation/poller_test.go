package generation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"melodia/internal/apperr"
	"melodia/internal/config"
	"melodia/internal/logging"
	"melodia/internal/model"
)

type pollFunc func(attempt int) (*JobStatus, error)

// scriptedPoller answers PollOnce per handle from a script. Attempts are
// counted per handle starting at 1.
type scriptedPoller struct {
	mu       sync.Mutex
	scripts  map[JobHandle]pollFunc
	attempts map[JobHandle]int
}

func newScriptedPoller() *scriptedPoller {
	return &scriptedPoller{scripts: map[JobHandle]pollFunc{}, attempts: map[JobHandle]int{}}
}

func (s *scriptedPoller) on(handle JobHandle, fn pollFunc) *scriptedPoller {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[handle] = fn
	return s
}

func (s *scriptedPoller) PollOnce(_ context.Context, handle JobHandle) (*JobStatus, error) {
	s.mu.Lock()
	s.attempts[handle]++
	attempt := s.attempts[handle]
	fn := s.scripts[handle]
	s.mu.Unlock()
	return fn(attempt)
}

func (s *scriptedPoller) calls(handle JobHandle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[handle]
}

func always(status model.JobStatus) pollFunc {
	return func(int) (*JobStatus, error) {
		return &JobStatus{Status: status}, nil
	}
}

func doneAfter(n int, records ...Record) pollFunc {
	return func(attempt int) (*JobStatus, error) {
		if attempt < n {
			return &JobStatus{Status: model.JobProcessing}, nil
		}
		return &JobStatus{Status: model.JobDone, Records: records}, nil
	}
}

func testPoller(client StatusPoller, intervalMs, maxAttempts int) *Poller {
	return NewPoller(client, config.Generation{PollIntervalMs: intervalMs, MaxPollAttempts: maxAttempts}, logging.Discard())
}

type terminalRecorder struct {
	updates   atomic.Int32
	terminals atomic.Int32
	mu        sync.Mutex
	last      Result
}

func (r *terminalRecorder) onUpdate(JobStatus) {
	r.updates.Add(1)
}

func (r *terminalRecorder) onTerminal(res Result) {
	r.mu.Lock()
	r.last = res
	r.mu.Unlock()
	r.terminals.Add(1)
}

func TestPoller_TimeoutAfterCeiling(t *testing.T) {
	client := newScriptedPoller().on("job", always(model.JobProcessing))
	rec := &terminalRecorder{}

	res := testPoller(client, 1, 60).Run(context.Background(), "job", rec.onUpdate, rec.onTerminal)

	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Equal(t, 60, res.Attempts)
	assert.Equal(t, 60, client.calls("job"))
	assert.True(t, apperr.Is(res.Err, apperr.KindTimeout))
	assert.False(t, apperr.Is(res.Err, apperr.KindPoll))
	assert.EqualValues(t, 60, rec.updates.Load())
	assert.EqualValues(t, 1, rec.terminals.Load())
	assert.Equal(t, res, rec.last)
}

func TestPoller_Outcomes(t *testing.T) {
	track := Record{ID: "clip-1", AudioURL: "https://cdn.example.com/clip-1.mp3"}

	tests := []struct {
		name            string
		script          pollFunc
		expectedOutcome Outcome
		expectedKind    apperr.Kind
		expectedCalls   int
	}{
		{
			name:            "DoneAfterProcessing",
			script:          doneAfter(3, track),
			expectedOutcome: OutcomeDone,
			expectedCalls:   3,
		},
		{
			name: "PendingThenDone",
			script: func(attempt int) (*JobStatus, error) {
				if attempt == 1 {
					return &JobStatus{Status: model.JobPending}, nil
				}
				return &JobStatus{Status: model.JobDone, Records: []Record{track}}, nil
			},
			expectedOutcome: OutcomeDone,
			expectedCalls:   2,
		},
		{
			name: "ProviderFailure",
			script: func(int) (*JobStatus, error) {
				return &JobStatus{Status: model.JobFailed, Reason: "content policy"}, nil
			},
			expectedOutcome: OutcomeFailed,
			expectedKind:    apperr.KindProvider,
			expectedCalls:   1,
		},
		{
			name:            "DoneWithoutTracks",
			script:          doneAfter(1),
			expectedOutcome: OutcomeFailed,
			expectedKind:    apperr.KindProvider,
			expectedCalls:   1,
		},
		{
			name: "TransportError",
			script: func(attempt int) (*JobStatus, error) {
				if attempt < 2 {
					return &JobStatus{Status: model.JobProcessing}, nil
				}
				return nil, apperr.Wrap(apperr.KindPoll, errors.New("connection reset"), "failed to reach generation provider")
			},
			expectedOutcome: OutcomeFailed,
			expectedKind:    apperr.KindPoll,
			expectedCalls:   2,
		},
		{
			name: "UntaggedErrorBecomesPollError",
			script: func(int) (*JobStatus, error) {
				return nil, errors.New("boom")
			},
			expectedOutcome: OutcomeFailed,
			expectedKind:    apperr.KindPoll,
			expectedCalls:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newScriptedPoller().on("job", tt.script)
			rec := &terminalRecorder{}

			res := testPoller(client, 1, 10).Run(context.Background(), "job", rec.onUpdate, rec.onTerminal)

			assert.Equal(t, tt.expectedOutcome, res.Outcome)
			assert.Equal(t, tt.expectedCalls, client.calls("job"))
			assert.EqualValues(t, 1, rec.terminals.Load())
			if tt.expectedKind == "" {
				assert.NoError(t, res.Err)
				require.NotNil(t, res.Status)
				assert.Equal(t, "clip-1", res.Status.Records[0].ID)
			} else {
				assert.True(t, apperr.Is(res.Err, tt.expectedKind), "unexpected error: %v", res.Err)
			}
		})
	}
}

func TestPoller_FirstPollWaitsOneInterval(t *testing.T) {
	client := newScriptedPoller().on("job", doneAfter(1, Record{ID: "clip-1"}))

	start := time.Now()
	res := testPoller(client, 50, 10).Run(context.Background(), "job", nil, nil)

	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPoller_TerminatesWithinCeilingTimesInterval(t *testing.T) {
	client := newScriptedPoller().on("job", always(model.JobProcessing))

	start := time.Now()
	res := testPoller(client, 5, 10).Run(context.Background(), "job", nil, nil)
	elapsed := time.Since(start)

	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestPoller_CancelBeforeFirstPoll(t *testing.T) {
	client := newScriptedPoller().on("job", doneAfter(1, Record{ID: "clip-1"}))
	rec := &terminalRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := testPoller(client, 10, 10).Run(ctx, "job", rec.onUpdate, rec.onTerminal)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Zero(t, client.calls("job"))
	assert.Zero(t, rec.terminals.Load())
}

func TestPoller_InFlightPollDiscardedAfterCancel(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	client := newScriptedPoller().on("job", func(int) (*JobStatus, error) {
		close(inFlight)
		<-release
		return &JobStatus{Status: model.JobDone, Records: []Record{{ID: "clip-1"}}}, nil
	})
	rec := &terminalRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan Result, 1)
	go func() {
		results <- testPoller(client, 1, 10).Run(ctx, "job", rec.onUpdate, rec.onTerminal)
	}()

	<-inFlight
	cancel()
	close(release)

	res := <-results
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, 1, client.calls("job"))
	assert.Zero(t, rec.updates.Load())
	assert.Zero(t, rec.terminals.Load())
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(newScriptedPoller(), config.Generation{}, logging.Discard())

	assert.Equal(t, DefaultPollInterval, p.interval)
	assert.Equal(t, DefaultMaxPollAttempts, p.maxAttempts)
}
