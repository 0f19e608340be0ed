package generation

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"melodia/internal/logging"
	"melodia/internal/message"
	"melodia/internal/model"
)

var (
	jobsSubmittedCounter   = metrics.GetOrCreateCounter(`generation_jobs_total{result="submitted"}`)
	jobsRejectedCounter    = metrics.GetOrCreateCounter(`generation_jobs_total{result="rejected"}`)
	tracksCreatedCounter   = metrics.GetOrCreateCounter(`generation_tracks_total{result="created"}`)
	tracksDuplicateCounter = metrics.GetOrCreateCounter(`generation_tracks_total{result="duplicate"}`)
	tracksErrorCounter     = metrics.GetOrCreateCounter(`generation_tracks_total{result="error"}`)
)

type JobClient interface {
	StatusPoller
	Submit(ctx context.Context, req Request) (JobHandle, error)
	Extend(ctx context.Context, req ExtendRequest) (JobHandle, error)
}

type TrackStore interface {
	Create(ctx context.Context, track *model.TrackRecord) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event message.Event) error
}

// Tracker submits jobs on behalf of a user and follows them in that user's
// slot until the tracks are stored.
type Tracker struct {
	// DefaultModel replaces an empty Request.Model before validation.
	DefaultModel string

	client JobClient
	poller *Poller
	slots  *Slots
	tracks TrackStore
	events EventPublisher
	logger *slog.Logger
}

func NewTracker(client JobClient, poller *Poller, slots *Slots, tracks TrackStore, events EventPublisher, logger *slog.Logger) *Tracker {
	return &Tracker{client: client, poller: poller, slots: slots, tracks: tracks, events: events, logger: logger}
}

// Generate validates req, submits it and starts following the job. A loop
// already running for userID is cancelled.
func (t *Tracker) Generate(ctx context.Context, userID string, req Request) (JobHandle, error) {
	if req.Model == "" {
		req.Model = t.DefaultModel
	}
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		jobsRejectedCounter.Inc()
		return "", err
	}

	handle, err := t.client.Submit(ctx, req)
	if err != nil {
		jobsRejectedCounter.Inc()
		return "", err
	}
	jobsSubmittedCounter.Inc()

	t.follow(ctx, userID, handle, req.Prompt)
	return handle, nil
}

// Extend continues an existing track and follows the new job like Generate.
func (t *Tracker) Extend(ctx context.Context, userID string, req ExtendRequest) (JobHandle, error) {
	handle, err := t.client.Extend(ctx, req)
	if err != nil {
		jobsRejectedCounter.Inc()
		return "", err
	}
	jobsSubmittedCounter.Inc()

	t.follow(ctx, userID, handle, req.Prompt)
	return handle, nil
}

func (t *Tracker) Status(ctx context.Context, handle JobHandle) (*JobStatus, error) {
	return t.client.PollOnce(ctx, handle)
}

// Cancel stops following the user's current job. The provider keeps working
// on it; only the local loop ends.
func (t *Tracker) Cancel(userID string) bool {
	return t.slots.Cancel(userID)
}

func (t *Tracker) Active(userID string) (JobHandle, bool) {
	return t.slots.Active(userID)
}

func (t *Tracker) follow(ctx context.Context, userID string, handle JobHandle, prompt string) <-chan struct{} {
	// the loop outlives the request that started it
	ctx = context.WithoutCancel(logging.AppendCtx(ctx, slog.String("userId", userID)))

	onUpdate := func(status JobStatus) {
		t.logger.DebugContext(ctx, "Job status updated", "jobId", handle, "status", status.Status, "progress", status.Progress)
	}
	onTerminal := func(r Result) {
		if r.Outcome != OutcomeDone {
			t.logger.WarnContext(ctx, "Job ended without tracks", "jobId", handle, "outcome", r.Outcome, "error", r.Err)
			return
		}
		t.store(ctx, userID, handle, prompt, r.Status.Records)
	}

	return t.slots.Start(ctx, userID, handle, t.poller, onUpdate, onTerminal)
}

func (t *Tracker) store(ctx context.Context, userID string, handle JobHandle, prompt string, records []Record) {
	for _, rec := range records {
		track := &model.TrackRecord{
			ID:              uuid.New(),
			UserID:          userID,
			JobID:           string(handle),
			ProviderTrackID: rec.ID,
			Title:           rec.Title,
			AudioURL:        rec.AudioURL,
			ImageURL:        rec.ImageURL,
			Duration:        rec.Duration,
			Tags:            rec.Tags,
			Model:           rec.Model,
			Prompt:          rec.Prompt,
			CreatedAt:       time.Now().UTC(),
		}
		if track.Prompt == "" {
			track.Prompt = prompt
		}

		created, err := t.tracks.Create(ctx, track)
		if err != nil {
			tracksErrorCounter.Inc()
			t.logger.ErrorContext(ctx, "Error saving track", "jobId", handle, "providerTrackId", rec.ID, "error", err)
			continue
		}
		if !created {
			tracksDuplicateCounter.Inc()
			continue
		}
		tracksCreatedCounter.Inc()
		t.logger.InfoContext(ctx, "Track saved", "trackId", track.ID, "jobId", handle)

		event := message.NewEvent(message.EventTrackCreated, message.TrackCreated{
			TrackID: track.ID,
			UserID:  userID,
			JobID:   string(handle),
			Title:   track.Title,
		})
		if err := t.events.Publish(ctx, string(handle), event); err != nil {
			t.logger.ErrorContext(ctx, "Error publishing track event", "trackId", track.ID, "error", err)
		}
	}
}
