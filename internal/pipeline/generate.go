// Package pipeline defines the song-generation job executed by the workflow
// engine.
package pipeline

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jonathan/songsmith/internal/db"
	"github.com/jonathan/songsmith/internal/generation"
	"github.com/jonathan/songsmith/internal/workflow"
)

// JobGenerateSong is the trigger name the engine dispatches on.
const JobGenerateSong = "generate-song"

// Store is the slice of the persistent store the job consumes. Every
// externally visible write the job makes goes through one of these calls,
// always from inside a memoized step.
type Store interface {
	GetSongWithUser(ctx context.Context, songID uuid.UUID) (*db.Song, *db.User, error)
	SetSongStatus(ctx context.Context, songID uuid.UUID, status string) error
	SetSongResult(ctx context.Context, songID uuid.UUID, s3Key, thumbnailKey, status string) error
	UpsertCategoriesByName(ctx context.Context, names []string) ([]string, error)
	ReplaceSongCategories(ctx context.Context, songID uuid.UUID, categoryIDs []string) error
	AdjustUserCredits(ctx context.Context, userID string, delta int) error
}

// Generator performs the external synthesis call.
type Generator interface {
	Generate(ctx context.Context, endpoint string, body generation.RequestBody) workflow.FetchOutcome
}

// GenerateSongJob drives a queued song through
// processing -> {processed | failed | no_credits}.
type GenerateSongJob struct {
	store     Store
	client    Generator
	endpoints generation.Endpoints
	logger    *log.Logger
}

// NewGenerateSongJob wires the job against its collaborators.
func NewGenerateSongJob(store Store, client Generator, endpoints generation.Endpoints, logger *log.Logger) *GenerateSongJob {
	return &GenerateSongJob{store: store, client: client, endpoints: endpoints, logger: logger}
}

// Definition returns the engine registration: serialized per user, with the
// failure hook forcing status=failed for anything the steps did not absorb.
func (j *GenerateSongJob) Definition() *workflow.Job {
	return &workflow.Job{
		Name:      JobGenerateSong,
		Key:       func(trig workflow.Trigger) string { return trig.UserID },
		Handler:   j.run,
		OnFailure: j.onFailure,
	}
}

// routedRequest is the memoized output of the build-request step.
type routedRequest struct {
	UserID   string                 `json:"user_id"`
	Credits  int                    `json:"credits"`
	Endpoint string                 `json:"endpoint"`
	Body     generation.RequestBody `json:"body"`
}

func (j *GenerateSongJob) run(ctx context.Context, ex *workflow.Execution, trig workflow.Trigger) error {
	req, err := workflow.Step(ctx, ex, "build-request", func(ctx context.Context) (routedRequest, error) {
		song, user, err := j.store.GetSongWithUser(ctx, trig.SongID)
		if err != nil {
			return routedRequest{}, err
		}
		mode, err := generation.ResolveMode(song)
		if err != nil {
			return routedRequest{}, err
		}
		return routedRequest{
			UserID:   user.ID,
			Credits:  user.Credits,
			Endpoint: j.endpoints.For(mode),
			Body:     generation.BuildRequest(song),
		}, nil
	})
	if err != nil {
		return err
	}

	// Credit gate: exhaustion is a terminal success state, not an error.
	if req.Credits <= 0 {
		_, err := workflow.Step(ctx, ex, "set-status-no-credits", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, j.store.SetSongStatus(ctx, trig.SongID, db.StatusNoCredits)
		})
		return err
	}

	// Durable checkpoint before the slow external call so observers see
	// progress even if the process dies mid-flight.
	_, err = workflow.Step(ctx, ex, "set-status-processing", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, j.store.SetSongStatus(ctx, trig.SongID, db.StatusProcessing)
	})
	if err != nil {
		return err
	}

	outcome, err := workflow.Fetch(ctx, ex, "call-generation-endpoint", func(ctx context.Context) workflow.FetchOutcome {
		return j.client.Generate(ctx, req.Endpoint, req.Body)
	})
	if err != nil {
		return err
	}

	succeeded, err := workflow.Step(ctx, ex, "persist-result", func(ctx context.Context) (bool, error) {
		if !outcome.OK {
			return false, j.store.SetSongStatus(ctx, trig.SongID, db.StatusFailed)
		}
		resp, perr := generation.ParseResponse(outcome.Body)
		if perr != nil {
			// Malformed success body: same soft-failure branch as non-2xx.
			ex.Logger.Warn("generation response unusable", "error", perr)
			return false, j.store.SetSongStatus(ctx, trig.SongID, db.StatusFailed)
		}

		if err := j.store.SetSongResult(ctx, trig.SongID, resp.S3Key, resp.CoverImageS3Key, db.StatusProcessed); err != nil {
			return false, err
		}
		if len(resp.Categories) > 0 {
			ids, err := j.store.UpsertCategoriesByName(ctx, resp.Categories)
			if err != nil {
				return false, err
			}
			if err := j.store.ReplaceSongCategories(ctx, trig.SongID, ids); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if !succeeded {
		return nil
	}

	_, err = workflow.Step(ctx, ex, "deduct-credits", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, j.store.AdjustUserCredits(ctx, req.UserID, -1)
	})
	return err
}

// onFailure is the job-level safety net: whatever went wrong, the song ends
// observable as failed.
func (j *GenerateSongJob) onFailure(ctx context.Context, trig workflow.Trigger, err error) {
	j.logger.Error("generate-song run failed", "song_id", trig.SongID, "user_id", trig.UserID, "error", err)
	if serr := j.store.SetSongStatus(ctx, trig.SongID, db.StatusFailed); serr != nil {
		j.logger.Error("failed to mark song failed", "song_id", trig.SongID, "error", serr)
	}
}
