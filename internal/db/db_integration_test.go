package db

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/songsmith/internal/workflow"
)

// connectTestDB connects to the database named by DATABASE_URL, skipping the
// test when it is not set. Tests share one schema; every row they create is
// keyed by fresh UUIDs so runs do not interfere.
func connectTestDB(t *testing.T) *DB {
	t.Helper()
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	ctx := context.Background()
	database, err := Connect(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(database.Close)

	require.NoError(t, database.Migrate(ctx))
	return database
}

func seedUser(t *testing.T, database *DB, credits int) *User {
	t.Helper()
	id := uuid.NewString()
	user, err := database.CreateUser(context.Background(), id, "Test User", id+"@example.com", credits)
	require.NoError(t, err)
	return user
}

func seedSong(t *testing.T, database *DB, userID string) *Song {
	t.Helper()
	described := "an upbeat synthwave track"
	song, err := database.CreateSong(context.Background(), &CreateSongInput{
		UserID:            userID,
		Title:             "Integration Song",
		FullDescribedSong: &described,
	})
	require.NoError(t, err)
	return song
}

func TestSongLifecycle_Integration(t *testing.T) {
	database := connectTestDB(t)
	ctx := context.Background()

	user := seedUser(t, database, 3)
	song := seedSong(t, database, user.ID)
	assert.Equal(t, StatusQueued, song.Status)

	require.NoError(t, database.SetSongStatus(ctx, song.ID, StatusProcessing))
	require.NoError(t, database.SetSongResult(ctx, song.ID, "songs/i.wav", "covers/i.png", StatusProcessed))

	got, gotUser, err := database.GetSongWithUser(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, got.Status)
	require.NotNil(t, got.S3Key)
	assert.Equal(t, "songs/i.wav", *got.S3Key)
	assert.Equal(t, user.ID, gotUser.ID)

	require.NoError(t, database.IncrementListenCount(ctx, song.ID))
	got, err = database.GetSong(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ListenCount)

	require.NoError(t, database.SetPublished(ctx, song.ID, user.ID, true))
	require.NoError(t, database.RenameSong(ctx, song.ID, user.ID, "Renamed"))

	songs, err := database.ListSongsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, "Renamed", songs[0].Title)
	assert.True(t, songs[0].Published)

	deleted, err := database.DeleteSong(ctx, song.ID, user.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted.S3Key)

	_, err = database.GetSong(ctx, song.ID)
	var notFound *ErrSongNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestSongOwnership_Integration(t *testing.T) {
	database := connectTestDB(t)
	ctx := context.Background()

	owner := seedUser(t, database, 1)
	stranger := seedUser(t, database, 1)
	song := seedSong(t, database, owner.ID)

	var notFound *ErrSongNotFound
	err := database.RenameSong(ctx, song.ID, stranger.ID, "Hijacked")
	assert.ErrorAs(t, err, &notFound)

	_, err = database.DeleteSong(ctx, song.ID, stranger.ID)
	assert.ErrorAs(t, err, &notFound)
}

func TestAdjustUserCredits_Integration(t *testing.T) {
	database := connectTestDB(t)
	ctx := context.Background()

	user := seedUser(t, database, 3)
	require.NoError(t, database.AdjustUserCredits(ctx, user.ID, -1))
	require.NoError(t, database.AdjustUserCredits(ctx, user.ID, -1))

	got, err := database.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Credits)

	var notFound *ErrUserNotFound
	err = database.AdjustUserCredits(ctx, uuid.NewString(), -1)
	assert.ErrorAs(t, err, &notFound)
}

func TestCategories_Integration(t *testing.T) {
	database := connectTestDB(t)
	ctx := context.Background()

	user := seedUser(t, database, 1)
	song := seedSong(t, database, user.ID)

	// Upserting the same names twice must be a no-op the second time.
	ids, err := database.UpsertCategoriesByName(ctx, []string{"synthwave", "pop"})
	require.NoError(t, err)
	assert.Equal(t, []string{"synthwave", "pop"}, ids)

	again, err := database.UpsertCategoriesByName(ctx, []string{"synthwave", "pop"})
	require.NoError(t, err)
	assert.Equal(t, ids, again)

	require.NoError(t, database.ReplaceSongCategories(ctx, song.ID, ids))
	got, err := database.ListSongCategories(ctx, song.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"synthwave", "pop"}, got)

	// Replacement swaps the full set.
	ids, err = database.UpsertCategoriesByName(ctx, []string{"ambient"})
	require.NoError(t, err)
	require.NoError(t, database.ReplaceSongCategories(ctx, song.ID, ids))
	got, err = database.ListSongCategories(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ambient"}, got)
}

func TestWorkflowStore_Integration(t *testing.T) {
	database := connectTestDB(t)
	ctx := context.Background()

	trig := workflow.Trigger{SongID: uuid.New(), UserID: uuid.NewString()}
	run, err := database.CreateRun(ctx, "generate-song", trig)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusRunning, run.Status)

	pending, err := database.ListPendingRuns(ctx, "generate-song")
	require.NoError(t, err)
	found := false
	for _, p := range pending {
		if p.ID == run.ID {
			found = true
			assert.Equal(t, trig, p.Trigger)
		}
	}
	assert.True(t, found, "running run must be listed as pending")

	// Step log: first write wins, replays see the original record.
	msg := "synthesis exploded"
	require.NoError(t, database.SaveStep(ctx, &workflow.StepRecord{
		RunID: run.ID, Step: "call-generation-endpoint", ErrMessage: &msg,
	}))
	require.NoError(t, database.SaveStep(ctx, &workflow.StepRecord{
		RunID: run.ID, Step: "call-generation-endpoint", Output: []byte(`{"ok":true}`),
	}))

	rec, err := database.GetStep(ctx, run.ID, "call-generation-endpoint")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.ErrMessage)
	assert.Equal(t, msg, *rec.ErrMessage)

	missing, err := database.GetStep(ctx, run.ID, "never-ran")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, database.CompleteRun(ctx, run.ID, workflow.RunStatusFailed))
	got, err := database.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
}
