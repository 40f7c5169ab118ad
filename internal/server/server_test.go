package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/songsmith/internal/db"
	"github.com/jonathan/songsmith/internal/workflow"
)

// fakeSongStore implements SongStore in memory.
type fakeSongStore struct {
	songs      map[uuid.UUID]*db.Song
	categories map[uuid.UUID][]string
	runs       map[uuid.UUID]*workflow.Run
	listens    map[uuid.UUID]int
}

func newFakeSongStore() *fakeSongStore {
	return &fakeSongStore{
		songs:      make(map[uuid.UUID]*db.Song),
		categories: make(map[uuid.UUID][]string),
		runs:       make(map[uuid.UUID]*workflow.Run),
		listens:    make(map[uuid.UUID]int),
	}
}

func (f *fakeSongStore) CreateSong(_ context.Context, input *db.CreateSongInput) (*db.Song, error) {
	song := &db.Song{
		ID:                uuid.New(),
		UserID:            input.UserID,
		Title:             input.Title,
		Status:            db.StatusQueued,
		Instrumental:      input.Instrumental,
		Prompt:            input.Prompt,
		Lyrics:            input.Lyrics,
		FullDescribedSong: input.FullDescribedSong,
		DescribedLyrics:   input.DescribedLyrics,
		GuidanceScale:     input.GuidanceScale,
		InferStep:         input.InferStep,
		AudioDuration:     input.AudioDuration,
		Seed:              input.Seed,
		CreatedAt:         time.Now().UTC(),
	}
	f.songs[song.ID] = song
	return song, nil
}

func (f *fakeSongStore) GetSong(_ context.Context, songID uuid.UUID) (*db.Song, error) {
	song, ok := f.songs[songID]
	if !ok {
		return nil, &db.ErrSongNotFound{SongID: songID}
	}
	return song, nil
}

func (f *fakeSongStore) ListSongsByUser(_ context.Context, userID string) ([]db.Song, error) {
	var out []db.Song
	for _, s := range f.songs {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSongStore) ListSongCategories(_ context.Context, songID uuid.UUID) ([]string, error) {
	return f.categories[songID], nil
}

func (f *fakeSongStore) IncrementListenCount(_ context.Context, songID uuid.UUID) error {
	f.listens[songID]++
	return nil
}

func (f *fakeSongStore) SetPublished(_ context.Context, songID uuid.UUID, userID string, published bool) error {
	song, ok := f.songs[songID]
	if !ok || song.UserID != userID {
		return &db.ErrSongNotFound{SongID: songID}
	}
	song.Published = published
	return nil
}

func (f *fakeSongStore) RenameSong(_ context.Context, songID uuid.UUID, userID, title string) error {
	song, ok := f.songs[songID]
	if !ok || song.UserID != userID {
		return &db.ErrSongNotFound{SongID: songID}
	}
	song.Title = title
	return nil
}

func (f *fakeSongStore) DeleteSong(_ context.Context, songID uuid.UUID, userID string) (*db.Song, error) {
	song, ok := f.songs[songID]
	if !ok || song.UserID != userID {
		return nil, &db.ErrSongNotFound{SongID: songID}
	}
	delete(f.songs, songID)
	return song, nil
}

func (f *fakeSongStore) GetRun(_ context.Context, runID uuid.UUID) (*workflow.Run, error) {
	return f.runs[runID], nil
}

// fakeDispatcher records dispatched triggers.
type fakeDispatcher struct {
	triggers []workflow.Trigger
	err      error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ string, trig workflow.Trigger) (*workflow.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.triggers = append(f.triggers, trig)
	return &workflow.Handle{RunID: uuid.New()}, nil
}

// fakeBlobStore records presigns and deletes.
type fakeBlobStore struct {
	deleted []string
}

func (f *fakeBlobStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (f *fakeBlobStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type testFixture struct {
	store      *fakeSongStore
	dispatcher *fakeDispatcher
	blobs      *fakeBlobStore
	handler    http.Handler
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	store := newFakeSongStore()
	dispatcher := &fakeDispatcher{}
	blobs := &fakeBlobStore{}
	srv := New(Config{
		Port:   0,
		Store:  store,
		Engine: dispatcher,
		Blobs:  blobs,
		Logger: log.New(io.Discard),
	})
	return &testFixture{store: store, dispatcher: dispatcher, blobs: blobs, handler: srv.Handler()}
}

func (f *testFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newTestFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSong(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/songs", CreateSongRequest{
		UserID:            "user-1",
		FullDescribedSong: "an upbeat synthwave track",
		Instrumental:      true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp CreateSongResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, db.StatusQueued, resp.Status)
	assert.NotEmpty(t, resp.RunID)

	songID, err := uuid.Parse(resp.SongID)
	require.NoError(t, err)
	song := f.store.songs[songID]
	require.NotNil(t, song)
	assert.Equal(t, "An upbeat synthwave track", song.Title)
	require.NotNil(t, song.GuidanceScale)
	assert.Equal(t, 15.0, *song.GuidanceScale)
	require.NotNil(t, song.AudioDuration)
	assert.Equal(t, 180.0, *song.AudioDuration)
	assert.True(t, song.Instrumental)

	require.Len(t, f.dispatcher.triggers, 1)
	assert.Equal(t, songID, f.dispatcher.triggers[0].SongID)
	assert.Equal(t, "user-1", f.dispatcher.triggers[0].UserID)
}

func TestCreateSong_TitleDerivation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateSongRequest
		want string
	}{
		{
			name: "described lyrics",
			req:  CreateSongRequest{UserID: "u", DescribedLyrics: "a song about rain", Prompt: "lo-fi"},
			want: "A song about rain",
		},
		{
			name: "full description",
			req:  CreateSongRequest{UserID: "u", FullDescribedSong: "moody jazz"},
			want: "Moody jazz",
		},
		{
			name: "lyrics only falls back to Untitled",
			req:  CreateSongRequest{UserID: "u", Lyrics: "verse one", Prompt: "piano"},
			want: "Untitled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFixture(t)
			rec := f.do(t, http.MethodPost, "/songs", tt.req)
			require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

			var resp CreateSongResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			songID := uuid.MustParse(resp.SongID)
			assert.Equal(t, tt.want, f.store.songs[songID].Title)
		})
	}

	t.Run("full description wins over described lyrics", func(t *testing.T) {
		req := CreateSongRequest{DescribedLyrics: "about rain", FullDescribedSong: "moody jazz"}
		assert.Equal(t, "Moody jazz", req.Title())
	})
}

func TestCreateSong_Validation(t *testing.T) {
	f := newTestFixture(t)

	t.Run("missing user", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/songs", CreateSongRequest{FullDescribedSong: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no inputs", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/songs", CreateSongRequest{UserID: "u", Prompt: "piano"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("lyrics without prompt", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/songs", CreateSongRequest{UserID: "u", Lyrics: "verse one"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("described lyrics without prompt", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/songs", CreateSongRequest{UserID: "u", DescribedLyrics: "about rain"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("full description combined with prompt", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/songs", CreateSongRequest{UserID: "u", FullDescribedSong: "a ballad", Prompt: "piano"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("two input groups", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/songs", CreateSongRequest{
			UserID: "u", Lyrics: "verse one", DescribedLyrics: "about rain", Prompt: "piano",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/songs", bytes.NewReader([]byte("{")))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.Empty(t, f.dispatcher.triggers, "invalid requests must not dispatch jobs")
}

func TestListSongs(t *testing.T) {
	f := newTestFixture(t)
	_, err := f.store.CreateSong(context.Background(), &db.CreateSongInput{UserID: "user-1", Title: "One"})
	require.NoError(t, err)
	_, err = f.store.CreateSong(context.Background(), &db.CreateSongInput{UserID: "user-2", Title: "Two"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/songs?user_id=user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Songs []db.Song `json:"songs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Songs, 1)
	assert.Equal(t, "One", resp.Songs[0].Title)

	rec = f.do(t, http.MethodGet, "/songs", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "user_id is required")
}

func TestGetSong(t *testing.T) {
	f := newTestFixture(t)
	song, err := f.store.CreateSong(context.Background(), &db.CreateSongInput{UserID: "user-1", Title: "One"})
	require.NoError(t, err)
	f.store.categories[song.ID] = []string{"pop"}

	rec := f.do(t, http.MethodGet, "/songs/"+song.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SongResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, song.ID, resp.ID)
	assert.Equal(t, []string{"pop"}, resp.Categories)

	rec = f.do(t, http.MethodGet, "/songs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/songs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaySong(t *testing.T) {
	f := newTestFixture(t)
	song, err := f.store.CreateSong(context.Background(), &db.CreateSongInput{UserID: "user-1", Title: "One"})
	require.NoError(t, err)
	key := "songs/one.wav"
	song.S3Key = &key

	t.Run("owner", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/songs/%s/play?user_id=user-1", song.ID), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "https://signed.example/songs/one.wav", resp["url"])
		assert.Equal(t, 1, f.store.listens[song.ID])
	})

	t.Run("stranger before publish", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/songs/%s/play?user_id=user-2", song.ID), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("stranger after publish", func(t *testing.T) {
		song.Published = true
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/songs/%s/play?user_id=user-2", song.ID), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no audio yet", func(t *testing.T) {
		pending, err := f.store.CreateSong(context.Background(), &db.CreateSongInput{UserID: "user-1", Title: "Pending"})
		require.NoError(t, err)
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/songs/%s/play?user_id=user-1", pending.ID), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPublishAndRename(t *testing.T) {
	f := newTestFixture(t)
	song, err := f.store.CreateSong(context.Background(), &db.CreateSongInput{UserID: "user-1", Title: "One"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPatch, "/songs/"+song.ID.String()+"/publish", PublishSongRequest{UserID: "user-1", Published: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.store.songs[song.ID].Published)

	rec = f.do(t, http.MethodPatch, "/songs/"+song.ID.String()+"/title", RenameSongRequest{UserID: "user-1", Title: "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", f.store.songs[song.ID].Title)

	rec = f.do(t, http.MethodPatch, "/songs/"+song.ID.String()+"/title", RenameSongRequest{UserID: "user-2", Title: "Hijacked"})
	assert.Equal(t, http.StatusNotFound, rec.Code, "renames are scoped to the owner")
	assert.Equal(t, "Renamed", f.store.songs[song.ID].Title)
}

func TestDeleteSong(t *testing.T) {
	f := newTestFixture(t)
	song, err := f.store.CreateSong(context.Background(), &db.CreateSongInput{UserID: "user-1", Title: "One"})
	require.NoError(t, err)
	audio, cover := "songs/one.wav", "covers/one.png"
	song.S3Key = &audio
	song.ThumbnailS3Key = &cover

	rec := f.do(t, http.MethodDelete, fmt.Sprintf("/songs/%s?user_id=user-2", song.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "deletes are scoped to the owner")

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/songs/%s?user_id=user-1", song.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, f.store.songs, song.ID)
	assert.ElementsMatch(t, []string{audio, cover}, f.blobs.deleted)
}

func TestGetRun(t *testing.T) {
	f := newTestFixture(t)
	now := time.Now().UTC()
	run := &workflow.Run{
		ID:          uuid.New(),
		Job:         "generate-song",
		Status:      workflow.RunStatusCompleted,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	f.store.runs[run.ID] = run

	rec := f.do(t, http.MethodGet, "/runs/"+run.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, workflow.RunStatusCompleted, resp.Status)
	assert.NotEmpty(t, resp.CompletedAt)

	rec = f.do(t, http.MethodGet, "/runs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
