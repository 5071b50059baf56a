package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/dto"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/store"
)

// execute runs the command tree with fresh flag state and captures stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	serverURL, outputFormat, locale, cfgFile = "", "table", "", ""
	waitForJob, watchFollow, watchStore = false, false, ""
	watchInterval = 10 * time.Millisecond
	tryOnFiles, tryOnAvatar, tryOnInstructions, retryPoses = nil, -1, "", nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusTable(t *testing.T) {
	started := time.Now().Add(-95 * time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dto.StatusResponse{
			GenerationStatus: domain.GenerationStatus{
				InProgress: true,
				StartTime:  &started,
				Job:        &domain.GenerationJob{ID: "job-1", Kind: domain.JobKindSingleItemTryOn, Status: domain.JobStatusRunning},
			},
			ElapsedMs: 95_000,
		})
	}))
	defer srv.Close()

	out, err := execute(t, "status", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "generating")
	assert.Contains(t, out, "1:35")
	assert.Contains(t, out, "job-1")
}

func TestTryOnSendsRefsAndReportsJob(t *testing.T) {
	var got dto.TryOnRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tryon", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(dto.JobResponse{Job: domain.GenerationJob{
			ID: "job-2", Kind: domain.JobKindMultiItemTryOn, Status: domain.JobStatusRunning, TimeoutBudget: 5 * time.Minute,
		}})
	}))
	defer srv.Close()

	out, err := execute(t, "tryon", "images/a.jpg", "images/b.jpg", "--avatar", "1", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"images/a.jpg", "images/b.jpg"}, got.GarmentRefs)
	require.NotNil(t, got.AvatarIndex)
	assert.Equal(t, 1, *got.AvatarIndex)
	assert.Contains(t, out, "job-2")
	assert.Contains(t, out, "closet watch")
}

func TestTryOnRequiresGarment(t *testing.T) {
	_, err := execute(t, "tryon", "--server", "http://127.0.0.1:1")
	assert.Error(t, err)
}

func TestServerRejectionSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: dto.ErrorDetail{Code: "generation_in_progress", Message: "busy"}})
	}))
	defer srv.Close()

	_, err := execute(t, "avatars", "retry", "--server", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation_in_progress")
}

func TestKeyStatusJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dto.APIKeyStatusResponse{Configured: true, Masked: "AIza…wxyz"})
	}))
	defer srv.Close()

	out, err := execute(t, "key", "status", "-o", "json", "--server", srv.URL)
	require.NoError(t, err)
	var status dto.APIKeyStatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.Configured)
}

func TestWatchLocalStoreIdle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closet.db")
	backend, err := store.OpenSQLite(path)
	require.NoError(t, err)
	finished := time.Now()
	st := store.New(backend)
	require.NoError(t, st.FinishGeneration(context.Background(), domain.GenerationJob{
		ID: "job-3", Kind: domain.JobKindAvatarBatch, Status: domain.JobStatusFailed,
		StartedAt: &finished, FinishedAt: &finished, ErrorMessage: "quota exhausted",
	}))
	require.NoError(t, st.Close())

	out, err := execute(t, "watch", "--store", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No generation running")
	assert.Contains(t, out, "quota exhausted")
}

func TestLineViewRendersTransitions(t *testing.T) {
	var buf bytes.Buffer
	v := newLineView(&buf)
	job := &domain.GenerationJob{ID: "j", Kind: domain.JobKindSingleItemTryOn, Status: domain.JobStatusRunning}
	v.Progress(domain.GenerationStatus{InProgress: true, Job: job}, 61*time.Second)

	done := *job
	done.Status = domain.JobStatusSucceeded
	done.ResultRefs = []string{"images/out.jpg"}
	v.Completed(domain.GenerationStatus{Job: &done}, &store.Snapshot{
		Avatars: store.AvatarView{Avatars: domain.AvatarSet{
			{PoseID: 1, ImageRef: "images/a.jpg", State: domain.AvatarSucceeded},
			{PoseID: 2, State: domain.AvatarFailed},
		}},
		Outfits: []domain.OutfitRecord{
			{ID: "o0", GeneratedImageRef: "images/old.jpg"},
			{ID: "o1", GeneratedImageRef: "images/out.jpg"},
		},
	})
	v.Completed(domain.GenerationStatus{}, nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Generating single-item-tryon... 1:01", lines[0])
	assert.Equal(t, "Done: single-item-tryon finished (1 images)", lines[1])
	assert.Equal(t, "Gallery: 2 outfits, 1/2 avatars ready, 0 wardrobe items", lines[2])
	assert.Equal(t, "Latest outfit: images/out.jpg", lines[3])
	assert.Equal(t, "Done.", lines[4])
}

func TestWatchRefreshesGalleryFromServer(t *testing.T) {
	started := time.Now().Add(-5 * time.Second)
	var polls, snapshots atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/generation/status":
			job := domain.GenerationJob{ID: "job-4", Kind: domain.JobKindSingleItemTryOn, Status: domain.JobStatusRunning}
			status := domain.GenerationStatus{InProgress: true, StartTime: &started, Job: &job}
			if polls.Add(1) > 2 {
				job.Status = domain.JobStatusSucceeded
				job.ResultRefs = []string{"images/new.jpg"}
				status = domain.GenerationStatus{Job: &job}
			}
			_ = json.NewEncoder(w).Encode(dto.StatusResponse{GenerationStatus: status})
		case "/v1/snapshot":
			snapshots.Add(1)
			_ = json.NewEncoder(w).Encode(dto.SnapshotResponse{
				Outfits: []domain.OutfitRecord{{ID: "o1", GeneratedImageRef: "images/new.jpg"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := execute(t, "watch", "--server", srv.URL, "--interval", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Done: single-item-tryon finished (1 images)")
	assert.Contains(t, out, "Gallery: 1 outfits, 0/0 avatars ready, 0 wardrobe items")
	assert.Contains(t, out, "Latest outfit: images/new.jpg")
	assert.Equal(t, int32(1), snapshots.Load())
}

func TestIsRemote(t *testing.T) {
	assert.True(t, isRemote("https://shop.example/p/1"))
	assert.True(t, isRemote("DATA:image/png;base64,AAAA"))
	assert.False(t, isRemote("./shirt.png"))
}
