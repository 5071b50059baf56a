package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/store"
)

type recordingView struct {
	mu        sync.Mutex
	idle      int
	progress  []time.Duration
	completed []domain.GenerationStatus
	galleries []*store.Snapshot
}

func (v *recordingView) Idle(domain.GenerationStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.idle++
}

func (v *recordingView) Progress(_ domain.GenerationStatus, elapsed time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.progress = append(v.progress, elapsed)
}

func (v *recordingView) Completed(s domain.GenerationStatus, gallery *store.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.completed = append(v.completed, s)
	v.galleries = append(v.galleries, gallery)
}

func (v *recordingView) counts() (progress, completed int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.progress), len(v.completed)
}

// countingGallery counts refreshes of the wrapped store.
type countingGallery struct {
	*store.Store
	calls atomic.Int32
}

func (g *countingGallery) Snapshot(ctx context.Context) (store.Snapshot, error) {
	g.calls.Add(1)
	return g.Store.Snapshot(ctx)
}

type pushStub struct {
	ch chan domain.PushMessage
}

func (p pushStub) Subscribe(context.Context) (<-chan domain.PushMessage, error) { return p.ch, nil }

type failingSource struct{}

func (failingSource) GenerationStatus(context.Context) (domain.GenerationStatus, error) {
	return domain.GenerationStatus{}, errors.New("store offline")
}

func (v *recordingView) progressed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.progress) > 0
}

func runningJob(started time.Time) domain.GenerationJob {
	return domain.GenerationJob{
		ID:            "job-1",
		Kind:          domain.JobKindSingleItemTryOn,
		Status:        domain.JobStatusRunning,
		StartedAt:     &started,
		TimeoutBudget: time.Minute,
	}
}

func TestResumeSeedsElapsedFromStartTime(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := store.New(store.NewMemoryBackend())
	require.NoError(t, st.BeginGeneration(ctx, runningJob(now.Add(-95*time.Second))))

	view := &recordingView{}
	m, err := New(Options{Source: st, View: view, Now: func() time.Time { return now }, Logger: infra.DiscardLogger()})
	require.NoError(t, err)

	running, err := m.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, running)
	require.Len(t, view.progress, 1)
	assert.Equal(t, 95*time.Second, view.progress[0])
}

func TestRunStopsWhenFlagClears(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st := store.New(store.NewMemoryBackend())
	job := runningJob(time.Now().UTC())
	require.NoError(t, st.BeginGeneration(ctx, job))

	view := &recordingView{}
	m, err := New(Options{Source: st, View: view, Interval: 10 * time.Millisecond, Logger: infra.DiscardLogger()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	require.Eventually(t, view.progressed, time.Second, time.Millisecond)

	finished := time.Now().UTC()
	job.Status = domain.JobStatusSucceeded
	job.FinishedAt = &finished
	job.ResultRefs = []string{"images/out.jpg"}
	require.NoError(t, st.FinishGeneration(ctx, job))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("monitor did not observe completion")
	}

	view.mu.Lock()
	defer view.mu.Unlock()
	require.Len(t, view.completed, 1)
	assert.False(t, view.completed[0].InProgress)
	require.NotNil(t, view.completed[0].Job)
	assert.Equal(t, domain.JobStatusSucceeded, view.completed[0].Job.Status)
	assert.Nil(t, view.galleries[0], "no gallery source configured")
	assert.NotEmpty(t, view.progress)
	assert.Zero(t, view.idle)
}

func TestCompletionRefreshesGalleryOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st := store.New(store.NewMemoryBackend())
	gallery := &countingGallery{Store: st}
	view := &recordingView{}
	m, err := New(Options{Source: st, Gallery: gallery, View: view, Interval: 5 * time.Millisecond, Follow: true, Logger: infra.DiscardLogger()})
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- m.Run(runCtx) }()

	for i := 0; i < 2; i++ {
		progressed, _ := view.counts()
		job := runningJob(time.Now().UTC())
		job.ID = fmt.Sprintf("job-%d", i)
		require.NoError(t, st.BeginGeneration(ctx, job))
		require.Eventually(t, func() bool { p, _ := view.counts(); return p > progressed }, time.Second, time.Millisecond)

		ref := fmt.Sprintf("images/out-%d.jpg", i)
		require.NoError(t, st.AppendOutfit(ctx, domain.OutfitRecord{ID: job.ID, JobID: job.ID, GeneratedImageRef: ref}))
		finished := time.Now().UTC()
		job.Status = domain.JobStatusSucceeded
		job.FinishedAt = &finished
		job.ResultRefs = []string{ref}
		require.NoError(t, st.FinishGeneration(ctx, job))
		want := i + 1
		require.Eventually(t, func() bool { _, c := view.counts(); return c == want }, time.Second, time.Millisecond)
	}

	// idle polls after a completion do not refresh again
	time.Sleep(30 * time.Millisecond)
	stop()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, int32(2), gallery.calls.Load())
	view.mu.Lock()
	defer view.mu.Unlock()
	require.Len(t, view.galleries, 2)
	require.NotNil(t, view.galleries[0])
	require.NotNil(t, view.galleries[1])
	assert.Len(t, view.galleries[0].Outfits, 1)
	require.Len(t, view.galleries[1].Outfits, 2)
	assert.Equal(t, "images/out-1.jpg", view.galleries[1].Outfits[1].GeneratedImageRef)
	assert.False(t, view.galleries[1].Status.InProgress)
}

type brokenGallery struct{}

func (brokenGallery) Snapshot(context.Context) (store.Snapshot, error) {
	return store.Snapshot{}, errors.New("store offline")
}

func TestGalleryFailureStillCompletes(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryBackend())
	job := runningJob(time.Now().UTC())
	require.NoError(t, st.BeginGeneration(ctx, job))

	view := &recordingView{}
	m, err := New(Options{Source: st, Gallery: brokenGallery{}, View: view, Logger: infra.DiscardLogger()})
	require.NoError(t, err)
	running, err := m.Resume(ctx)
	require.NoError(t, err)
	require.True(t, running)

	finished := time.Now().UTC()
	job.Status = domain.JobStatusFailed
	job.FinishedAt = &finished
	require.NoError(t, st.FinishGeneration(ctx, job))
	running, err = m.Resume(ctx)
	require.NoError(t, err)
	assert.False(t, running)

	require.Len(t, view.completed, 1)
	assert.Nil(t, view.galleries[0])
}

func TestRunReturnsImmediatelyWhenIdle(t *testing.T) {
	view := &recordingView{}
	m, err := New(Options{Source: store.New(store.NewMemoryBackend()), View: view, Logger: infra.DiscardLogger()})
	require.NoError(t, err)

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 1, view.idle)
	assert.Empty(t, view.completed)
}

func TestPushTriggersEarlyPoll(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st := store.New(store.NewMemoryBackend())
	job := runningJob(time.Now().UTC())
	require.NoError(t, st.BeginGeneration(ctx, job))

	push := pushStub{ch: make(chan domain.PushMessage, 1)}
	view := &recordingView{}
	// The interval is far longer than the test; only the push can wake the loop.
	m, err := New(Options{Source: st, Push: push, View: view, Interval: time.Hour, Logger: infra.DiscardLogger()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	require.Eventually(t, view.progressed, time.Second, time.Millisecond)

	finished := time.Now().UTC()
	job.Status = domain.JobStatusFailed
	job.ErrorKind = domain.KindTimeout
	job.FinishedAt = &finished
	require.NoError(t, st.FinishGeneration(ctx, job))
	push.ch <- domain.PushMessage{Action: domain.PushGenerationStatusChanged, JobID: job.ID}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("push did not trigger a poll")
	}
	require.Len(t, view.completed, 1)
	assert.Equal(t, domain.KindTimeout, view.completed[0].Job.ErrorKind)
}

func TestFollowKeepsWatchingUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	view := &recordingView{}
	m, err := New(Options{Source: store.New(store.NewMemoryBackend()), View: view, Interval: 5 * time.Millisecond, Follow: true, Logger: infra.DiscardLogger()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	view.mu.Lock()
	defer view.mu.Unlock()
	assert.Equal(t, 1, view.idle)
}

func TestResumePropagatesSourceError(t *testing.T) {
	m, err := New(Options{Source: failingSource{}, View: &recordingView{}, Logger: infra.DiscardLogger()})
	require.NoError(t, err)
	_, err = m.Resume(context.Background())
	assert.Error(t, err)
}
