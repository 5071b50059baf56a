package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "closet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
	}
}

func runningJob(id string, started time.Time) domain.GenerationJob {
	return domain.GenerationJob{
		ID:            id,
		Kind:          domain.JobKindSingleItemTryOn,
		Status:        domain.JobStatusRunning,
		StartedAt:     &started,
		TimeoutBudget: domain.DefaultJobTimeout,
	}
}

func TestLazyDefaults(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(b)
			ctx := context.Background()
			status, err := s.GenerationStatus(ctx)
			require.NoError(t, err)
			assert.False(t, status.InProgress)
			assert.Nil(t, status.StartTime)
			assert.Nil(t, status.Job)

			view, err := s.AvatarView(ctx)
			require.NoError(t, err)
			assert.Empty(t, view.Avatars)
			assert.Equal(t, -1, view.SelectedIndex)

			_, _, err = s.SelectedAvatar(ctx)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestBeginGenerationIsExclusive(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(b)
			ctx := context.Background()
			start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

			require.NoError(t, s.BeginGeneration(ctx, runningJob("a", start)))
			err := s.BeginGeneration(ctx, runningJob("b", start))
			assert.ErrorIs(t, err, domain.ErrJobInProgress)

			status, err := s.GenerationStatus(ctx)
			require.NoError(t, err)
			assert.True(t, status.InProgress)
			require.NotNil(t, status.StartTime)
			assert.True(t, start.Equal(*status.StartTime))
			assert.Equal(t, "a", status.Job.ID)

			assert.ErrorIs(t, s.FinishGeneration(ctx, runningJob("b", start)), ErrStaleJob)

			done := runningJob("a", start)
			done.Status = domain.JobStatusSucceeded
			require.NoError(t, s.FinishGeneration(ctx, done))
			status, err = s.GenerationStatus(ctx)
			require.NoError(t, err)
			assert.False(t, status.InProgress)
			assert.Nil(t, status.StartTime)
			assert.Equal(t, domain.JobStatusSucceeded, status.Job.Status)

			require.NoError(t, s.BeginGeneration(ctx, runningJob("c", start)))
		})
	}
}

func TestConcurrentBeginAdmitsOne(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(b)
			start := time.Now()
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := s.BeginGeneration(context.Background(), runningJob(string(rune('a'+i)), start))
					if err == nil {
						wins.Add(1)
						return
					}
					if !errors.Is(err, domain.ErrJobInProgress) {
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestAvatarPartialAndMerge(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(b)
			ctx := context.Background()
			set := domain.AvatarSet{
				{PoseID: 1, ImageRef: "images/1.jpg", State: domain.AvatarSucceeded},
				{PoseID: 2, State: domain.AvatarFailed},
				{PoseID: 3, ImageRef: "images/3.jpg", State: domain.AvatarSucceeded},
				{PoseID: 4, State: domain.AvatarFailed},
			}
			require.NoError(t, s.ReplaceAvatars(ctx, set, []string{"images/src.jpg"}))

			view, err := s.AvatarView(ctx)
			require.NoError(t, err)
			assert.True(t, view.Partial)
			assert.Equal(t, 0, view.SelectedIndex)
			assert.Equal(t, []string{"images/src.jpg"}, view.SourcePhotos)

			assert.ErrorIs(t, s.SelectAvatar(ctx, 1), domain.ErrInvalidSelection)
			assert.ErrorIs(t, s.SelectAvatar(ctx, 9), domain.ErrInvalidSelection)
			require.NoError(t, s.SelectAvatar(ctx, 2))

			merged, err := s.MergeAvatars(ctx, domain.AvatarRecord{PoseID: 2, ImageRef: "images/2.jpg", State: domain.AvatarSucceeded})
			require.NoError(t, err)
			assert.Equal(t, set[0], merged[0])
			assert.Equal(t, set[2], merged[2])
			assert.Equal(t, set[3], merged[3])
			view, err = s.AvatarView(ctx)
			require.NoError(t, err)
			assert.True(t, view.Partial)
			assert.Equal(t, 2, view.SelectedIndex)

			_, err = s.MergeAvatars(ctx, domain.AvatarRecord{PoseID: 4, ImageRef: "images/4.jpg", State: domain.AvatarSucceeded})
			require.NoError(t, err)
			view, err = s.AvatarView(ctx)
			require.NoError(t, err)
			assert.False(t, view.Partial)

			rec, idx, err := s.SelectedAvatar(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, idx)
			assert.Equal(t, "images/3.jpg", rec.ImageRef)

			require.NoError(t, s.ClearAvatars(ctx))
			view, err = s.AvatarView(ctx)
			require.NoError(t, err)
			assert.Empty(t, view.Avatars)
			assert.Empty(t, view.SourcePhotos)
		})
	}
}

func TestClothingDedupAndOutfits(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(b)
			ctx := context.Background()
			item := domain.ClothingItem{ImageRef: "images/abc.jpg", AddedAt: time.Now().UTC()}

			added, err := s.AddClothingItem(ctx, item)
			require.NoError(t, err)
			assert.True(t, added)
			added, err = s.AddClothingItem(ctx, item)
			require.NoError(t, err)
			assert.False(t, added)

			items, err := s.ClothingItems(ctx)
			require.NoError(t, err)
			assert.Len(t, items, 1)

			require.NoError(t, s.RemoveClothingItem(ctx, item.ImageRef))
			assert.ErrorIs(t, s.RemoveClothingItem(ctx, item.ImageRef), domain.ErrNotFound)

			require.NoError(t, s.AppendOutfit(ctx, domain.OutfitRecord{ID: "o1", GeneratedImageRef: "images/o1.jpg"}))
			require.NoError(t, s.AppendOutfit(ctx, domain.OutfitRecord{ID: "o2", GeneratedImageRef: "images/o2.jpg"}))
			require.NoError(t, s.RemoveOutfit(ctx, "o1"))
			assert.ErrorIs(t, s.RemoveOutfit(ctx, "o1"), domain.ErrNotFound)

			snap, err := s.Snapshot(ctx)
			require.NoError(t, err)
			require.Len(t, snap.Outfits, 1)
			assert.Equal(t, "o2", snap.Outfits[0].ID)

			require.NoError(t, s.ClearOutfits(ctx))
			outfits, err := s.Outfits(ctx)
			require.NoError(t, err)
			assert.Empty(t, outfits)
		})
	}
}

func TestFailedUpdateLeavesNoPartialWrites(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			boom := errors.New("boom")
			err := b.Update(ctx, func(tx Tx) error {
				if err := tx.Put(ctx, "a", []byte("1")); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)
			err = b.View(ctx, func(tx Tx) error {
				_, err := tx.Get(ctx, "a")
				return err
			})
			assert.ErrorIs(t, err, ErrKeyNotFound)
		})
	}
}

func TestSQLiteReadOnlyObserver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closet.db")
	writer, err := OpenSQLite(path)
	require.NoError(t, err)
	defer writer.Close()
	start := time.Now().Add(-90 * time.Second)
	require.NoError(t, New(writer).BeginGeneration(context.Background(), runningJob("j", start)))

	reader, err := OpenSQLiteReadOnly(path)
	require.NoError(t, err)
	defer reader.Close()
	status, err := New(reader).GenerationStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.InProgress)
	assert.InDelta(t, 90, status.Elapsed(time.Now()).Seconds(), 2)

	assert.Error(t, New(reader).ClearOutfits(context.Background()))
}

func TestViewSeesOneCommittedState(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			put := func(v string) error {
				return b.Update(ctx, func(tx Tx) error {
					if err := tx.Put(ctx, "a", []byte(v)); err != nil {
						return err
					}
					return tx.Put(ctx, "b", []byte(v))
				})
			}
			require.NoError(t, put("1"))

			var first, second string
			writerDone := make(chan struct{})
			err := b.View(ctx, func(tx Tx) error {
				a, err := tx.Get(ctx, "a")
				if err != nil {
					return err
				}
				first = string(a)
				go func() {
					defer close(writerDone)
					_ = put("2")
				}()
				select {
				case <-writerDone:
				case <-time.After(50 * time.Millisecond):
				}
				v, err := tx.Get(ctx, "b")
				second = string(v)
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, first, second)

			<-writerDone
			require.NoError(t, b.View(ctx, func(tx Tx) error {
				v, err := tx.Get(ctx, "b")
				assert.Equal(t, "2", string(v))
				return err
			}))
		})
	}
}
