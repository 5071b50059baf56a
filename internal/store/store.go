package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
)

// Keys shared by every context.
const (
	KeyGenerationInProgress    = "generationInProgress"
	KeyGenerationStartTime     = "generationStartTime"
	KeyGenerationJob           = "generationJob"
	KeyAvatars                 = "avatars"
	KeySelectedAvatarIndex     = "selectedAvatarIndex"
	KeyPartialAvatarGeneration = "partialAvatarGeneration"
	KeyAvatarSourcePhotos      = "avatarSourcePhotos"
	KeyGeneratedOutfits        = "generatedOutfits"
	KeyClothingItems           = "clothingItems"
	KeyAPIKey                  = "apiKey"
)

// ErrStaleJob is returned when a finishing job is no longer the current one.
var ErrStaleJob = errors.New("store: job is not the current generation")

// Store is the typed view over a Backend.
type Store struct {
	backend Backend
}

func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Backend exposes the underlying key-value backend.
func (s *Store) Backend() Backend { return s.backend }

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

// AvatarView is everything a UI needs to render the avatar gallery.
type AvatarView struct {
	Avatars       domain.AvatarSet `json:"avatars"`
	SelectedIndex int              `json:"selectedIndex"`
	Partial       bool             `json:"partial"`
	SourcePhotos  []string         `json:"sourcePhotos,omitempty"`
}

// Snapshot is every derived view read in one View, so all backends return
// a single committed state.
type Snapshot struct {
	Status        domain.GenerationStatus `json:"status"`
	Avatars       AvatarView              `json:"avatars"`
	Outfits       []domain.OutfitRecord   `json:"outfits"`
	ClothingItems []domain.ClothingItem   `json:"clothingItems"`
}

func getJSON(ctx context.Context, tx Tx, key string, dst any) (bool, error) {
	raw, err := tx.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

func putJSON(ctx context.Context, tx Tx, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return tx.Put(ctx, key, raw)
}

// GenerationStatus reads the in-progress flag, start time and current job.
func (s *Store) GenerationStatus(ctx context.Context) (domain.GenerationStatus, error) {
	var status domain.GenerationStatus
	err := s.backend.View(ctx, func(tx Tx) error {
		var err error
		status, err = readStatus(ctx, tx)
		return err
	})
	return status, err
}

func readStatus(ctx context.Context, tx Tx) (domain.GenerationStatus, error) {
	var status domain.GenerationStatus
	if _, err := getJSON(ctx, tx, KeyGenerationInProgress, &status.InProgress); err != nil {
		return status, err
	}
	var start time.Time
	ok, err := getJSON(ctx, tx, KeyGenerationStartTime, &start)
	if err != nil {
		return status, err
	}
	if ok {
		status.StartTime = &start
	}
	var job domain.GenerationJob
	ok, err = getJSON(ctx, tx, KeyGenerationJob, &job)
	if err != nil {
		return status, err
	}
	if ok {
		status.Job = &job
	}
	return status, nil
}

// BeginGeneration checks and sets the in-progress flag in one transaction.
// It returns domain.ErrJobInProgress when another job holds the flag.
func (s *Store) BeginGeneration(ctx context.Context, job domain.GenerationJob) error {
	if job.StartedAt == nil {
		return errors.New("store: job start time is required")
	}
	return s.backend.Update(ctx, func(tx Tx) error {
		var inProgress bool
		if _, err := getJSON(ctx, tx, KeyGenerationInProgress, &inProgress); err != nil {
			return err
		}
		if inProgress {
			return domain.ErrJobInProgress
		}
		job.Status = domain.JobStatusRunning
		if err := putJSON(ctx, tx, KeyGenerationInProgress, true); err != nil {
			return err
		}
		if err := putJSON(ctx, tx, KeyGenerationStartTime, job.StartedAt.UTC()); err != nil {
			return err
		}
		return putJSON(ctx, tx, KeyGenerationJob, job)
	})
}

// FinishGeneration records the terminal job and clears the in-progress flag.
// A job that no longer owns the flag is rejected with ErrStaleJob.
func (s *Store) FinishGeneration(ctx context.Context, job domain.GenerationJob) error {
	return s.backend.Update(ctx, func(tx Tx) error {
		status, err := readStatus(ctx, tx)
		if err != nil {
			return err
		}
		if status.InProgress && status.Job != nil && status.Job.ID != job.ID {
			return ErrStaleJob
		}
		if err := putJSON(ctx, tx, KeyGenerationJob, job); err != nil {
			return err
		}
		if err := putJSON(ctx, tx, KeyGenerationInProgress, false); err != nil {
			return err
		}
		return putJSON(ctx, tx, KeyGenerationStartTime, nil)
	})
}

// AvatarView reads the avatar gallery state. The selected index is clamped.
func (s *Store) AvatarView(ctx context.Context) (AvatarView, error) {
	var view AvatarView
	err := s.backend.View(ctx, func(tx Tx) error {
		var err error
		view, err = readAvatarView(ctx, tx)
		return err
	})
	return view, err
}

func readAvatarView(ctx context.Context, tx Tx) (AvatarView, error) {
	var view AvatarView
	if _, err := getJSON(ctx, tx, KeyAvatars, &view.Avatars); err != nil {
		return view, err
	}
	var idx int
	if _, err := getJSON(ctx, tx, KeySelectedAvatarIndex, &idx); err != nil {
		return view, err
	}
	view.SelectedIndex = view.Avatars.ClampSelection(idx)
	if _, err := getJSON(ctx, tx, KeyPartialAvatarGeneration, &view.Partial); err != nil {
		return view, err
	}
	if _, err := getJSON(ctx, tx, KeyAvatarSourcePhotos, &view.SourcePhotos); err != nil {
		return view, err
	}
	return view, nil
}

// SelectedAvatar returns the clamped selection. It returns domain.ErrNotFound
// when no avatar is selectable.
func (s *Store) SelectedAvatar(ctx context.Context) (domain.AvatarRecord, int, error) {
	view, err := s.AvatarView(ctx)
	if err != nil {
		return domain.AvatarRecord{}, -1, err
	}
	if view.SelectedIndex < 0 {
		return domain.AvatarRecord{}, -1, domain.ErrNotFound
	}
	return view.Avatars[view.SelectedIndex], view.SelectedIndex, nil
}

// ReplaceAvatars stores the result of a full avatar batch together with the
// refs of the photos it was generated from.
func (s *Store) ReplaceAvatars(ctx context.Context, set domain.AvatarSet, sourceRefs []string) error {
	return s.backend.Update(ctx, func(tx Tx) error {
		if err := putJSON(ctx, tx, KeyAvatars, set); err != nil {
			return err
		}
		if err := putJSON(ctx, tx, KeySelectedAvatarIndex, max(set.ClampSelection(0), 0)); err != nil {
			return err
		}
		if err := putJSON(ctx, tx, KeyPartialAvatarGeneration, set.HasFailed()); err != nil {
			return err
		}
		return putJSON(ctx, tx, KeyAvatarSourcePhotos, sourceRefs)
	})
}

// MergeAvatars replaces records by pose id and recomputes the partial flag.
func (s *Store) MergeAvatars(ctx context.Context, records ...domain.AvatarRecord) (domain.AvatarSet, error) {
	var merged domain.AvatarSet
	err := s.backend.Update(ctx, func(tx Tx) error {
		var set domain.AvatarSet
		if _, err := getJSON(ctx, tx, KeyAvatars, &set); err != nil {
			return err
		}
		for _, rec := range records {
			set = set.Merge(rec)
		}
		merged = set
		if err := putJSON(ctx, tx, KeyAvatars, set); err != nil {
			return err
		}
		return putJSON(ctx, tx, KeyPartialAvatarGeneration, set.HasFailed())
	})
	return merged, err
}

// SelectAvatar sets the active avatar. Failed or out of range indices are
// rejected with domain.ErrInvalidSelection.
func (s *Store) SelectAvatar(ctx context.Context, idx int) error {
	return s.backend.Update(ctx, func(tx Tx) error {
		var set domain.AvatarSet
		if _, err := getJSON(ctx, tx, KeyAvatars, &set); err != nil {
			return err
		}
		if idx < 0 || idx >= len(set) || !set[idx].Usable() {
			return domain.ErrInvalidSelection
		}
		return putJSON(ctx, tx, KeySelectedAvatarIndex, idx)
	})
}

// ClearAvatars drops the avatar set, selection and source photo refs.
func (s *Store) ClearAvatars(ctx context.Context) error {
	return s.backend.Update(ctx, func(tx Tx) error {
		for _, key := range []string{KeyAvatars, KeySelectedAvatarIndex, KeyPartialAvatarGeneration, KeyAvatarSourcePhotos} {
			if err := tx.Delete(ctx, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Outfits lists generated outfits, oldest first.
func (s *Store) Outfits(ctx context.Context) ([]domain.OutfitRecord, error) {
	var outfits []domain.OutfitRecord
	err := s.backend.View(ctx, func(tx Tx) error {
		_, err := getJSON(ctx, tx, KeyGeneratedOutfits, &outfits)
		return err
	})
	return outfits, err
}

// AppendOutfit appends a generated outfit.
func (s *Store) AppendOutfit(ctx context.Context, rec domain.OutfitRecord) error {
	return s.backend.Update(ctx, func(tx Tx) error {
		var outfits []domain.OutfitRecord
		if _, err := getJSON(ctx, tx, KeyGeneratedOutfits, &outfits); err != nil {
			return err
		}
		return putJSON(ctx, tx, KeyGeneratedOutfits, append(outfits, rec))
	})
}

// RemoveOutfit deletes one outfit by id.
func (s *Store) RemoveOutfit(ctx context.Context, id string) error {
	return s.backend.Update(ctx, func(tx Tx) error {
		var outfits []domain.OutfitRecord
		if _, err := getJSON(ctx, tx, KeyGeneratedOutfits, &outfits); err != nil {
			return err
		}
		kept := outfits[:0]
		found := false
		for _, o := range outfits {
			if o.ID == id {
				found = true
				continue
			}
			kept = append(kept, o)
		}
		if !found {
			return domain.ErrNotFound
		}
		return putJSON(ctx, tx, KeyGeneratedOutfits, kept)
	})
}

// ClearOutfits removes every outfit.
func (s *Store) ClearOutfits(ctx context.Context) error {
	return s.backend.Update(ctx, func(tx Tx) error {
		return tx.Delete(ctx, KeyGeneratedOutfits)
	})
}

// ClothingItems lists the wardrobe.
func (s *Store) ClothingItems(ctx context.Context) ([]domain.ClothingItem, error) {
	var items []domain.ClothingItem
	err := s.backend.View(ctx, func(tx Tx) error {
		_, err := getJSON(ctx, tx, KeyClothingItems, &items)
		return err
	})
	return items, err
}

// AddClothingItem appends item unless an entry with the same ImageRef
// exists. added is false for duplicates; that is not an error.
func (s *Store) AddClothingItem(ctx context.Context, item domain.ClothingItem) (bool, error) {
	added := false
	err := s.backend.Update(ctx, func(tx Tx) error {
		added = false
		var items []domain.ClothingItem
		if _, err := getJSON(ctx, tx, KeyClothingItems, &items); err != nil {
			return err
		}
		for _, existing := range items {
			if existing.ImageRef == item.ImageRef {
				return nil
			}
		}
		added = true
		return putJSON(ctx, tx, KeyClothingItems, append(items, item))
	})
	return added, err
}

// RemoveClothingItem deletes the wardrobe entry with ref.
func (s *Store) RemoveClothingItem(ctx context.Context, ref string) error {
	return s.backend.Update(ctx, func(tx Tx) error {
		var items []domain.ClothingItem
		if _, err := getJSON(ctx, tx, KeyClothingItems, &items); err != nil {
			return err
		}
		kept := items[:0]
		found := false
		for _, it := range items {
			if it.ImageRef == ref {
				found = true
				continue
			}
			kept = append(kept, it)
		}
		if !found {
			return domain.ErrNotFound
		}
		return putJSON(ctx, tx, KeyClothingItems, kept)
	})
}

// Snapshot reads status and every gallery in one view.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.backend.View(ctx, func(tx Tx) error {
		var err error
		if snap.Status, err = readStatus(ctx, tx); err != nil {
			return err
		}
		if snap.Avatars, err = readAvatarView(ctx, tx); err != nil {
			return err
		}
		if _, err = getJSON(ctx, tx, KeyGeneratedOutfits, &snap.Outfits); err != nil {
			return err
		}
		_, err = getJSON(ctx, tx, KeyClothingItems, &snap.ClothingItems)
		return err
	})
	return snap, err
}
