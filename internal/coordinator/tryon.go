package coordinator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/imagegen"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/imaging"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/notify"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/providers/genai"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/storage"
)

// TryOnRequest asks for the selected (or given) avatar wearing garments.
// Garments come from the wardrobe by ref or inline as raw image bytes.
type TryOnRequest struct {
	GarmentRefs  []string
	Garments     [][]byte
	AvatarIndex  *int
	Instructions string
	Locale       string
}

// StartTryOn validates preconditions, moves to Running and returns while the
// job proceeds in the background.
func (c *Coordinator) StartTryOn(ctx context.Context, req TryOnRequest) (*Job, error) {
	l := c.localizer(req.Locale)
	garmentCount := len(req.GarmentRefs) + len(req.Garments)
	kind := domain.JobKindSingleItemTryOn
	if garmentCount > 1 {
		kind = domain.JobKindMultiItemTryOn
	}

	if err := c.checkCredential(ctx, kind, l); err != nil {
		return nil, err
	}
	if garmentCount == 0 {
		return nil, c.reject(ctx, kind, l, domain.ReasonNoGarments, nil)
	}
	for _, g := range req.Garments {
		if len(g) == 0 {
			return nil, c.reject(ctx, kind, l, domain.ReasonInvalidInput, errors.New("empty garment image"))
		}
	}

	if err := c.checkGarmentRefs(ctx, kind, l, req.GarmentRefs); err != nil {
		return nil, err
	}

	view, err := c.store.AvatarView(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: read avatars: %w", err)
	}
	idx := view.SelectedIndex
	if req.AvatarIndex != nil {
		idx = view.Avatars.ClampSelection(*req.AvatarIndex)
	}
	if idx < 0 {
		return nil, c.reject(ctx, kind, l, domain.ReasonNoAvatar, domain.ErrNotFound)
	}
	avatar := view.Avatars[idx]

	job := c.newJob(kind, domain.JobInputs{
		SubjectRefs: []string{avatar.ImageRef},
		GarmentRefs: append([]string(nil), req.GarmentRefs...),
	}, c.tryOnTimeout)
	handle, err := c.begin(ctx, job, l)
	if err != nil {
		return nil, err
	}
	c.launch(handle, l, c.tryOnPipeline(job, avatar, req))
	return handle, nil
}

// checkGarmentRefs rejects refs that are neither wardrobe items nor stored
// blobs.
func (c *Coordinator) checkGarmentRefs(ctx context.Context, kind domain.JobKind, l notify.Localizer, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	items, err := c.store.ClothingItems(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: read wardrobe: %w", err)
	}
	known := make(map[string]bool, len(items))
	for _, item := range items {
		known[item.ImageRef] = true
	}
	for _, ref := range refs {
		if known[ref] {
			continue
		}
		ok, err := c.blobs.Exists(ctx, ref)
		if err != nil && !errors.Is(err, storage.ErrInvalidKey) {
			return fmt.Errorf("coordinator: check garment %s: %w", ref, err)
		}
		if !ok {
			return c.reject(ctx, kind, l, domain.ReasonInvalidInput, fmt.Errorf("garment %s: %w", ref, domain.ErrNotFound))
		}
	}
	return nil
}

func (c *Coordinator) tryOnPipeline(job domain.GenerationJob, avatar domain.AvatarRecord, req TryOnRequest) pipeline {
	return func(ctx context.Context) (*outcome, error) {
		// index 0 is the subject, then wardrobe garments, then inline ones
		total := 1 + len(req.GarmentRefs) + len(req.Garments)
		payloads := make([]*imaging.Payload, total)

		g, gctx := errgroup.WithContext(ctx)
		load := func(i int, ref string, raw []byte) {
			g.Go(func() error {
				if raw == nil {
					data, err := c.blobs.Read(gctx, ref)
					if err != nil {
						return fmt.Errorf("read %s: %w", ref, err)
					}
					raw = data
				}
				p, err := c.preprocess(raw, imaging.FastTransport)
				if err != nil {
					return err
				}
				payloads[i] = p
				return nil
			})
		}
		load(0, avatar.ImageRef, nil)
		for i, ref := range req.GarmentRefs {
			load(1+i, ref, nil)
		}
		for i, raw := range req.Garments {
			load(1+len(req.GarmentRefs)+i, "", raw)
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		garmentRefs := append([]string(nil), req.GarmentRefs...)
		for _, p := range payloads[1+len(req.GarmentRefs):] {
			ref, err := c.blobs.Put(ctx, p.Data, p.MIMEType)
			if err != nil {
				return nil, fmt.Errorf("store garment: %w", err)
			}
			garmentRefs = append(garmentRefs, ref)
		}

		parts := make([]genai.ImagePart, 0, total)
		for _, p := range payloads {
			parts = append(parts, genai.ImagePart{MIMEType: p.MIMEType, Data: p.Data})
		}
		prompt := imagegen.BuildTryOnInstruction(imagegen.TryOnRequest{
			GarmentCount: total - 1,
			Instructions: req.Instructions,
		})

		img, err := c.generator.Generate(ctx, prompt, parts)
		if err != nil {
			return nil, err
		}
		resultRef, err := c.blobs.Put(ctx, img.Data, img.MIMEType)
		if err != nil {
			return nil, fmt.Errorf("store result: %w", err)
		}

		inputs := job.Inputs
		inputs.GarmentRefs = garmentRefs
		return &outcome{
			resultRefs: []string{resultRef},
			inputs:     &inputs,
			apply: func(ctx context.Context, done domain.GenerationJob) error {
				return c.store.AppendOutfit(ctx, domain.OutfitRecord{
					ID:                c.newID(),
					JobID:             done.ID,
					GeneratedImageRef: resultRef,
					SourceGarmentRefs: garmentRefs,
					UsedAvatarRef:     avatar.ImageRef,
					CreatedAt:         *done.FinishedAt,
					IsMultiItem:       done.Kind == domain.JobKindMultiItemTryOn,
				})
			},
			announce: func(l notify.Localizer, done domain.GenerationJob) domain.Notification {
				return l.TryOnReady(done)
			},
		}, nil
	}
}
