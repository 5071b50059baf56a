package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/imagegen"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/imaging"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/notify"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/providers/genai"
)

const poseNotReturned = "pose not returned by the generation service"

// AvatarRequest generates the full pose set from photos of the user.
type AvatarRequest struct {
	Photos [][]byte
	Locale string
}

// RetryRequest re-runs failed poses. An empty PoseIDs retries every failed
// pose.
type RetryRequest struct {
	PoseIDs []int
	Locale  string
}

// StartAvatarBatch requests every pose in one remote call. Poses missing from
// the response are stored as failed; the job fails only when none succeed.
func (c *Coordinator) StartAvatarBatch(ctx context.Context, req AvatarRequest) (*Job, error) {
	l := c.localizer(req.Locale)
	kind := domain.JobKindAvatarBatch
	if err := c.checkCredential(ctx, kind, l); err != nil {
		return nil, err
	}
	if len(req.Photos) == 0 {
		return nil, c.reject(ctx, kind, l, domain.ReasonInvalidInput, errors.New("at least one photo is required"))
	}
	for _, p := range req.Photos {
		if len(p) == 0 {
			return nil, c.reject(ctx, kind, l, domain.ReasonInvalidInput, errors.New("empty photo"))
		}
	}

	poseIDs := make([]int, 0, len(c.poses))
	for _, p := range c.poses {
		poseIDs = append(poseIDs, p.ID)
	}
	job := c.newJob(kind, domain.JobInputs{PoseIDs: poseIDs}, c.avatarTimeout)
	handle, err := c.begin(ctx, job, l)
	if err != nil {
		return nil, err
	}
	c.launch(handle, l, c.avatarBatchPipeline(job, req.Photos))
	return handle, nil
}

func (c *Coordinator) avatarBatchPipeline(job domain.GenerationJob, photos [][]byte) pipeline {
	return func(ctx context.Context) (*outcome, error) {
		payloads := make([]*imaging.Payload, len(photos))
		var g errgroup.Group
		for i, raw := range photos {
			i, raw := i, raw
			g.Go(func() error {
				p, err := c.preprocess(raw, imaging.HighFidelity)
				if err != nil {
					return err
				}
				payloads[i] = p
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		sourceRefs := make([]string, 0, len(payloads))
		parts := make([]genai.ImagePart, 0, len(payloads))
		for _, p := range payloads {
			ref, err := c.blobs.Put(ctx, p.Data, p.MIMEType)
			if err != nil {
				return nil, fmt.Errorf("store source photo: %w", err)
			}
			sourceRefs = append(sourceRefs, ref)
			parts = append(parts, genai.ImagePart{MIMEType: p.MIMEType, Data: p.Data})
		}

		resp, err := c.generator.GenerateContent(ctx, imagegen.BuildAvatarBatchInstruction(c.poses, len(parts)), parts)
		if err != nil {
			return nil, err
		}

		assigned := assignPoses(resp, c.poses)
		now := c.now().UTC()
		set := make(domain.AvatarSet, 0, len(c.poses))
		var resultRefs []string
		for _, pose := range c.poses {
			rec := domain.AvatarRecord{PoseID: pose.ID, State: domain.AvatarFailed, Error: poseNotReturned, UpdatedAt: now}
			if img, ok := assigned[pose.ID]; ok {
				ref, err := c.blobs.Put(ctx, img.Data, img.MIMEType)
				if err != nil {
					return nil, fmt.Errorf("store avatar: %w", err)
				}
				rec = domain.AvatarRecord{PoseID: pose.ID, ImageRef: ref, State: domain.AvatarSucceeded, UpdatedAt: now}
				resultRefs = append(resultRefs, ref)
			}
			set = append(set, rec)
		}
		if len(resultRefs) == 0 {
			gerr := domain.NewGenerationError(domain.KindNoImageInResponse, "no pose images returned", nil)
			gerr.UserMessage = domain.TruncateUserMessage(resp.Text())
			return nil, gerr
		}

		inputs := job.Inputs
		inputs.SubjectRefs = sourceRefs
		succeeded, total := len(resultRefs), len(set)
		return &outcome{
			resultRefs: resultRefs,
			partial:    set.HasFailed(),
			inputs:     &inputs,
			apply: func(ctx context.Context, _ domain.GenerationJob) error {
				return c.store.ReplaceAvatars(ctx, set, sourceRefs)
			},
			announce: func(l notify.Localizer, done domain.GenerationJob) domain.Notification {
				return l.AvatarsReady(done, succeeded, total)
			},
		}, nil
	}
}

// RetryAvatars regenerates failed poses one at a time from the persisted
// source photos and merges successes by pose id.
func (c *Coordinator) RetryAvatars(ctx context.Context, req RetryRequest) (*Job, error) {
	l := c.localizer(req.Locale)
	kind := domain.JobKindAvatarBatch
	if err := c.checkCredential(ctx, kind, l); err != nil {
		return nil, err
	}

	view, err := c.store.AvatarView(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: read avatars: %w", err)
	}
	failed := view.Avatars.FailedPoses()
	targets := failed
	if len(req.PoseIDs) > 0 {
		targets = nil
		for _, id := range req.PoseIDs {
			if slices.Contains(failed, id) && !slices.Contains(targets, id) {
				targets = append(targets, id)
			}
		}
	}
	if len(targets) == 0 {
		return nil, c.reject(ctx, kind, l, domain.ReasonNothingToRetry, domain.ErrNoFailedAvatars)
	}

	if len(view.SourcePhotos) == 0 {
		return nil, c.reject(ctx, kind, l, domain.ReasonNoSourcePhotos, domain.ErrSourcePhotosMissing)
	}
	sources := make([][]byte, 0, len(view.SourcePhotos))
	for _, ref := range view.SourcePhotos {
		data, err := c.blobs.Read(ctx, ref)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, c.reject(ctx, kind, l, domain.ReasonNoSourcePhotos, fmt.Errorf("%s: %w", ref, domain.ErrSourcePhotosMissing))
		}
		if err != nil {
			return nil, fmt.Errorf("coordinator: read source photo: %w", err)
		}
		sources = append(sources, data)
	}

	job := c.newJob(kind, domain.JobInputs{SubjectRefs: view.SourcePhotos, PoseIDs: targets}, c.avatarTimeout)
	handle, err := c.begin(ctx, job, l)
	if err != nil {
		return nil, err
	}
	c.launch(handle, l, c.retryPipeline(targets, sources))
	return handle, nil
}

func (c *Coordinator) retryPipeline(targets []int, sources [][]byte) pipeline {
	return func(ctx context.Context) (*outcome, error) {
		parts := make([]genai.ImagePart, 0, len(sources))
		for _, data := range sources {
			parts = append(parts, genai.ImagePart{MIMEType: imaging.MIMEType, Data: data})
		}

		var (
			records    []domain.AvatarRecord
			resultRefs []string
			lastErr    error
		)
		for _, id := range targets {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			pose, ok := domain.PoseByID(c.poses, id)
			if !ok {
				pose = domain.Pose{ID: id, Prompt: "standing upright facing the camera"}
			}
			rec, err := c.retryPose(ctx, pose, parts)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				lastErr = err
				c.logger.Warn().Err(err).Int("pose_id", id).Msg("pose retry failed")
			} else {
				resultRefs = append(resultRefs, rec.ImageRef)
			}
			records = append(records, rec)
		}
		if len(resultRefs) == 0 {
			return nil, lastErr
		}

		succeeded, total := len(resultRefs), len(targets)
		return &outcome{
			resultRefs: resultRefs,
			partial:    succeeded < total,
			apply: func(ctx context.Context, _ domain.GenerationJob) error {
				_, err := c.store.MergeAvatars(ctx, records...)
				return err
			},
			announce: func(l notify.Localizer, done domain.GenerationJob) domain.Notification {
				return l.RetryDone(done, succeeded, total)
			},
		}, nil
	}
}

// retryPose always returns a record: failed on error, succeeded otherwise.
func (c *Coordinator) retryPose(ctx context.Context, pose domain.Pose, parts []genai.ImagePart) (domain.AvatarRecord, error) {
	rec := domain.AvatarRecord{PoseID: pose.ID, State: domain.AvatarFailed}
	img, err := c.generator.Generate(ctx, imagegen.BuildAvatarPoseInstruction(pose, len(parts)), parts)
	if err == nil {
		var ref string
		ref, err = c.blobs.Put(ctx, img.Data, img.MIMEType)
		if err == nil {
			rec.ImageRef = ref
			rec.State = domain.AvatarSucceeded
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	rec.UpdatedAt = c.now().UTC()
	return rec, err
}

// assignPoses maps response images to poses. A text part naming a pose
// labels the next image; unlabelled images fill the lowest open pose.
func assignPoses(resp *genai.Response, poses []domain.Pose) map[int]genai.GeneratedImage {
	out := make(map[int]genai.GeneratedImage, len(poses))
	label := 0
	for _, part := range resp.Parts {
		if part.Image == nil {
			if id, ok := imagegen.ParsePoseLabel(part.Text); ok {
				label = id
			}
			continue
		}
		target := 0
		if _, known := domain.PoseByID(poses, label); known {
			if _, taken := out[label]; !taken {
				target = label
			}
		}
		if target == 0 {
			for _, p := range poses {
				if _, taken := out[p.ID]; !taken {
					target = p.ID
					break
				}
			}
		}
		label = 0
		if target == 0 {
			break
		}
		out[target] = *part.Image
	}
	return out
}
