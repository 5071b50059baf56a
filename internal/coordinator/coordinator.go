// Package coordinator drives generation jobs from start request to terminal
// state. It is the only writer of job state in the store.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/imaging"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/metrics"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/notify"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/providers/genai"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/store"
)

// persistTimeout bounds the terminal writes, which run after the job
// context may already be done.
const persistTimeout = 15 * time.Second

// Terminal writes that fail are retried with exponential backoff between
// these bounds.
const (
	persistRetryInterval    = 100 * time.Millisecond
	persistMaxRetryInterval = 30 * time.Second
)

// reasonInProgress labels rejections caused by a running job.
const reasonInProgress = "generation_in_progress"

// Generator is the remote generation client.
type Generator interface {
	Generate(ctx context.Context, prompt string, parts []genai.ImagePart) (*genai.GeneratedImage, error)
	GenerateContent(ctx context.Context, prompt string, parts []genai.ImagePart) (*genai.Response, error)
}

// Blobs stores image payloads under content-addressed refs.
type Blobs interface {
	Put(ctx context.Context, data []byte, mimeType string) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Notifier delivers push messages to UI contexts. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
	StatusChanged(ctx context.Context, msg domain.PushMessage)
}

// Credentials reports the configured API key, "" when none is set.
type Credentials interface {
	GeminiAPIKey(ctx context.Context) (string, error)
}

type Options struct {
	Store         *store.Store
	Generator     Generator
	Blobs         Blobs
	Credentials   Credentials
	Notifier      Notifier
	Metrics       *metrics.Metrics
	Logger        infra.Logger
	TryOnTimeout  time.Duration
	AvatarTimeout time.Duration
	Poses         []domain.Pose
	Locale        string
	Now           func() time.Time
	NewID         func() string

	// PersistTimeout bounds the in-line retries of a terminal write. Past
	// it the write keeps retrying in the background.
	PersistTimeout       time.Duration
	PersistRetryInterval time.Duration
}

type Coordinator struct {
	store         *store.Store
	generator     Generator
	blobs         Blobs
	creds         Credentials
	notifier      Notifier
	metrics       *metrics.Metrics
	logger        infra.Logger
	tryOnTimeout  time.Duration
	avatarTimeout time.Duration
	poses         []domain.Pose
	locale        string
	now           func() time.Time
	newID         func() string

	persistTimeout       time.Duration
	persistRetryInterval time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active *Job
}

func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("coordinator: store is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("coordinator: generator is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("coordinator: blob store is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("coordinator: credentials are required")
	}
	c := &Coordinator{
		store:         opts.Store,
		generator:     opts.Generator,
		blobs:         opts.Blobs,
		creds:         opts.Credentials,
		notifier:      opts.Notifier,
		metrics:       opts.Metrics,
		logger:        infra.Component(opts.Logger, "coordinator"),
		tryOnTimeout:  opts.TryOnTimeout,
		avatarTimeout: opts.AvatarTimeout,
		poses:         opts.Poses,
		locale:        opts.Locale,
		now:           opts.Now,
		newID:         opts.NewID,

		persistTimeout:       opts.PersistTimeout,
		persistRetryInterval: opts.PersistRetryInterval,
	}
	if c.notifier == nil {
		c.notifier = discardNotifier{}
	}
	if c.tryOnTimeout <= 0 {
		c.tryOnTimeout = domain.DefaultJobTimeout
	}
	if c.avatarTimeout <= 0 {
		c.avatarTimeout = domain.DefaultJobTimeout
	}
	if len(c.poses) == 0 {
		c.poses = domain.DefaultPoses
	}
	if c.locale == "" {
		c.locale = "en"
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.persistTimeout <= 0 {
		c.persistTimeout = persistTimeout
	}
	if c.persistRetryInterval <= 0 {
		c.persistRetryInterval = persistRetryInterval
	}
	c.baseCtx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Job is the handle of a job started by this process.
type Job struct {
	started domain.GenerationJob
	done    chan struct{}
	outcome domain.GenerationJob
}

// Snapshot returns the job as it entered Running.
func (j *Job) Snapshot() domain.GenerationJob { return j.started }

// Done is closed once the job reached its terminal state. When the store
// rejects the terminal write, Active keeps reporting the job until a
// background retry lands it.
func (j *Job) Done() <-chan struct{} { return j.done }

// Outcome returns the terminal job. It is only valid after Done is closed.
func (j *Job) Outcome() domain.GenerationJob {
	<-j.done
	return j.outcome
}

// Active returns the job currently running in this process, if any.
func (c *Coordinator) Active() *Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Shutdown cancels running jobs and waits for their terminal writes.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// outcome is what a successful pipeline hands back. apply runs only when the
// pipeline beat the deadline.
type outcome struct {
	resultRefs []string
	partial    bool
	inputs     *domain.JobInputs
	apply      func(ctx context.Context, job domain.GenerationJob) error
	announce   func(l notify.Localizer, job domain.GenerationJob) domain.Notification
}

type pipeline func(ctx context.Context) (*outcome, error)

type pipelineResult struct {
	out *outcome
	err error
}

func (c *Coordinator) localizer(locale string) notify.Localizer {
	if strings.TrimSpace(locale) == "" {
		locale = c.locale
	}
	return notify.NewLocalizer(locale)
}

// checkCredential fails the start when no API key is configured.
func (c *Coordinator) checkCredential(ctx context.Context, kind domain.JobKind, l notify.Localizer) error {
	key, err := c.creds.GeminiAPIKey(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: read credential: %w", err)
	}
	if strings.TrimSpace(key) == "" {
		return c.reject(ctx, kind, l, domain.ReasonMissingCredential, domain.ErrCredentialMissing)
	}
	return nil
}

func (c *Coordinator) reject(ctx context.Context, kind domain.JobKind, l notify.Localizer, reason domain.PreconditionReason, err error) error {
	c.metrics.StartRejected(string(reason))
	c.notifier.Notify(ctx, l.Precondition(kind, string(reason)))
	c.logger.Info().Str("kind", string(kind)).Str("reason", string(reason)).Msg("start rejected")
	return &domain.PreconditionError{Reason: reason, Err: err}
}

func (c *Coordinator) newJob(kind domain.JobKind, inputs domain.JobInputs, budget time.Duration) domain.GenerationJob {
	now := c.now().UTC()
	return domain.GenerationJob{
		ID:            c.newID(),
		Kind:          kind,
		Status:        domain.JobStatusRunning,
		StartedAt:     &now,
		Inputs:        inputs,
		TimeoutBudget: budget,
	}
}

// begin moves the job to Running. The store transaction is the authority;
// the local check only avoids a round trip. commit clears the local slot in
// the same critical section as the store flag, so the two never disagree.
func (c *Coordinator) begin(ctx context.Context, job domain.GenerationJob, l notify.Localizer) (*Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		err := c.store.BeginGeneration(ctx, job)
		if err == nil {
			c.active = &Job{started: job, done: make(chan struct{})}
			return c.active, nil
		}
		if !errors.Is(err, domain.ErrJobInProgress) {
			return nil, fmt.Errorf("coordinator: begin generation: %w", err)
		}
	}
	c.metrics.StartRejected(reasonInProgress)
	c.notifier.Notify(ctx, l.Precondition(job.Kind, reasonInProgress))
	return nil, domain.ErrJobInProgress
}

// launch runs the pipeline in the background, racing it against the job
// budget, and always reaches a terminal state.
func (c *Coordinator) launch(handle *Job, l notify.Localizer, run pipeline) {
	job := handle.started
	c.metrics.JobStarted()
	c.notifier.StatusChanged(c.baseCtx, domain.PushMessage{
		InProgress: true,
		StartTime:  job.StartedAt,
		JobID:      job.ID,
		JobKind:    job.Kind,
		Status:     domain.JobStatusRunning,
	})
	c.logger.Info().Str("job_id", job.ID).Str("kind", string(job.Kind)).Dur("budget", job.TimeoutBudget).Msg("job started")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(handle.done)

		ctx, cancel := context.WithTimeout(c.baseCtx, job.TimeoutBudget)
		defer cancel()

		results := make(chan pipelineResult, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					results <- pipelineResult{err: fmt.Errorf("coordinator: pipeline panic: %v", r)}
				}
			}()
			out, err := run(ctx)
			results <- pipelineResult{out: out, err: err}
		}()

		var res pipelineResult
		select {
		case res = <-results:
			if ctx.Err() != nil && res.err == nil {
				res = pipelineResult{err: c.abortError(ctx, job)}
			}
		case <-ctx.Done():
			res = pipelineResult{err: c.abortError(ctx, job)}
		}
		handle.outcome = c.finish(job, l, res)
	}()
}

func (c *Coordinator) abortError(ctx context.Context, job domain.GenerationJob) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewGenerationError(domain.KindTimeout,
			fmt.Sprintf("generation exceeded %s", job.TimeoutBudget), context.DeadlineExceeded)
	}
	return domain.NewGenerationError(domain.KindUnknown, "generation interrupted by shutdown", ctx.Err())
}

// finish persists the terminal state, clears the flag and notifies. It runs
// on a fresh context so a cancelled job still reaches the store.
func (c *Coordinator) finish(job domain.GenerationJob, l notify.Localizer, res pipelineResult) domain.GenerationJob {
	ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
	defer cancel()

	finished := c.now().UTC()
	job.FinishedAt = &finished

	if res.err == nil && res.out != nil {
		job.ResultRefs = res.out.resultRefs
		job.Partial = res.out.partial
		if res.out.inputs != nil {
			job.Inputs = *res.out.inputs
		}
		if res.out.apply != nil {
			if err := res.out.apply(ctx, job); err != nil {
				res.err = fmt.Errorf("persist result: %w", err)
			}
		}
	}

	if res.err != nil {
		job.Status = domain.JobStatusFailed
		job.ErrorKind = domain.KindOf(res.err)
		job.ErrorMessage = res.err.Error()
		job.ResultRefs = nil
		job.Partial = false
	} else {
		job.Status = domain.JobStatusSucceeded
	}

	persisted := true
	if err := c.commit(ctx, job, c.terminalBackOff(c.persistTimeout)); errors.Is(err, store.ErrStaleJob) {
		c.logger.Warn().Str("job_id", job.ID).Msg("generation flag held by another job")
	} else if err != nil {
		persisted = false
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("persist terminal state, retrying in background")
		c.commitLater(job)
	}

	elapsed := job.Elapsed(finished)
	c.metrics.JobFinished(job.Kind, job.Status, job.ErrorKind, elapsed)

	event := c.logger.Info()
	if job.Status == domain.JobStatusFailed {
		event = c.logger.Warn().Str("error_kind", string(job.ErrorKind)).Str("error", job.ErrorMessage)
	}
	event.Str("job_id", job.ID).Str("kind", string(job.Kind)).Str("status", string(job.Status)).Dur("elapsed", elapsed).Msg("job finished")

	if persisted {
		c.statusChanged(ctx, job)
	}
	if job.Status == domain.JobStatusFailed {
		c.notifier.Notify(ctx, l.Failure(job, domain.UserMessageOf(res.err)))
	} else if res.out != nil && res.out.announce != nil {
		c.notifier.Notify(ctx, res.out.announce(l, job))
	}
	return job
}

func (c *Coordinator) terminalBackOff(maxElapsed time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.persistRetryInterval
	b.MaxInterval = persistMaxRetryInterval
	b.MaxElapsedTime = maxElapsed
	b.Reset()
	return b
}

// commit writes the terminal job and releases the local slot under c.mu, so
// begin never observes a cleared store flag while the slot is still held.
// A job that lost the flag to another writer is released without retrying.
func (c *Coordinator) commit(ctx context.Context, job domain.GenerationJob, b backoff.BackOff) error {
	return backoff.Retry(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		err := c.store.FinishGeneration(ctx, job)
		if err != nil && !errors.Is(err, store.ErrStaleJob) {
			return err
		}
		if c.active != nil && c.active.started.ID == job.ID {
			c.active = nil
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

// commitLater keeps retrying the terminal write until the store accepts it
// or the coordinator shuts down. Recover clears the flag on the next start
// in the latter case.
func (c *Coordinator) commitLater(job domain.GenerationJob) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.commit(c.baseCtx, job, c.terminalBackOff(0))
		if err != nil && !errors.Is(err, store.ErrStaleJob) {
			c.logger.Error().Err(err).Str("job_id", job.ID).Msg("terminal state not persisted")
			return
		}
		c.logger.Info().Str("job_id", job.ID).Msg("terminal state persisted after retry")
		c.statusChanged(c.baseCtx, job)
	}()
}

func (c *Coordinator) statusChanged(ctx context.Context, job domain.GenerationJob) {
	c.notifier.StatusChanged(ctx, domain.PushMessage{
		InProgress: false,
		JobID:      job.ID,
		JobKind:    job.Kind,
		Status:     job.Status,
	})
}

// preprocess runs the pipeline on raw and records the payload size.
func (c *Coordinator) preprocess(raw []byte, profile imaging.Profile) (*imaging.Payload, error) {
	p, err := imaging.Preprocess(raw, profile)
	if err != nil {
		return nil, err
	}
	c.metrics.Preprocessed(profile.Name, len(p.Data))
	return p, nil
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, domain.Notification)       {}
func (discardNotifier) StatusChanged(context.Context, domain.PushMessage) {}
