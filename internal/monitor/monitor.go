// Package monitor follows generation status from a UI context. It never
// writes: progress is derived from the persisted flag and start time, so a
// monitor opened mid-job resumes where the previous one left off.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/store"
)

const DefaultInterval = 2 * time.Second

// StatusSource reads the shared status record.
type StatusSource interface {
	GenerationStatus(ctx context.Context) (domain.GenerationStatus, error)
}

// PushSource delivers best-effort change hints. A message only triggers an
// early poll; the poll result is what gets rendered.
type PushSource interface {
	Subscribe(ctx context.Context) (<-chan domain.PushMessage, error)
}

// GallerySource reads the derived views a completed job may have changed.
type GallerySource interface {
	Snapshot(ctx context.Context) (store.Snapshot, error)
}

// View renders monitor events. gallery is nil when no GallerySource is set
// or the refresh failed.
type View interface {
	Idle(status domain.GenerationStatus)
	Progress(status domain.GenerationStatus, elapsed time.Duration)
	Completed(status domain.GenerationStatus, gallery *store.Snapshot)
}

type Options struct {
	Source   StatusSource
	Push     PushSource
	Gallery  GallerySource
	View     View
	Interval time.Duration
	// Follow keeps watching after a job completes.
	Follow bool
	Now    func() time.Time
	Logger infra.Logger
}

type Monitor struct {
	source   StatusSource
	push     PushSource
	gallery  GallerySource
	view     View
	interval time.Duration
	follow   bool
	now      func() time.Time
	logger   infra.Logger

	seen    bool
	running bool
}

func New(opts Options) (*Monitor, error) {
	if opts.Source == nil || opts.View == nil {
		return nil, errors.New("monitor: source and view are required")
	}
	m := &Monitor{
		source:   opts.Source,
		push:     opts.Push,
		gallery:  opts.Gallery,
		view:     opts.View,
		interval: opts.Interval,
		follow:   opts.Follow,
		now:      opts.Now,
		logger:   infra.Component(opts.Logger, "monitor"),
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Resume reads the status once and renders it. It reports whether a job is
// running.
func (m *Monitor) Resume(ctx context.Context) (bool, error) {
	status, err := m.source.GenerationStatus(ctx)
	if err != nil {
		return false, err
	}
	m.observe(ctx, status)
	return m.running, nil
}

// Run resumes and then polls until the running job completes, or until ctx
// is done when following.
func (m *Monitor) Run(ctx context.Context) error {
	running, err := m.Resume(ctx)
	if err != nil {
		return err
	}
	if !running && !m.follow {
		return nil
	}

	var hints <-chan domain.PushMessage
	if m.push != nil {
		ch, err := m.push.Subscribe(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("push unavailable, polling only")
		} else {
			hints = ch
		}
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-hints:
			if !ok {
				hints = nil
				continue
			}
		case <-ticker.C:
		}

		status, err := m.source.GenerationStatus(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn().Err(err).Msg("status poll failed")
			continue
		}
		wasRunning := m.running
		m.observe(ctx, status)
		if wasRunning && !m.running && !m.follow {
			return nil
		}
	}
}

// observe renders Idle only for the first read, Progress on every read while
// running and Completed once per running to idle transition. The gallery is
// refreshed only on that transition.
func (m *Monitor) observe(ctx context.Context, status domain.GenerationStatus) {
	first := !m.seen
	m.seen = true
	switch {
	case status.InProgress:
		m.running = true
		m.view.Progress(status, status.Elapsed(m.now()))
	case m.running:
		m.running = false
		m.view.Completed(status, m.refresh(ctx))
	case first:
		m.view.Idle(status)
	}
}

func (m *Monitor) refresh(ctx context.Context) *store.Snapshot {
	if m.gallery == nil {
		return nil
	}
	snap, err := m.gallery.Snapshot(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("gallery refresh failed")
		return nil
	}
	return &snap
}
