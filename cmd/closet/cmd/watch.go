package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/monitor"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/store"
)

var (
	watchFollow   bool
	watchInterval time.Duration
	watchStore    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow generation progress until the running job finishes",
	Long: `watch polls the shared generation status and renders elapsed time while a
job runs. Opening it mid-job resumes from the persisted start time.

By default it talks to closetd and uses the push channel for early refreshes.
With --store it reads a local SQLite status store directly, read-only.

Example:
  closet watch
  closet watch --follow
  closet watch --store ./data/closet.db`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVarP(&watchFollow, "follow", "f", false, "keep watching after the job completes")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", monitor.DefaultInterval, "poll interval")
	watchCmd.Flags().StringVar(&watchStore, "store", "", "read status from a local SQLite store instead of the server")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := watchStore
	if path == "" {
		path = viper.GetString("store")
	}
	opts := monitor.Options{
		View:     newLineView(cmd.OutOrStdout()),
		Interval: watchInterval,
		Follow:   watchFollow,
		Logger:   infra.DiscardLogger(),
	}
	if path != "" {
		backend, err := store.OpenSQLiteReadOnly(path)
		if err != nil {
			return err
		}
		defer func() { _ = backend.Close() }()
		st := store.New(backend)
		opts.Source = st
		opts.Gallery = st
	} else {
		client, err := newClient()
		if err != nil {
			return err
		}
		opts.Source = client
		opts.Push = client
		opts.Gallery = client
	}
	return watch(ctx, opts)
}

func watch(ctx context.Context, opts monitor.Options) error {
	m, err := monitor.New(opts)
	if err != nil {
		return err
	}
	err = m.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// lineView prints one line per monitor event. Progress lines are rewritten
// in place when the output is a terminal.
type lineView struct {
	w        io.Writer
	terminal bool
	pending  bool
}

func newLineView(w io.Writer) *lineView {
	v := &lineView{w: w}
	if f, ok := w.(*os.File); ok {
		if info, err := f.Stat(); err == nil {
			v.terminal = info.Mode()&os.ModeCharDevice != 0
		}
	}
	return v
}

func (v *lineView) Idle(status domain.GenerationStatus) {
	if line := jobLine(status.Job); line != "" {
		fmt.Fprintf(v.w, "No generation running. Last: %s\n", line)
		return
	}
	fmt.Fprintln(v.w, "No generation running.")
}

func (v *lineView) Progress(status domain.GenerationStatus, elapsed time.Duration) {
	kind := "generation"
	if status.Job != nil {
		kind = string(status.Job.Kind)
	}
	line := fmt.Sprintf("Generating %s... %s", kind, formatElapsed(elapsed))
	if v.terminal {
		fmt.Fprintf(v.w, "\r\033[K%s", line)
		v.pending = true
		return
	}
	fmt.Fprintln(v.w, line)
}

func (v *lineView) Completed(status domain.GenerationStatus, gallery *store.Snapshot) {
	if v.pending {
		fmt.Fprintln(v.w)
		v.pending = false
	}
	if line := jobLine(status.Job); line != "" {
		fmt.Fprintf(v.w, "Done: %s\n", line)
	} else {
		fmt.Fprintln(v.w, "Done.")
	}
	if gallery == nil {
		return
	}
	avatars := gallery.Avatars.Avatars
	fmt.Fprintf(v.w, "Gallery: %d outfits, %d/%d avatars ready, %d wardrobe items\n",
		len(gallery.Outfits), avatars.UsableCount(), len(avatars), len(gallery.ClothingItems))
	if n := len(gallery.Outfits); n > 0 {
		fmt.Fprintf(v.w, "Latest outfit: %s\n", gallery.Outfits[n-1].GeneratedImageRef)
	}
}
