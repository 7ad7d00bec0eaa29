package progress

import (
	"io"
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// LocalUI renders a single live progress bar on stderr for local/dev
// runs of the worker. It is purely observational: the Coordinator feeds
// it byte counts off the progress-event channel and never reads anything
// back. When stderr is not a terminal every method is a no-op, so the
// orchestrated (headless) deployment pays nothing for it.
type LocalUI struct {
	progress *mpb.Progress
	bar      *mpb.Bar
	enabled  bool
	known    bool
}

// NewLocalUI builds the bar for one transfer. totalBytes <= 0 renders a
// byte counter without a percentage, matching §6.4's treatment of a
// source with no Content-Length.
func NewLocalUI(objectKey string, totalBytes int64) *LocalUI {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return &LocalUI{progress: mpb.New(mpb.WithOutput(io.Discard))}
	}

	enableWindowsANSI(os.Stderr)

	p := mpb.New(
		mpb.WithOutput(os.Stderr),
		mpb.WithRefreshRate(300*time.Millisecond),
		mpb.WithWidth(80),
	)

	known := totalBytes > 0
	total := totalBytes
	if !known {
		total = 0
	}

	decorators := []decor.Decorator{
		decor.Name(objectKey + " "),
		decor.CountersKibiByte("% .1f / % .1f"),
	}
	appenders := []decor.Decorator{
		decor.AverageSpeed(decor.SizeB1024(0), "% .1f"),
	}
	if known {
		appenders = append(appenders,
			decor.Name(" "),
			decor.Percentage(),
			decor.Name(" ETA "),
			decor.AverageETA(decor.ET_STYLE_GO),
		)
	}

	bar := p.New(total,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(decorators...),
		mpb.AppendDecorators(appenders...),
	)

	return &LocalUI{progress: p, bar: bar, enabled: true, known: known}
}

// Update advances the bar to the given absolute byte count.
func (u *LocalUI) Update(bytesTransferred int64) {
	if !u.enabled {
		return
	}
	u.bar.SetCurrent(bytesTransferred)
}

// Done completes the bar at the final byte count and waits for the
// renderer to flush, so the worker's own exit output doesn't interleave
// with a half-drawn bar.
func (u *LocalUI) Done(bytesTransferred int64) {
	if !u.enabled {
		u.progress.Wait()
		return
	}
	u.bar.SetTotal(bytesTransferred, true)
	u.bar.SetCurrent(bytesTransferred)
	u.progress.Wait()
}

// Abandon drops the bar without completing it, for failed or cancelled
// transfers.
func (u *LocalUI) Abandon() {
	if u.enabled {
		u.bar.Abort(true)
	}
	u.progress.Wait()
}
