// Package clireport implements progress.Sink for a terminal front end:
// a per-file progress bar plus colored pass/fail lines, falling back to
// plain text when stdout is not a TTY.
package clireport

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/larkspurhq/strongbox/internal/progress"
	"github.com/larkspurhq/strongbox/internal/util"
)

// Reporter is a progress.Sink that drives a terminal progress bar and
// prints a colored summary line per file and per entry.
type Reporter struct {
	mu       sync.Mutex
	out      io.Writer
	isTTY    bool
	bar      *progressbar.ProgressBar
	fileSize map[string]int64 // logical path -> declared size, for bar totals
}

// New returns a Reporter writing to out. Color and bar rendering are
// disabled automatically when out is not a terminal (redirected to a
// file or piped).
func New(out io.Writer) *Reporter {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	color.NoColor = !isTTY
	return &Reporter{out: out, isTTY: isTTY, fileSize: make(map[string]int64)}
}

var _ progress.Sink = (*Reporter)(nil)

func (r *Reporter) OnFileStart(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isTTY {
		return
	}
	r.bar = progressbar.NewOptions64(
		-1,
		progressbar.OptionSetDescription(path),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWriter(r.out),
	)
}

func (r *Reporter) OnFileProgress(path string, bytesDone int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		_ = r.bar.Set64(bytesDone)
	}
}

func (r *Reporter) OnFileEnd(result progress.FileResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
	if result.Success {
		fmt.Fprintf(r.out, "%s %s\n", color.GreenString("✓"), result.Path)
		return
	}
	fmt.Fprintf(r.out, "%s %s: %v\n", color.RedString("✗"), result.Path, result.Err)
}

func (r *Reporter) OnEntryEnd(report progress.EntryReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := fmt.Sprintf("%d files, %s logical / %s stored", report.FileCount,
		util.Sizeify(report.BytesLogical), util.Sizeify(report.BytesStored))
	if report.FailureCount > 0 {
		fmt.Fprintf(r.out, "%s %s (%d failed)\n", color.YellowString("!"), summary, report.FailureCount)
		return
	}
	fmt.Fprintf(r.out, "%s %s\n", color.GreenString("done:"), summary)
}
