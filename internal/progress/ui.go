// Package progress renders live transfer progress bars from the event stream.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/sshdeck/sshdeck/internal/events"
	"github.com/sshdeck/sshdeck/internal/models"
)

// UI draws one progress bar per transfer task, fed by transfer-progress
// events. On a non-terminal it degrades to plain start/finish lines.
type UI struct {
	progress   *mpb.Progress
	bus        *events.Bus
	isTerminal bool

	mu   sync.Mutex
	bars map[string]*taskBar

	sub  <-chan events.Event
	done chan struct{}
	wg   sync.WaitGroup
}

type taskBar struct {
	bar       *mpb.Bar
	fileName  string
	kind      models.TransferKind
	total     int64
	current   int64
	startedAt time.Time
	lastTick  time.Time
}

// NewUI creates a progress UI writing to stderr.
func NewUI(bus *events.Bus) *UI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &UI{
		progress:   p,
		bus:        bus,
		isTerminal: isTerminal,
		bars:       make(map[string]*taskBar),
		done:       make(chan struct{}),
	}
}

// Run subscribes to progress events and renders until Stop.
func (u *UI) Run() {
	u.sub = u.bus.Subscribe(events.EventTransferProgress)
	u.wg.Add(1)
	go u.consume()
}

// Stop detaches from the event stream and waits for rendering to settle.
func (u *UI) Stop() {
	u.bus.Unsubscribe(events.EventTransferProgress, u.sub)
	close(u.done)
	u.wg.Wait()
	u.progress.Wait()
}

func (u *UI) consume() {
	defer u.wg.Done()
	for {
		select {
		case <-u.done:
			return
		case ev, ok := <-u.sub:
			if !ok {
				return
			}
			pe, ok := ev.(*events.TransferProgressEvent)
			if !ok {
				continue
			}
			u.apply(pe.Progress)
		}
	}
}

func (u *UI) apply(p models.TransferProgress) {
	u.mu.Lock()
	tb, exists := u.bars[p.TaskID]
	if !exists {
		tb = u.addBar(p)
		u.bars[p.TaskID] = tb
	}
	u.mu.Unlock()

	if p.Status.IsTerminal() {
		u.finish(tb, p)
		u.mu.Lock()
		delete(u.bars, p.TaskID)
		u.mu.Unlock()
		return
	}
	u.update(tb, p)
}

func (u *UI) addBar(p models.TransferProgress) *taskBar {
	tb := &taskBar{
		fileName:  p.FileName,
		kind:      p.Kind,
		total:     int64(p.TotalBytes),
		startedAt: time.Now(),
		lastTick:  time.Now(),
	}

	if !u.isTerminal {
		fmt.Printf("%s: %s (%s)\n", verb(p.Kind), p.FileName, sizeMiB(p.TotalBytes))
		return tb
	}

	tb.bar = u.progress.New(tb.total,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("%s %s", arrow(p.Kind), truncateName(p.FileName, 28)), decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	return tb
}

func (u *UI) update(tb *taskBar, p models.TransferProgress) {
	if tb.bar == nil {
		return
	}
	now := time.Now()
	if int64(p.TotalBytes) != tb.total {
		tb.total = int64(p.TotalBytes)
		tb.bar.SetTotal(tb.total, false)
	}
	delta := int64(p.TransferredBytes) - tb.current
	if delta < 0 {
		delta = 0
	}
	tb.bar.EwmaIncrBy(int(delta), now.Sub(tb.lastTick))
	tb.current = int64(p.TransferredBytes)
	tb.lastTick = now
}

func (u *UI) finish(tb *taskBar, p models.TransferProgress) {
	elapsed := time.Since(tb.startedAt).Round(time.Second)

	switch p.Status {
	case models.StatusCompleted:
		if tb.bar != nil {
			tb.bar.SetCurrent(tb.total)
			tb.bar.SetTotal(tb.total, true)
		}
		u.write(fmt.Sprintf("✓ %s %s (%s, %s)\n",
			verb(tb.kind), tb.fileName, sizeMiB(p.TotalBytes), elapsed))
	case models.StatusCancelled:
		if tb.bar != nil {
			tb.bar.Abort(true)
		}
		u.write(fmt.Sprintf("- %s %s: %s\n", verb(tb.kind), tb.fileName, p.Error))
	default:
		if tb.bar != nil {
			tb.bar.Abort(false)
		}
		u.write(fmt.Sprintf("✗ %s %s: %s\n", verb(tb.kind), tb.fileName, p.Error))
	}
}

// write goes through mpb's writer on a terminal so lines do not tear the bars.
func (u *UI) write(msg string) {
	if u.isTerminal {
		u.progress.Write([]byte(msg))
		return
	}
	fmt.Print(msg)
}

func verb(kind models.TransferKind) string {
	switch kind {
	case models.TransferUpload:
		return "upload"
	case models.TransferDownload:
		return "download"
	case models.TransferCopy:
		return "copy"
	default:
		return "move"
	}
}

func arrow(kind models.TransferKind) string {
	if kind == models.TransferDownload {
		return "↓"
	}
	return "↑"
}

func sizeMiB(bytes uint64) string {
	return fmt.Sprintf("%.1f MiB", float64(bytes)/(1024*1024))
}

// truncateName fits name into max columns, counting runes so a multi-byte
// file name is never split mid-rune.
func truncateName(name string, max int) string {
	runes := []rune(name)
	if len(runes) <= max {
		return name + strings.Repeat(" ", max-len(runes))
	}
	return "…" + string(runes[len(runes)-max+1:])
}
