package remote

import (
	"errors"
	"testing"
	"time"

	"github.com/sshdeck/sshdeck/internal/events"
	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
)

func collectProgress(t *testing.T, bus *events.Bus) (<-chan events.Event, func() []models.TransferProgress) {
	t.Helper()
	sub := bus.Subscribe(events.EventTransferProgress)
	drain := func() []models.TransferProgress {
		var out []models.TransferProgress
		for {
			select {
			case ev := <-sub:
				if pe, ok := ev.(*events.TransferProgressEvent); ok {
					out = append(out, pe.Progress)
				}
			case <-time.After(50 * time.Millisecond):
				return out
			}
		}
	}
	return sub, drain
}

func newTestService(t *testing.T, interval time.Duration) (*SFTPService, *events.Bus) {
	t.Helper()
	bus := events.NewBus(256)
	t.Cleanup(bus.Close)
	log := logging.NewNop()
	return NewSFTPService(NewManager(log), bus, log, interval), bus
}

func TestReporterThrottlesIntermediateEvents(t *testing.T) {
	svc, bus := newTestService(t, time.Hour) // throttle never elapses
	_, drain := collectProgress(t, bus)

	r := svc.newReporter("t1", models.TransferUpload, "s1", "/tmp/a.bin", "/a.bin")
	r.total(1000)
	for i := 0; i < 100; i++ {
		r.advance(10)
	}
	r.finish(nil)

	got := drain()
	// Initial transferring event plus one terminal event; everything in
	// between is throttled away.
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Status != models.StatusTransferring || got[0].TotalBytes != 1000 {
		t.Errorf("initial event = %+v", got[0])
	}
	final := got[1]
	if final.Status != models.StatusCompleted {
		t.Errorf("final status = %s", final.Status)
	}
	if final.TransferredBytes != 1000 {
		t.Errorf("final transferred = %d", final.TransferredBytes)
	}
}

func TestReporterEmitsExactlyOneTerminalEvent(t *testing.T) {
	svc, bus := newTestService(t, time.Hour)
	_, drain := collectProgress(t, bus)

	r := svc.newReporter("t1", models.TransferDownload, "s1", "/a.bin", "/tmp/a.bin")
	r.total(10)
	r.fail(errors.New("connection reset"))
	r.finish(nil) // late duplicate must be swallowed

	got := drain()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[1].Status != models.StatusFailed || got[1].Error != "connection reset" {
		t.Errorf("terminal = %+v", got[1])
	}
}

func TestReporterSkipVersusCancelText(t *testing.T) {
	svc, bus := newTestService(t, time.Hour)
	_, drain := collectProgress(t, bus)

	r := svc.newReporter("t1", models.TransferUpload, "s1", "/tmp/a", "/a")
	r.cancelled(models.ResolutionSkip)

	r2 := svc.newReporter("t2", models.TransferUpload, "s1", "/tmp/b", "/b")
	r2.cancelled(models.ResolutionCancel)

	got := drain()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Error != models.ErrTextSkipped {
		t.Errorf("skip text = %q", got[0].Error)
	}
	if got[1].Error != models.ErrTextCancelled {
		t.Errorf("cancel text = %q", got[1].Error)
	}
	for _, p := range got {
		if p.Status != models.StatusCancelled {
			t.Errorf("status = %s, want cancelled", p.Status)
		}
	}
}

func TestReporterFileNameFromSource(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	r := svc.newReporter("t1", models.TransferUpload, "s1", "/home/user/docs/report.pdf", "/up/report.pdf")
	if r.p.FileName != "report.pdf" {
		t.Errorf("file name = %s", r.p.FileName)
	}
}
