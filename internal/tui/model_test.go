package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"

	"github.com/mcdonaldj/zipstage/internal/future"
	"github.com/mcdonaldj/zipstage/internal/scheduler"
	"github.com/mcdonaldj/zipstage/internal/ziperr"
)

func newTestModel() *Model {
	m := NewModel(scheduler.New(), time.Millisecond)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	return m
}

func TestWatchAddsRunningJob(t *testing.T) {
	m := newTestModel()
	f, _ := future.New[int]()

	job := m.Watch("create", "/tmp/a.txt", f)

	if job.State != JobRunning {
		t.Errorf("State = %v, expected JobRunning", job.State)
	}
	if len(m.Jobs()) != 1 {
		t.Errorf("jobs = %d, expected 1", len(m.Jobs()))
	}
	if m.sched.Parked() != 1 {
		t.Errorf("parked = %d, expected 1", m.sched.Parked())
	}
}

func TestTickCompletesJobs(t *testing.T) {
	m := newTestModel()
	ok, completeOK := future.New[int]()
	bad, completeBad := future.New[struct{}]()

	okJob := m.Watch("create", "a.zip", ok)
	badJob := m.Watch("extract", "b.zip", bad)

	// Nothing finished yet: tick keeps polling
	_, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected another tick while jobs are running")
	}
	if m.finished {
		t.Error("model should not be finished")
	}

	completeOK(3, nil)
	m.Update(tickMsg(time.Now()))
	if okJob.State != JobDone {
		t.Errorf("ok job State = %v, expected JobDone", okJob.State)
	}
	if badJob.State != JobRunning {
		t.Errorf("bad job State = %v, expected JobRunning", badJob.State)
	}

	completeBad(struct{}{}, ziperr.New("extract", "b.zip", ziperr.NotFound, nil))
	_, cmd = m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if !m.finished {
		t.Error("model should be finished")
	}
	if badJob.State != JobFailed {
		t.Errorf("bad job State = %v, expected JobFailed", badJob.State)
	}
	if !errors.Is(badJob.Err, ziperr.NotFound) {
		t.Errorf("bad job Err = %v, expected NotFound", badJob.Err)
	}
	if m.Failed() != 1 {
		t.Errorf("Failed() = %d, expected 1", m.Failed())
	}
}

func TestModelQuit(t *testing.T) {
	m := newTestModel()

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = updated.(*Model)

	if !m.quitting {
		t.Error("quitting should be true")
	}
	if cmd == nil {
		t.Error("quit command should not be nil")
	}
}

func TestModelWindowSize(t *testing.T) {
	m := newTestModel()

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 50})
	m = updated.(*Model)

	if m.width != 100 {
		t.Errorf("width = %d, expected 100", m.width)
	}
	if m.height != 50 {
		t.Errorf("height = %d, expected 50", m.height)
	}
}

func TestModelView(t *testing.T) {
	m := newTestModel()

	if view := m.View(); !strings.Contains(view, "No jobs") {
		t.Error("empty view should say there are no jobs")
	}

	f, complete := future.New[int]()
	m.Watch("create", "level1.zip", f)
	complete(0, ziperr.New("create", "level1", ziperr.IOFailure, errors.New("disk full")))
	m.sched.Tick()

	view := m.View()
	for _, want := range []string{"zipstage", "create", "level1.zip", "io failure", "disk full", "1 failed"} {
		if !strings.Contains(view, want) {
			t.Errorf("View should contain %q:\n%s", want, view)
		}
	}
}

func TestNewModelDefaultsInterval(t *testing.T) {
	m := NewModel(scheduler.New(), 0)
	if m.interval != 50*time.Millisecond {
		t.Errorf("interval = %v, expected 50ms", m.interval)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		max      int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"/very/long/path/file.zip", 10, "…/file.zip"},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.max)
		if got != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, expected %q", tt.input, tt.max, got, tt.expected)
		}
	}
}

func TestWithTeatest(t *testing.T) {
	m := NewModel(scheduler.New(), 5*time.Millisecond)
	fast := future.Spawn(func() (int, error) { return 1, nil })
	slow, complete := future.New[int]()
	m.Watch("create", "fast.zip", fast)
	m.Watch("create", "slow.zip", slow)

	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("slow.zip"))
	}, teatest.WithDuration(time.Second))

	complete(2, nil)

	tm.WaitFinished(t, teatest.WithFinalTimeout(2*time.Second))

	final := tm.FinalModel(t).(*Model)
	for _, j := range final.Jobs() {
		if j.State != JobDone {
			t.Errorf("job %s State = %v, expected JobDone", j.Detail, j.State)
		}
	}
	if !final.finished {
		t.Error("model should have finished on its own")
	}
}

func TestWithTeatestQuit(t *testing.T) {
	m := NewModel(scheduler.New(), 5*time.Millisecond)
	never, _ := future.New[int]()
	m.Watch("extract", "stuck.zip", never)

	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))
	tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	tm.WaitFinished(t, teatest.WithFinalTimeout(time.Second))

	final := tm.FinalModel(t).(*Model)
	if !final.quitting {
		t.Error("quitting should be true")
	}
	if final.Jobs()[0].State != JobRunning {
		t.Error("unfinished job should still be running")
	}
}
