// Package tui shows running archive jobs until they finish.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mcdonaldj/zipstage/internal/scheduler"
	"github.com/mcdonaldj/zipstage/internal/ziperr"
)

// JobState is the lifecycle stage of a watched job.
type JobState int

const (
	JobRunning JobState = iota
	JobDone
	JobFailed
)

// Pollable is background work the model can watch. future.Future satisfies it.
type Pollable interface {
	scheduler.YieldInstruction
	Err() error
}

// Job is one row of the monitor.
type Job struct {
	Name     string
	Detail   string
	State    JobState
	Err      error
	Started  time.Time
	Finished time.Time
}

// Elapsed returns how long the job ran, or has been running.
func (j *Job) Elapsed(now time.Time) time.Duration {
	if j.State == JobRunning {
		return now.Sub(j.Started)
	}
	return j.Finished.Sub(j.Started)
}

type tickMsg time.Time

// Key bindings
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// Model drives a scheduler from the bubbletea frame loop: every tick polls
// each parked job once.
type Model struct {
	sched    *scheduler.Scheduler
	interval time.Duration
	now      func() time.Time

	jobs    []*Job
	spinner spinner.Model

	width    int
	height   int
	quitting bool
	finished bool
}

// NewModel creates a monitor that ticks sched every interval.
func NewModel(sched *scheduler.Scheduler, interval time.Duration) *Model {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Model{
		sched:    sched,
		interval: interval,
		now:      time.Now,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
	}
}

// Watch adds a row for p and parks its completion on the scheduler.
func (m *Model) Watch(name, detail string, p Pollable) *Job {
	job := &Job{Name: name, Detail: detail, State: JobRunning, Started: m.now()}
	m.jobs = append(m.jobs, job)

	m.sched.WaitFor(p, func() {
		job.Finished = m.now()
		if err := p.Err(); err != nil {
			job.State = JobFailed
			job.Err = err
			return
		}
		job.State = JobDone
	})
	return job
}

// Jobs returns the watched jobs in the order they were added.
func (m *Model) Jobs() []*Job {
	return m.jobs
}

// Failed returns the number of jobs that finished with an error.
func (m *Model) Failed() int {
	n := 0
	for _, j := range m.jobs {
		if j.State == JobFailed {
			n++
		}
	}
	return n
}

func (m *Model) allFinished() bool {
	for _, j := range m.jobs {
		if j.State == JobRunning {
			return false
		}
	}
	return true
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the spinner and the poll loop.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tick())
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.sched.Tick()
		if m.allFinished() {
			m.finished = true
			return m, tea.Quit
		}
		return m, m.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View renders the job list
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(" zipstage "))
	b.WriteString("\n\n")

	if len(m.jobs) == 0 {
		b.WriteString(dimStyle.Render("  No jobs"))
		b.WriteString("\n")
	}

	now := m.now()
	for _, j := range m.jobs {
		var badge string
		switch j.State {
		case JobRunning:
			badge = m.spinner.View()
		case JobDone:
			badge = successBadge.Render("✓")
		case JobFailed:
			badge = errorBadge.Render("✗")
		}

		line := fmt.Sprintf("%-10s %-40s %8s",
			j.Name, truncate(j.Detail, 40), j.Elapsed(now).Round(time.Millisecond))
		b.WriteString(badge)
		b.WriteString(" ")
		b.WriteString(normalStyle.Render(line))
		b.WriteString("\n")

		if j.State == JobFailed {
			b.WriteString(errorBadge.Render(fmt.Sprintf("    %s: %v", ziperr.KindOf(j.Err), j.Err)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.summary()))
	b.WriteString("\n")

	if !m.finished && !m.quitting {
		b.WriteString(helpStyle.Render("[q] quit"))
	}

	return appStyle.Render(b.String())
}

func (m *Model) summary() string {
	running, done, failed := 0, 0, 0
	for _, j := range m.jobs {
		switch j.State {
		case JobRunning:
			running++
		case JobDone:
			done++
		case JobFailed:
			failed++
		}
	}
	return fmt.Sprintf("%d running, %d done, %d failed (frame %d)", running, done, failed, m.sched.Frame())
}

// Run shows the monitor until every job finishes or the user quits.
func Run(m *Model, opts ...tea.ProgramOption) error {
	p := tea.NewProgram(m, opts...)
	_, err := p.Run()
	return err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "…" + s[len(s)-max+1:]
}
