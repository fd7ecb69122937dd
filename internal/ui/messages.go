package ui

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gameupdater/internal/lifecycle"
)

// eventMsg carries a lifecycle event into the program.
type eventMsg lifecycle.Event

// commandDoneMsg reports the return of Start or Confirm.
type commandDoneMsg struct {
	op  string
	err error
}

// closedMsg is sent once Close has returned.
type closedMsg struct {
	err error
}

type toastTickMsg struct{}

func scheduleToastTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return toastTickMsg{}
	})
}

// Relay forwards lifecycle events to a running program. Events observed
// before Attach are dropped; the first command is only issued once the
// program is running.
type Relay struct {
	mu      sync.Mutex
	program *tea.Program
}

// Attach sets the program that receives events.
func (r *Relay) Attach(p *tea.Program) {
	r.mu.Lock()
	r.program = p
	r.mu.Unlock()
}

// Observe is a lifecycle.Observer.
func (r *Relay) Observe(ev lifecycle.Event) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(eventMsg(ev))
	}
}
