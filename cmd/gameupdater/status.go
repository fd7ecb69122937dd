package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"

	"gameupdater/internal/lifecycle"
)

const statusBarWidth = 24

// statusReporter follows a headless attempt on stderr.
type statusReporter interface {
	Observe(ev lifecycle.Event)
	Stop()
}

// statusLine keeps one redrawn line on a terminal for the attempt in flight.
// Every event carries the whole snapshot, so the line only needs the newest.
// State changes redraw at once; progress ticks wait for the next frame.
type statusLine struct {
	w     io.Writer
	delay time.Duration
	spin  spinner.Spinner
	bar   progress.Model

	mu   sync.Mutex
	snap lifecycle.Snapshot
	seen bool

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// newStatusLine starts drawing to w. Nothing is drawn before delay elapses.
func newStatusLine(w io.Writer, delay time.Duration) *statusLine {
	return newStatusLineWith(w, delay, spinner.Line)
}

func newStatusLineWith(w io.Writer, delay time.Duration, spin spinner.Spinner) *statusLine {
	if w == nil {
		w = io.Discard
	}
	s := &statusLine{
		w:     w,
		delay: delay,
		spin:  spin,
		bar: progress.New(
			progress.WithWidth(statusBarWidth),
			progress.WithoutPercentage(),
			progress.WithFillCharacters('#', '-'),
			progress.WithColorProfile(termenv.Ascii),
		),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.loop()
	return s
}

// Observe records the event's snapshot. It never blocks the orchestrator.
func (s *statusLine) Observe(ev lifecycle.Event) {
	select {
	case <-s.stopCh:
		return
	default:
	}

	s.mu.Lock()
	changed := !s.seen || s.snap.State != ev.Snapshot.State
	s.snap = ev.Snapshot
	s.seen = true
	s.mu.Unlock()

	if ev.Kind == lifecycle.EventProgress && !changed {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *statusLine) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *statusLine) loop() {
	defer close(s.doneCh)

	visible := s.delay <= 0
	var delayCh <-chan time.Time
	if !visible {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		delayCh = timer.C
	}

	ticker := time.NewTicker(s.spin.FPS)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-s.stopCh:
			if visible {
				_, _ = fmt.Fprint(s.w, "\r\033[2K")
			}
			return
		case <-delayCh:
			delayCh = nil
			visible = true
		case <-s.wake:
		case <-ticker.C:
			frame++
		}
		if !visible {
			continue
		}

		s.mu.Lock()
		snap, seen := s.snap, s.seen
		s.mu.Unlock()
		if seen {
			_, _ = fmt.Fprint(s.w, "\r\033[2K"+s.render(snap, frame))
		}
	}
}

// render builds the status text for snap at the given animation frame.
func (s *statusLine) render(snap lifecycle.Snapshot, frame int) string {
	glyph := s.spin.Frames[frame%len(s.spin.Frames)]
	msg := stageMessage(snap.State)
	if snap.State != lifecycle.StateDownloading {
		return glyph + " " + msg
	}

	p := snap.Progress
	if pct, ok := p.Percent(); ok {
		return fmt.Sprintf("%s %s [%s] %3.0f%% %s / %s",
			glyph, msg, s.bar.ViewAs(pct), pct*100,
			humanize.IBytes(p.BytesRead), humanize.IBytes(p.TotalBytes))
	}
	return fmt.Sprintf("%s %s [%s] %s received", glyph, msg, sweep(frame, statusBarWidth), humanize.IBytes(p.BytesRead))
}

// sweep draws a block bouncing across an empty track for unknown totals.
func sweep(frame, width int) string {
	const block = 4
	span := width - block
	if span <= 0 {
		return strings.Repeat("#", width)
	}
	pos := frame % (2 * span)
	if pos > span {
		pos = 2*span - pos
	}
	return strings.Repeat("-", pos) + strings.Repeat("#", block) + strings.Repeat("-", span-pos)
}

func stageMessage(state lifecycle.State) string {
	switch state {
	case lifecycle.StateChecking:
		return "Checking for updates..."
	case lifecycle.StateUpdateFound:
		return "Update found"
	case lifecycle.StateDownloading:
		return "Downloading update..."
	case lifecycle.StateInstalling:
		return "Installing update..."
	case lifecycle.StateFinalizing:
		return "Recording installed version..."
	case lifecycle.StateReadyToLaunch, lifecycle.StateUpToDate:
		return "Launching game..."
	case lifecycle.StateFailed:
		return "Update failed"
	default:
		return "Working..."
	}
}
