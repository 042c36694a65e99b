package ui

import (
	"strings"
	"sync"
)

// Line is one recorded report.
type Line struct {
	Kind string // status, warn, error
	Verb string
	Msg  string
}

// Recorder keeps every reported line in memory. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	lines []Line
}

func (r *Recorder) Status(verb, msg string) { r.add(Line{Kind: "status", Verb: verb, Msg: msg}) }
func (r *Recorder) Warn(msg string)         { r.add(Line{Kind: "warn", Verb: "warning", Msg: msg}) }
func (r *Recorder) Error(msg string)        { r.add(Line{Kind: "error", Verb: "error", Msg: msg}) }

func (r *Recorder) add(l Line) {
	r.mu.Lock()
	r.lines = append(r.lines, l)
	r.mu.Unlock()
}

// Lines returns a copy of the recorded lines.
func (r *Recorder) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Line(nil), r.lines...)
}

// Verbs returns the recorded status verbs in order.
func (r *Recorder) Verbs() []string {
	var out []string
	for _, l := range r.Lines() {
		out = append(out, l.Verb)
	}
	return out
}

// Contains reports whether any line's message contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, l := range r.Lines() {
		if strings.Contains(l.Msg, substr) {
			return true
		}
	}
	return false
}
