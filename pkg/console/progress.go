// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package console renders a single, continuously-updated progress line that
// coexists with normal log output. All writes are serialized behind one
// mutex so chunk workers and the merge/verify path can share the terminal
// without corrupting it.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))  // green
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")) // cyan
)

// tagStyles maps the bracketed status tags used in log lines to a style.
var tagStyles = map[string]lipgloss.Style{
	"[ERROR]":       errorStyle,
	"[FAILED]":      errorStyle,
	"[WARNING]":     warningStyle,
	"[SKIP]":        successStyle,
	"[OK]":          successStyle,
	"[VERIFIED]":    successStyle,
	"[DOWNLOADING]": activeStyle,
	"[RESUMING]":    activeStyle,
	"[MERGING]":     activeStyle,
	"[VERIFYING]":   activeStyle,
	"[RE-DOWNLOAD]": warningStyle,
	"[INFO]":        activeStyle,
}

// Presenter owns the terminal's current line. Show replaces an ephemeral
// progress line in place, Log prints a permanent line (clearing any progress
// line first), and Finalize turns the progress line into a permanent one.
type Presenter struct {
	mu      sync.Mutex
	w       io.Writer
	width   func() int
	color   bool
	lastLen int
	active  bool
}

// New returns a Presenter writing to stdout, sized to the real terminal.
func New() *Presenter {
	fd := int(os.Stdout.Fd())
	return &Presenter{
		w:     os.Stdout,
		color: term.IsTerminal(fd) && os.Getenv("NO_COLOR") == "",
		width: func() int {
			if w, _, err := term.GetSize(fd); err == nil && w > 0 {
				return w
			}
			return 100
		},
	}
}

// NewWithWriter returns a Presenter for a fixed writer and width function.
// Used by non-interactive consumers and tests.
func NewWithWriter(w io.Writer, width func() int) *Presenter {
	if width == nil {
		width = func() int { return 100 }
	}
	return &Presenter{w: w, width: width}
}

// Discard returns a Presenter that swallows all output.
func Discard() *Presenter {
	return NewWithWriter(io.Discard, nil)
}

// Show renders text as the current progress line. The line is truncated to
// the terminal width minus one column so it can never wrap, and any trailing
// content from a previous longer line is erased.
func (p *Presenter) Show(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.showLocked(text)
}

func (p *Presenter) showLocked(text string) {
	text = p.truncate(text)
	fmt.Fprint(p.w, "\r"+text)
	if extra := p.lastLen - len([]rune(text)); extra > 0 {
		fmt.Fprint(p.w, strings.Repeat(" ", extra))
		fmt.Fprint(p.w, "\r"+text)
	}
	p.lastLen = len([]rune(text))
	p.active = true
}

// Log prints a permanent line. An in-flight progress line is cleared first
// and is not resumed; the next Show re-renders it.
func (p *Presenter) Log(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		p.clearLocked()
	}
	fmt.Fprintln(p.w, p.stylize(text))
}

// Logf is Log with formatting.
func (p *Presenter) Logf(format string, args ...any) {
	p.Log(fmt.Sprintf(format, args...))
}

// Clear erases the current progress line, if any, leaving the cursor at the
// start of a blank line.
func (p *Presenter) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		p.clearLocked()
	}
}

// Finalize ends the progress line with a trailing newline so subsequent
// output starts clean. With a non-empty text the line is re-rendered one
// last time before the newline.
func (p *Presenter) Finalize(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if text != "" {
		p.showLocked(text)
		fmt.Fprintln(p.w)
	} else if p.active {
		fmt.Fprintln(p.w)
	}
	p.lastLen = 0
	p.active = false
}

func (p *Presenter) clearLocked() {
	clear := p.lastLen
	if w := p.width(); w > clear {
		clear = w
	}
	fmt.Fprint(p.w, "\r"+strings.Repeat(" ", clear)+"\r")
	p.lastLen = 0
	p.active = false
}

func (p *Presenter) truncate(text string) string {
	max := p.width() - 1
	if max < 1 {
		max = 1
	}
	r := []rune(text)
	if len(r) > max {
		return string(r[:max])
	}
	return text
}

// stylize colors the leading bracketed tag of a log line, when there is one.
// Progress lines are never styled: escape sequences would break the
// width/padding arithmetic.
func (p *Presenter) stylize(text string) string {
	if !p.color {
		return text
	}
	if i := strings.Index(text, "]"); strings.HasPrefix(text, "[") && i > 0 {
		tag := text[:i+1]
		if style, ok := tagStyles[tag]; ok {
			return style.Render(tag) + text[i+1:]
		}
	}
	return text
}
