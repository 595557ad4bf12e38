// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// spinnerModel drives the animation inside a bubbletea program.
type spinnerModel struct {
	spin    spinner.Model
	message string
	done    bool
}

// Messages the Spinner sends into the running program.
type (
	setMessageMsg string
	stopMsg       struct{}
)

func newSpinnerModel(message string) spinnerModel {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = Styles.Highlight
	return spinnerModel{spin: sp, message: message}
}

// Init starts the tick loop.
func (m spinnerModel) Init() tea.Cmd {
	return m.spin.Tick
}

// Update handles ticks and control messages. Key input never reaches
// the model; the program runs without an input source.
func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case setMessageMsg:
		m.message = string(msg)
		return m, nil
	case stopMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	default:
		return m, nil
	}
}

// View renders the current frame and message.
func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s %s", m.spin.View(), m.message)
}

// Spinner provides an animated loading indicator
type Spinner struct {
	mu      sync.Mutex
	message string
	program *tea.Program
	done    chan struct{}
	running bool
}

// NewSpinner creates a new spinner with the given message
func NewSpinner(message string) *Spinner {
	return &Spinner{message: message}
}

// Start begins the spinner animation
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	message := s.message

	// In machine mode, just report progress once
	if GetPersonality().Level == PersonalityMachine {
		s.mu.Unlock()
		fmt.Printf("PROGRESS: %s\n", message)
		return
	}

	// The spinner renders to stderr and never reads input, leaving
	// stdin free for the command's own prompts.
	p := tea.NewProgram(newSpinnerModel(message),
		tea.WithOutput(os.Stderr),
		tea.WithInput(nil),
	)
	s.program = p
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		_, _ = p.Run()
		close(done)
	}()
}

// UpdateMessage changes the spinner message while running
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	p := s.program
	s.mu.Unlock()

	if p != nil {
		p.Send(setMessageMsg(message))
	}
}

// Stop halts the spinner animation
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	p := s.program
	done := s.done
	s.program = nil
	s.mu.Unlock()

	if p == nil {
		return
	}
	p.Send(stopMsg{})
	<-done
}

// StopWithSuccess stops and prints a success message
func (s *Spinner) StopWithSuccess(message string) {
	s.Stop()
	Success(message)
}

// StopWithError stops and prints an error message
func (s *Spinner) StopWithError(message string) {
	s.Stop()
	Error(message)
}

// StopWithWarning stops and prints a warning message
func (s *Spinner) StopWithWarning(message string) {
	s.Stop()
	Warning(message)
}

// WithSpinner runs a function with a spinner, handling success/error automatically
func WithSpinner(message string, fn func() error) error {
	spin := NewSpinner(message)
	spin.Start()

	err := fn()

	if err != nil {
		spin.StopWithError(fmt.Sprintf("%s: %v", message, err))
		return err
	}

	spin.StopWithSuccess(message)
	return nil
}
