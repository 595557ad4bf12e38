// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"sync"
	"time"
)

// Stage labels one step of a run for progress reporting.
type Stage string

const (
	StageCreated   Stage = "created"
	StageFetching  Stage = "fetching"
	StageDiffing   Stage = "diffing"
	StageAnalyzing Stage = "analyzing"
	StageRendering Stage = "rendering"
	StageAwaiting  Stage = "awaiting"
	StageFinalized Stage = "finalized"
	StageFailed    Stage = "failed"
)

// Event is one progress notification. The JSON form is what the
// WebSocket stream carries, so field names are part of the wire
// contract with the report pages.
type Event struct {
	Domain  string    `json:"domain"`
	Run     int       `json:"run"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Observer receives progress events from the controller.
//
// # Thread Safety
//
// OnEvent may be called from any goroutine and must not block: slow
// consumers should buffer or drop on their side.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}

// Fanout dispatches each event to every attached observer. The zero
// value is usable; a nil *Fanout is a silent sink.
//
// # Thread Safety
//
// Safe for concurrent Attach and OnEvent.
type Fanout struct {
	mu        sync.RWMutex
	observers []Observer
}

// Attach adds an observer. Nil observers are ignored.
func (f *Fanout) Attach(o Observer) {
	if f == nil || o == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, o)
}

// OnEvent forwards the event to every attached observer in order.
func (f *Fanout) OnEvent(e Event) {
	if f == nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, o := range f.observers {
		o.OnEvent(e)
	}
}
