// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package feedback

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/achiyae/ReqEvo/pkg/logging"
	"github.com/achiyae/ReqEvo/services/workflow"
)

// writeWait bounds a single WebSocket write so one stalled browser tab
// cannot wedge the event stream for everyone else.
const writeWait = 5 * time.Second

// Hub fans workflow events out to the WebSocket subscribers of each
// domain. It implements workflow.Observer, so it attaches directly to
// the controller's event fanout.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes to a connection are
// serialized under the hub mutex; the per-connection read loop in the
// socket handler is the only reader.
type Hub struct {
	logger *logging.Logger

	mu     sync.Mutex
	conns  map[string]map[*websocket.Conn]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		logger: logger,
		conns:  map[string]map[*websocket.Conn]struct{}{},
	}
}

// OnEvent pushes one event to every subscriber of its domain. Dead
// connections are dropped on write failure; the handler's read loop
// notices the close and returns.
func (h *Hub) OnEvent(e workflow.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns[e.Domain] {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(e); err != nil {
			h.logger.Debug("dropping websocket subscriber",
				"domain", e.Domain, "error", err)
			conn.Close()
			delete(h.conns[e.Domain], conn)
		}
	}
}

// send delivers one event to a single connection, under the same mutex
// that serializes broadcast writes.
func (h *Hub) send(conn *websocket.Conn, e workflow.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}

// register adds a subscriber for a domain. It reports false once the
// hub is closed, so a race between shutdown and a late upgrade cannot
// leak a connection.
func (h *Hub) register(domainID string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.conns[domainID]
	if !ok {
		set = map[*websocket.Conn]struct{}{}
		h.conns[domainID] = set
	}
	set[conn] = struct{}{}
	return true
}

// unregister removes a subscriber; the caller closes the connection.
func (h *Hub) unregister(domainID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[domainID], conn)
}

// subscribers reports how many connections watch a domain.
func (h *Hub) subscribers(domainID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[domainID])
}

// Close drops every subscriber and refuses new ones. Called when the
// server shuts down.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.conns {
		for conn := range set {
			conn.Close()
		}
	}
	h.conns = map[string]map[*websocket.Conn]struct{}{}
}

var _ workflow.Observer = (*Hub)(nil)
