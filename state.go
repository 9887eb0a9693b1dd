// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import "sync"

// ClientState is the lifecycle of a Client, spec.md §2 item 3. States
// are ordered: Disconnected < WaitingForAck < Connected < SecureChannel
// < SessionRenewed < Session. A connect pushes the state up this order
// one step at a time; a failure or disconnect can drop it straight back
// to Disconnected.
type ClientState int

const (
	StateDisconnected ClientState = iota
	StateWaitingForAck
	StateConnected
	StateSecureChannel
	StateSessionRenewed
	StateSession
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateWaitingForAck:
		return "WaitingForAck"
	case StateConnected:
		return "Connected"
	case StateSecureChannel:
		return "SecureChannel"
	case StateSessionRenewed:
		return "SessionRenewed"
	case StateSession:
		return "Session"
	default:
		return "Unknown"
	}
}

// StateChangeHandler is invoked exactly once per state change. It is
// called with the mutator's lock released, so it is safe for the
// handler to call back into the Client (spec.md §4.1).
type StateChangeHandler func(ClientState)

// stateMachine is the single mutator for a Client's ClientState
// (spec.md §4.1: "a single function mutates the state field; every
// caller that wants to change state goes through it").
type stateMachine struct {
	mu      sync.Mutex
	current ClientState
	onChange StateChangeHandler
}

func (m *stateMachine) State() ClientState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// setState updates the state and, if it actually changed, invokes the
// observer callback exactly once, outside the lock.
func (m *stateMachine) setState(s ClientState) {
	m.mu.Lock()
	if m.current == s {
		m.mu.Unlock()
		return
	}
	m.current = s
	handler := m.onChange
	m.mu.Unlock()

	if handler != nil {
		handler(s)
	}
}
