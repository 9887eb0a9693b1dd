// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import "testing"

func TestStateMachineFiresOnceOnChange(t *testing.T) {
	var sm stateMachine
	var transitions []ClientState
	sm.onChange = func(s ClientState) { transitions = append(transitions, s) }

	sm.setState(StateWaitingForAck)
	sm.setState(StateWaitingForAck) // no-op: same state must not re-fire
	sm.setState(StateConnected)

	want := []ClientState{StateWaitingForAck, StateConnected}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
	if sm.State() != StateConnected {
		t.Fatalf("State() = %s, want Connected", sm.State())
	}
}

func TestStateMachineCallbackCanReenter(t *testing.T) {
	// The observer callback runs with the lock released (spec.md §4.1),
	// so it must be safe for it to call back into State()/setState
	// without deadlocking.
	var sm stateMachine
	sm.onChange = func(s ClientState) {
		if s == StateWaitingForAck {
			sm.setState(StateConnected)
		}
	}
	sm.setState(StateWaitingForAck)
	if sm.State() != StateConnected {
		t.Fatalf("State() = %s, want Connected after reentrant setState", sm.State())
	}
}

func TestClientStateString(t *testing.T) {
	cases := map[ClientState]string{
		StateDisconnected:   "Disconnected",
		StateWaitingForAck:  "WaitingForAck",
		StateConnected:      "Connected",
		StateSecureChannel:  "SecureChannel",
		StateSessionRenewed: "SessionRenewed",
		StateSession:        "Session",
		ClientState(99):     "Unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("ClientState(%d).String() = %q, want %q", state, got, want)
		}
	}
}
