// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

//go:generate go run -tags=tools golang.org/x/tools/cmd/stringer -output=string.go -type=State,Trigger -linecomment

// Package lifecycle tracks the protocol level phase of a client connection.
//
// The phase is independent of the state of the underlying socket: it records
// which high level actions have been requested and gates which ones may be
// requested next.
// Transitions are driven by named triggers and a trigger that has no
// transition from the current state is an error.
//
// The transition table is:
//
//	Disconnected --Connect-->    Connect       (calls Connector.Connect)
//	Connect      --Connected-->  Connected
//	Connect      --Disconnect--> Disconnect    (calls Connector.Disconnect)
//	Connected    --Disconnect--> Disconnect    (calls Connector.Disconnect)
//	Disconnect   --Disconnect--> Disconnected
//
// Entering Disconnect calls Connector.Disconnect and, if it succeeds, settles
// in Disconnected straight away.
// If it fails the machine rests in Disconnect until the Disconnect trigger is
// fired again.
package lifecycle // import "mellium.im/c2s/lifecycle"

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is a protocol phase.
// States are compared by value.
type State uint8

// A list of states.
const (
	StateDisconnected State = iota // Disconnected
	StateConnect                   // Connect
	StateConnected                 // Connected
	StateDisconnect                // Disconnect
)

const numStates = int(StateDisconnect) + 1

// Trigger is a named event that moves the machine between states.
type Trigger uint8

// A list of triggers.
const (
	TriggerConnect    Trigger = iota // Connect
	TriggerConnected                 // Connected
	TriggerDisconnect                // Disconnect
)

const numTriggers = int(TriggerDisconnect) + 1

// Errors returned by Fire.
var (
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	ErrNoConnector       = errors.New("lifecycle: no connector")
)

// TransitionError is returned when a trigger is fired from a state that has
// no transition for it.
// It matches ErrInvalidTransition with errors.Is.
type TransitionError struct {
	State   State
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lifecycle: trigger %s is not permitted in state %s", e.Trigger, e.State)
}

// Is reports whether target is ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Connector is the connection capability driven by a Machine.
// The machine only uses a Connector for the duration of a call to Fire.
type Connector interface {
	Connect(ctx context.Context, hostname string) error
	Disconnect() error
}

var transitions = map[State]map[Trigger]State{
	StateDisconnected: {
		TriggerConnect: StateConnect,
	},
	StateConnect: {
		TriggerConnected:  StateConnected,
		TriggerDisconnect: StateDisconnect,
	},
	StateConnected: {
		TriggerDisconnect: StateDisconnect,
	},
	StateDisconnect: {
		TriggerDisconnect: StateDisconnected,
	},
}

// entry is run when a state is entered from another state.
type entry struct {
	action    func(ctx context.Context, target string, c Connector) error
	onSuccess State
	onError   State
}

var entries = map[State]entry{
	StateConnect: {
		action: func(ctx context.Context, target string, c Connector) error {
			return c.Connect(ctx, target)
		},
		onSuccess: StateConnect,
		onError:   StateDisconnected,
	},
	StateDisconnect: {
		action: func(_ context.Context, _ string, c Connector) error {
			return c.Disconnect()
		},
		onSuccess: StateDisconnected,
		onError:   StateDisconnect,
	},
}

func init() {
	if err := validate(); err != nil {
		panic(err)
	}
}

// validate checks that every state has a row in the transition table and that
// every transition and entry leads to a known state.
func validate() error {
	if len(transitions) != numStates {
		return fmt.Errorf("lifecycle: transition table has %d rows, want %d", len(transitions), numStates)
	}
	for from, row := range transitions {
		if int(from) >= numStates {
			return fmt.Errorf("lifecycle: unknown state %s in transition table", from)
		}
		if len(row) == 0 {
			return fmt.Errorf("lifecycle: state %s has no transitions", from)
		}
		for t, to := range row {
			if int(t) >= numTriggers || int(to) >= numStates {
				return fmt.Errorf("lifecycle: bad transition %s --%s--> %s", from, t, to)
			}
		}
	}
	for s, e := range entries {
		if int(s) >= numStates || int(e.onSuccess) >= numStates || int(e.onError) >= numStates || e.action == nil {
			return fmt.Errorf("lifecycle: bad entry action for %s", s)
		}
	}
	return nil
}

// Machine is a deterministic finite state machine over protocol phases.
// It is safe for concurrent use.
type Machine struct {
	target string

	mu    sync.Mutex
	state State
}

// New returns a machine in the Disconnected state.
// Entering the Connect state connects to target.
func New(target string) *Machine {
	return &Machine{target: target}
}

// Target returns the hostname passed to Connector.Connect.
func (m *Machine) Target() string {
	return m.target
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Permitted reports whether t has a transition from the current state.
func (m *Machine) Permitted(t Trigger) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := transitions[m.state][t]
	return ok
}

// Fire moves the machine along the transition for t, running the entry action
// of the new state against c.
//
// If t is not permitted in the current state a *TransitionError is returned
// and the state does not change.
// If an entry action fails its error is returned and the machine settles in
// the state documented in the package overview.
// Fire holds the machine's lock while the entry action runs; concurrent
// callers wait for it.
func (m *Machine) Fire(ctx context.Context, t Trigger, c Connector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	to, ok := transitions[m.state][t]
	if !ok {
		return &TransitionError{State: m.state, Trigger: t}
	}
	e, ok := entries[to]
	if !ok {
		m.state = to
		return nil
	}
	if c == nil {
		return fmt.Errorf("%w: entering %s from %s", ErrNoConnector, to, m.state)
	}
	m.state = to
	if err := e.action(ctx, m.target, c); err != nil {
		m.state = e.onError
		return err
	}
	m.state = e.onSuccess
	return nil
}
