package client

import (
	"fmt"
	"sync"
)

// State is one step of a register or verify attempt.
type State string

const (
	StateIdle             State = "idle"
	StateFileSelected     State = "file_selected"
	StateDecoding         State = "decoding"
	StateDecodeFailed     State = "decode_failed"
	StatePayloadInvalid   State = "payload_invalid"
	StateHashing          State = "hashing"
	StateContactingServer State = "contacting_server"
	// StateVerified also means "registered" for registration attempts.
	StateVerified    State = "verified"
	StateNotVerified State = "not_verified"
	StateServerError State = "server_error"
)

// Server-side decoding (ContractUpload) skips Decoding and Hashing, so the
// server may report decode and payload failures from ContactingServer.
var transitions = map[State][]State{
	StateIdle:             {StateFileSelected},
	StateFileSelected:     {StateDecoding, StateContactingServer},
	StateDecoding:         {StateDecodeFailed, StatePayloadInvalid, StateHashing, StateContactingServer},
	StateHashing:          {StateContactingServer, StatePayloadInvalid},
	StateContactingServer: {StateVerified, StateNotVerified, StateServerError, StateDecodeFailed, StatePayloadInvalid},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionFunc observes state changes, e.g. to drive a progress display.
type TransitionFunc func(from, to State)

// Attempt tracks one register or verify attempt. It is safe for concurrent use.
type Attempt struct {
	mu      sync.Mutex
	state   State
	history []State
	observe TransitionFunc
}

// NewAttempt starts an attempt in StateIdle.
func NewAttempt(observe TransitionFunc) *Attempt {
	return &Attempt{state: StateIdle, history: []State{StateIdle}, observe: observe}
}

// State returns the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns every state visited, in order.
func (a *Attempt) History() []State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]State(nil), a.history...)
}

// Transition moves to next. An illegal move is a programming error and leaves
// the attempt unchanged.
func (a *Attempt) Transition(next State) error {
	a.mu.Lock()
	from := a.state
	if !CanTransition(from, next) {
		a.mu.Unlock()
		return fmt.Errorf("client: invalid transition %s -> %s", from, next)
	}
	a.state = next
	a.history = append(a.history, next)
	observe := a.observe
	a.mu.Unlock()

	if observe != nil {
		observe(from, next)
	}
	return nil
}
