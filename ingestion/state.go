// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"fmt"
	"sync"
)

// State is the progress of one ingestion request.
type State string

const (
	StateQueued     State = "QUEUED"
	StateFetching   State = "FETCHING"
	StateExtracting State = "EXTRACTING"
	StateEnriching  State = "ENRICHING"
	StateIndexing   State = "INDEXING"
	StateComplete   State = "COMPLETE"
	StateFailed     State = "FAILED"
)

var transitions = map[State][]State{
	StateQueued:     {StateFetching},
	StateFetching:   {StateExtracting, StateFailed},
	StateExtracting: {StateEnriching, StateFailed},
	StateEnriching:  {StateIndexing},
	StateIndexing:   {StateComplete},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransition reports whether the state machine has an edge from s to next.
func (s State) CanTransition(next State) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// machine tracks the state of a single request.
type machine struct {
	mu    sync.Mutex
	state State
}

func newMachine() *machine {
	return &machine{state: StateQueued}
}

func (m *machine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *machine) transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}
	m.state = next
	return nil
}
