package server

import "testing"

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from connState
		to   connState
		want bool
	}{
		{"handshake completes", stateConnecting, stateOpen, true},
		{"first accepted rename", stateOpen, stateNamed, true},
		{"join after naming", stateNamed, stateJoined, true},
		{"room switch loops joined", stateJoined, stateJoined, true},
		{"open may start closing", stateOpen, stateClosing, true},
		{"joined may start closing", stateJoined, stateClosing, true},
		{"closing finishes", stateClosing, stateClosed, true},
		{"no join without a name", stateOpen, stateJoined, false},
		{"no rename before handshake", stateConnecting, stateNamed, false},
		{"no reopening a closed connection", stateClosed, stateOpen, false},
		{"closing is one-way", stateClosing, stateClosing, false},
		{"closed is terminal", stateClosed, stateClosing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("validTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestConnStateStrings(t *testing.T) {
	states := map[connState]string{
		stateConnecting: "connecting",
		stateOpen:       "open",
		stateNamed:      "named",
		stateJoined:     "joined",
		stateClosing:    "closing",
		stateClosed:     "closed",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
