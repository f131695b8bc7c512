// File: internal/sockstate/state.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket lifecycle states, the transition partial order, and the commands
// that request transitions.

package sockstate

// State is a socket handle's lifecycle position.
type State int

const (
	Unbound State = iota
	Idle
	ServerAwaitingBind
	ServerBound
	ServerListening
	ClientIdle
	ClientConnecting
	ClientOpen
	// ClientReadOnly: the read side is shut down (peer sent FIN); local
	// writes still flow.
	ClientReadOnly
	// ClientWriteOnly: the local write side is shut down (FIN sent); reads
	// still flow.
	ClientWriteOnly
	// ClientDraining: the write side is closing. Queued bytes flush, FIN is
	// sent, and the handle is destroyed once the read side is done too.
	ClientDraining
	Destroyed
)

var stateNames = [...]string{
	Unbound:            "unbound",
	Idle:               "idle",
	ServerAwaitingBind: "server-awaiting-bind",
	ServerBound:        "server-bound",
	ServerListening:    "server-listening",
	ClientIdle:         "client-idle",
	ClientConnecting:   "client-connecting",
	ClientOpen:         "client-open",
	ClientReadOnly:     "client-read-only",
	ClientWriteOnly:    "client-write-only",
	ClientDraining:     "client-draining",
	Destroyed:          "destroyed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Role says which side of the lifecycle a handle follows.
type Role int

const (
	RoleUnset Role = iota
	RoleServer
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unset"
	}
}

// successors lists the legal forward steps out of each state. Destroyed is
// reachable from everywhere and not listed.
var successors = map[State][]State{
	Unbound:            {Idle},
	Idle:               {ServerAwaitingBind, ClientIdle},
	ServerAwaitingBind: {ServerBound},
	ServerBound:        {ServerListening},
	ClientIdle:         {ClientConnecting},
	ClientConnecting:   {ClientOpen},
	ClientOpen:         {ClientReadOnly, ClientWriteOnly, ClientDraining},
	ClientReadOnly:     {ClientDraining},
	ClientWriteOnly:    {ClientDraining},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	if from == Destroyed {
		return false
	}
	if to == Destroyed {
		return true
	}
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsClientOpenish reports whether the socket is connected and at least one
// direction still carries data.
func (s State) IsClientOpenish() bool {
	switch s {
	case ClientOpen, ClientReadOnly, ClientWriteOnly, ClientDraining:
		return true
	}
	return false
}

// CanRead reports whether inbound bytes are still expected in this state.
func (s State) CanRead() bool {
	switch s {
	case ClientOpen, ClientWriteOnly, ClientDraining:
		return true
	}
	return false
}

// CanWrite reports whether outbound bytes may still be sent in this state.
func (s State) CanWrite() bool {
	switch s {
	case ClientOpen, ClientReadOnly, ClientDraining:
		return true
	}
	return false
}
