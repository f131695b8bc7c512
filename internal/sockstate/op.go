// File: internal/sockstate/op.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sockstate

// OpKind is a requested lifecycle transition.
type OpKind int

const (
	OpAttachAsServer OpKind = iota + 1
	OpAttachAsClient
	OpBind
	OpResolveAndBind
	OpListen
	OpStopListening
	OpResolveAndConnect
	OpShutdownWrite
	OpTerminate
)

var opNames = map[OpKind]string{
	OpAttachAsServer:    "attach-as-server",
	OpAttachAsClient:    "attach-as-client",
	OpBind:              "bind",
	OpResolveAndBind:    "resolve-and-bind",
	OpListen:            "listen",
	OpStopListening:     "stop-listening",
	OpResolveAndConnect: "resolve-and-connect",
	OpShutdownWrite:     "shutdown-write",
	OpTerminate:         "terminate",
}

func (k OpKind) String() string {
	if name, ok := opNames[k]; ok {
		return name
	}
	return "unknown-op"
}

// legalSources lists, per operation, the states it may be applied in.
// Terminate is legal everywhere and not listed.
var legalSources = map[OpKind][]State{
	OpAttachAsServer:    {Unbound},
	OpAttachAsClient:    {Unbound},
	OpBind:              {ServerAwaitingBind, ClientIdle},
	OpResolveAndBind:    {ServerAwaitingBind, ClientIdle},
	OpListen:            {ServerBound},
	OpStopListening:     {ServerListening},
	OpResolveAndConnect: {ClientIdle},
	OpShutdownWrite:     {ClientIdle, ClientConnecting, ClientOpen, ClientReadOnly, ClientWriteOnly, ClientDraining},
}

// Accepts reports whether op may be applied while in state s. An op arriving
// in any other state must tear the socket down.
func Accepts(s State, op OpKind) bool {
	if op == OpTerminate {
		return true
	}
	for _, src := range legalSources[op] {
		if src == s {
			return true
		}
	}
	return false
}
