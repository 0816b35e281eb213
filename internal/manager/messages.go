package manager

import "fmt"

// ControlMessage is sent by the supervisor to a module's control loop.
type ControlMessage int

const (
	MsgStop ControlMessage = iota
	MsgExit
)

func (m ControlMessage) String() string {
	switch m {
	case MsgStop:
		return "stop"
	case MsgExit:
		return "exit"
	default:
		return fmt.Sprintf("ControlMessage(%d)", int(m))
	}
}

type ResponseKind int

const (
	ResponseUnknown ResponseKind = iota
	ResponseStopped
)

// ControlResponse is the completion notification a control loop emits
// exactly once, when it terminates.
type ControlResponse struct {
	Kind   ResponseKind
	Module string
}

func stopped(name string) ControlResponse {
	return ControlResponse{Kind: ResponseStopped, Module: name}
}

type loopState int32

const (
	StateNotRunning loopState = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s loopState) String() string {
	switch s {
	case StateNotRunning:
		return "not_running"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
