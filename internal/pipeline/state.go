package pipeline

import (
	"errors"
	"fmt"

	"github.com/olivier-w/bandviz/internal/config"
)

// State is the pipeline lifecycle state.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Recovering
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Recovering:
		return "recovering"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrAlreadyRunning is returned by Start on a pipeline that is not stopped.
var ErrAlreadyRunning = errors.New("pipeline: already running")

// Error describes a fatal pipeline failure.
type Error struct {
	Op     string
	Device string
	Config *config.Config
	Err    error
}

func (e *Error) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("pipeline %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("pipeline %s on %q: %v", e.Op, e.Device, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Status is a point-in-time view of the pipeline.
type Status struct {
	State  State
	Device string
	// Err is the most recent device or recovery error, if any.
	Err error

	Dropped    uint64
	Overflows  uint64
	Panics     uint64
	Recoveries uint64

	// Generation increases each time a new capture session starts.
	Generation uint64
	BandCount  int
}
