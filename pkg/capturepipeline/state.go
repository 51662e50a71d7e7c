// Package capturepipeline drives one capture through copy, upload, parse and
// publish, and schedules those runs on a fixed interval.
package capturepipeline

import (
	"errors"
	"fmt"
)

// State is the stage the driver is in.
type State int

const (
	Idle State = iota
	Capturing
	Copying
	Uploading
	Parsing
	Publishing
	Aborted
)

var stateNames = [...]string{
	Idle:       "idle",
	Capturing:  "capturing",
	Copying:    "copying",
	Uploading:  "uploading",
	Parsing:    "parsing",
	Publishing: "publishing",
	Aborted:    "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText lets reports carry the stage by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrBusy is returned by Run while another run is in flight.
var ErrBusy = errors.New("capture already in progress")

// StageError records the stage a run was abandoned in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("capture aborted while %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
