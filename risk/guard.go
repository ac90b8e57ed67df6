package risk

import "errors"

// ErrPaused is returned when a governance pause blocks a mutating flow.
var ErrPaused = errors.New("risk engine: module paused")

// PauseView reports whether a module's mutating flows are halted.
type PauseView interface {
	IsPaused(module string) bool
}

func guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrPaused
	}
	return nil
}
