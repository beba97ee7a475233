package common

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause state consulted before every state-changing
// operation.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module has been paused by governance.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// SwitchBoard is a concurrency-safe PauseView with explicit setters, used by
// the daemon to halt individual engines during incident response.
type SwitchBoard struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewSwitchBoard() *SwitchBoard {
	return &SwitchBoard{paused: make(map[string]bool)}
}

// SetPaused flips the pause flag for the named module. Module names are
// stored lowercase so lookups remain consistent regardless of caller casing.
func (s *SwitchBoard) SetPaused(module string, paused bool) {
	if s == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(module))
	if name == "" {
		return
	}
	s.mu.Lock()
	if paused {
		s.paused[name] = true
	} else {
		delete(s.paused, name)
	}
	s.mu.Unlock()
}

func (s *SwitchBoard) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[strings.ToLower(strings.TrimSpace(module))]
}

// Paused lists the currently paused modules in sorted order for diagnostics.
func (s *SwitchBoard) Paused() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.paused))
	for name := range s.paused {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
