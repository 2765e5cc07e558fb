package navigation

import (
	"sync"
)

// Navigator is the host browsing context
type Navigator interface {
	// Location returns the current absolute URL
	Location() string
	// Navigate sets the location to an absolute URL
	Navigate(url string) error
}

// Redirect navigates to dest when it differs from current. The comparison is
// exact string identity so a change anywhere in the URL counts.
func Redirect(nav Navigator, current, dest string) (bool, error) {
	if dest == current {
		return false, nil
	}
	if err := nav.Navigate(dest); err != nil {
		return false, err
	}
	return true, nil
}

// MemoryNavigator is an in-process browsing context that records every
// navigation it is asked to perform
type MemoryNavigator struct {
	mu      sync.Mutex
	current string
	history []string
}

// NewMemoryNavigator starts at location
func NewMemoryNavigator(location string) *MemoryNavigator {
	return &MemoryNavigator{current: location}
}

// Location implements Navigator
func (m *MemoryNavigator) Location() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Navigate implements Navigator
func (m *MemoryNavigator) Navigate(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = url
	m.history = append(m.history, url)
	return nil
}

// History returns every location navigated to so far
func (m *MemoryNavigator) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}
