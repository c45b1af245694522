package lifecycle

import (
	"fmt"
	"strings"
)

// Lifecycle states
const (
	StateUninitialized = "Uninitialized"
	StateConfigLoaded  = "ConfigLoaded"
	StateHandlerLoaded = "HandlerLoaded"
	StateServing       = "Serving"
	StateReloading     = "Reloading"
	StateError         = "Error"
)

var transitions = map[string][]string{
	StateUninitialized: {StateConfigLoaded, StateError},
	StateConfigLoaded:  {StateHandlerLoaded, StateServing, StateError},
	StateHandlerLoaded: {StateServing, StateError},
	StateServing:       {StateReloading, StateError},
	StateReloading:     {StateServing, StateError},
	StateError:         {},
}

// ReloadMode selects when the handler source is read again.
type ReloadMode string

const (
	// ReloadNever loads the handler once at startup.
	ReloadNever ReloadMode = "never"
	// ReloadAlways reads the handler source before every call.
	ReloadAlways ReloadMode = "always"
	// ReloadWatch reads the handler source before the next call after a change notification.
	ReloadWatch ReloadMode = "watch"
)

// ParseReloadMode accepts never, always and watch. An empty string is never.
func ParseReloadMode(s string) (ReloadMode, error) {
	switch ReloadMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ReloadNever:
		return ReloadNever, nil
	case ReloadAlways:
		return ReloadAlways, nil
	case ReloadWatch:
		return ReloadWatch, nil
	default:
		return "", fmt.Errorf("unknown reload mode %q", s)
	}
}

func (m ReloadMode) String() string { return string(m) }
