// Package health tracks the health of every backend target the resolver
// has contacted.
package health

import (
	stderr "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/objectfs/assetresolver/pkg/errors"
)

// HealthState represents the health state of one backend target
type HealthState int

const (
	// StateHealthy indicates the target answers probes and fetches
	StateHealthy HealthState = iota

	// StateDegraded indicates repeated transient failures
	StateDegraded

	// StateReadOnly indicates the remote answers but fetched content
	// cannot be written to the cache directory
	StateReadOnly

	// StateUnavailable indicates the backend client could not be
	// constructed. It is permanent for the tracker's lifetime.
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Component names the health entry of one backend target.
func Component(backend, target string) string {
	return backend + "/" + target
}

// ComponentHealth tracks the health of a specific backend target
type ComponentHealth struct {
	Name              string      `json:"name"`
	State             HealthState `json:"state"`
	LastStateChange   time.Time   `json:"last_state_change"`
	LastActivity      time.Time   `json:"last_activity"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastError         error       `json:"-"`
	LastErrorMessage  string      `json:"last_error_message,omitempty"`
	Permanent         bool        `json:"permanent,omitempty"`
}

// Tracker tracks the health of backend targets and determines overall health
type Tracker struct {
	mu             sync.RWMutex
	components     map[string]*ComponentHealth
	config         TrackerConfig
	stateCallbacks []StateChangeCallback
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before marking a target degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// RecoveryThreshold is the number of consecutive successes to recover from degraded state
	RecoveryThreshold int `yaml:"recovery_threshold" json:"recovery_threshold"`
}

// StateChangeCallback is called after a target's health state changes
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:    3,
		RecoveryThreshold: 1,
	}
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = 1
	}
	if config.RecoveryThreshold <= 0 {
		config.RecoveryThreshold = 1
	}
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
	}
}

// component returns the entry for name, creating it. Lock held.
func (t *Tracker) component(name string) *ComponentHealth {
	health, exists := t.components[name]
	if !exists {
		now := time.Now()
		health = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastActivity:    now,
		}
		t.components[name] = health
	}
	return health
}

// RecordSuccess records a successful probe or fetch for a target
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	health := t.component(component)
	oldState := health.State
	health.LastActivity = time.Now()

	if !health.Permanent && health.ConsecutiveErrors > 0 {
		health.ConsecutiveErrors -= t.config.RecoveryThreshold
		if health.ConsecutiveErrors < 0 {
			health.ConsecutiveErrors = 0
		}
		if health.ConsecutiveErrors == 0 && health.State != StateHealthy {
			t.transitionState(health, StateHealthy)
		}
	}
	callbacks := t.changed(oldState, health.State)
	t.mu.Unlock()

	notify(callbacks, component, oldState, StateHealthy, nil)
}

// RecordError records a failed probe or fetch for a target
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	health := t.component(component)
	oldState := health.State
	health.LastActivity = time.Now()
	if health.Permanent {
		t.mu.Unlock()
		return
	}

	health.ConsecutiveErrors++
	health.LastError = err
	if err != nil {
		health.LastErrorMessage = err.Error()
	}

	if health.ConsecutiveErrors >= t.config.ErrorThreshold {
		newState := StateDegraded
		if isWriteError(err) {
			newState = StateReadOnly
		}
		if newState != oldState {
			t.transitionState(health, newState)
		}
	}
	newState := health.State
	callbacks := t.changed(oldState, newState)
	t.mu.Unlock()

	notify(callbacks, component, oldState, newState, err)
}

// MarkUnavailable records a failed backend client construction. The
// target stays unavailable for the tracker's lifetime.
func (t *Tracker) MarkUnavailable(component string, err error) {
	t.mu.Lock()
	health := t.component(component)
	oldState := health.State
	health.LastActivity = time.Now()
	health.Permanent = true
	health.LastError = err
	if err != nil {
		health.LastErrorMessage = err.Error()
	}
	if oldState != StateUnavailable {
		t.transitionState(health, StateUnavailable)
	}
	callbacks := t.changed(oldState, StateUnavailable)
	t.mu.Unlock()

	notify(callbacks, component, oldState, StateUnavailable, err)
}

// GetState returns the current health state of a target. Targets never
// seen are reported healthy.
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, exists := t.components[component]; exists {
		return health.State
	}
	return StateHealthy
}

// GetComponentHealth returns the health information for a target
func (t *Tracker) GetComponentHealth(component string) (*ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	health, exists := t.components[component]
	if !exists {
		return nil, fmt.Errorf("component %s not registered", component)
	}

	// Return a copy to prevent external modification
	c := *health
	return &c, nil
}

// GetAllComponents returns health information for all targets, sorted by name
func (t *Tracker) GetAllComponents() []ComponentHealth {
	t.mu.RLock()
	result := make([]ComponentHealth, 0, len(t.components))
	for _, health := range t.components {
		result = append(result, *health)
	}
	t.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetOverallHealth returns the worst state of any target
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overallState := StateHealthy
	for _, health := range t.components {
		if health.State > overallState {
			overallState = health.State
		}
	}
	return overallState
}

// AddStateChangeCallback registers a callback for state changes
func (t *Tracker) AddStateChangeCallback(callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stateCallbacks = append(t.stateCallbacks, callback)
}

// Report is a point-in-time snapshot of every target.
type Report struct {
	Status     HealthState       `json:"status"`
	Components []ComponentHealth `json:"components"`
}

// Report returns a snapshot suitable for a health endpoint.
func (t *Tracker) Report() Report {
	return Report{
		Status:     t.GetOverallHealth(),
		Components: t.GetAllComponents(),
	}
}

// transitionState moves a target to a new state. Lock held.
func (t *Tracker) transitionState(health *ComponentHealth, newState HealthState) {
	health.State = newState
	health.LastStateChange = time.Now()

	if newState == StateHealthy {
		health.ConsecutiveErrors = 0
		health.LastError = nil
		health.LastErrorMessage = ""
	}
}

// changed returns the callbacks to run for a transition. Lock held.
func (t *Tracker) changed(oldState, newState HealthState) []StateChangeCallback {
	if oldState == newState || len(t.stateCallbacks) == 0 {
		return nil
	}
	return append([]StateChangeCallback(nil), t.stateCallbacks...)
}

func notify(callbacks []StateChangeCallback, component string, oldState, newState HealthState, err error) {
	for _, callback := range callbacks {
		callback(component, oldState, newState, err)
	}
}

// isWriteError reports whether err is a local cache write failure
func isWriteError(err error) bool {
	var rerr *errors.ResolverError
	return stderr.As(err, &rerr) && rerr.Code == errors.ErrCodeWriteFailed
}
