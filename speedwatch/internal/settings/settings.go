// Package settings holds the configuration snapshot the engine consumes,
// the provider contract it is loaded from, and the live per-engine view
// that debounces lastSpeed persistence.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// Speed limits applied to every write.
const (
	MinSpeed = 0.07
	MaxSpeed = 16.0
)

// KeyBinding maps a key code to an action and its argument.
type KeyBinding struct {
	Action     string  `json:"action"`
	Key        int     `json:"key"`
	Value      float64 `json:"value"`
	Force      bool    `json:"force"`
	Predefined bool    `json:"predefined"`
}

// Limits bounds every applied speed.
type Limits struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Snapshot is one immutable view of the settings. Field names in JSON
// match the persisted keys.
type Snapshot struct {
	Enabled              bool         `json:"enabled"`
	LastSpeed            float64      `json:"lastSpeed"`
	RememberSpeed        bool         `json:"rememberSpeed"`
	ForceLastSavedSpeed  bool         `json:"forceLastSavedSpeed"`
	AudioEnabled         bool         `json:"audioBoolean"`
	StartHidden          bool         `json:"startHidden"`
	DisplayKeyCode       int          `json:"displayKeyCode"`
	ControllerOpacity    float64      `json:"controllerOpacity"`
	ControllerButtonSize int          `json:"controllerButtonSize"`
	Blacklist            string       `json:"blacklist"`
	KeyBindings          []KeyBinding `json:"keyBindings"`
	Limits               Limits       `json:"-"`
}

// DefaultBlacklist lists hosts the engine stays off by default.
const DefaultBlacklist = "www.instagram.com\nx.com\nimgur.com\nteams.microsoft.com\nmeet.google.com"

// Defaults returns the factory settings.
func Defaults() Snapshot {
	return Snapshot{
		Enabled:              true,
		LastSpeed:            1.0,
		AudioEnabled:         true,
		DisplayKeyCode:       86,
		ControllerOpacity:    0.3,
		ControllerButtonSize: 14,
		Blacklist:            DefaultBlacklist,
		Limits:               Limits{Min: MinSpeed, Max: MaxSpeed},
		KeyBindings: []KeyBinding{
			{Action: "slower", Key: 83, Value: 0.1, Predefined: true},
			{Action: "faster", Key: 68, Value: 0.1, Predefined: true},
			{Action: "rewind", Key: 90, Value: 10, Predefined: true},
			{Action: "advance", Key: 88, Value: 10, Predefined: true},
			{Action: "reset", Key: 82, Value: 1, Predefined: true},
			{Action: "fast", Key: 71, Value: 1.8, Predefined: true},
			{Action: "display", Key: 86, Value: 0, Predefined: true},
			{Action: "mark", Key: 77, Value: 0, Predefined: true},
			{Action: "jump", Key: 74, Value: 0, Predefined: true},
		},
	}
}

// Clone deep-copies the key bindings.
func (s Snapshot) Clone() Snapshot {
	s.KeyBindings = slices.Clone(s.KeyBindings)
	return s
}

// Binding returns the first binding for action.
func (s Snapshot) Binding(action string) (KeyBinding, bool) {
	for _, b := range s.KeyBindings {
		if b.Action == action {
			return b, true
		}
	}
	return KeyBinding{}, false
}

// BindingForKey returns the first binding for a key code.
func (s Snapshot) BindingForKey(code int) (KeyBinding, bool) {
	for _, b := range s.KeyBindings {
		if b.Key == code {
			return b, true
		}
	}
	return KeyBinding{}, false
}

// EffectiveLastSpeed is LastSpeed, or 1 when unset.
func (s Snapshot) EffectiveLastSpeed() float64 {
	if s.LastSpeed <= 0 {
		return 1
	}
	return s.LastSpeed
}

// ensureDisplayBinding adds a display binding when a stored binding list
// lacks one, using DisplayKeyCode.
func (s Snapshot) ensureDisplayBinding() Snapshot {
	if _, ok := s.Binding("display"); ok {
		return s
	}
	key := s.DisplayKeyCode
	if key == 0 {
		key = 86
	}
	s.KeyBindings = append(slices.Clone(s.KeyBindings), KeyBinding{Action: "display", Key: key, Predefined: true})
	return s
}

// Change is one key's transition, as delivered to change listeners.
// A nil NewValue means the key was removed.
type Change struct {
	NewValue json.RawMessage `json:"newValue,omitempty"`
	OldValue json.RawMessage `json:"oldValue,omitempty"`
}

// Apply returns a new snapshot with changes merged. Removed keys fall
// back to their default value.
func (s Snapshot) Apply(changes map[string]Change) (Snapshot, error) {
	defRaw, err := json.Marshal(Defaults())
	if err != nil {
		return s, err
	}
	var defs map[string]json.RawMessage
	if err := json.Unmarshal(defRaw, &defs); err != nil {
		return s, err
	}

	patch := make(map[string]json.RawMessage, len(changes))
	for k, c := range changes {
		if c.NewValue == nil {
			if d, ok := defs[k]; ok {
				patch[k] = d
			}
			continue
		}
		patch[k] = c.NewValue
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return s, err
	}
	out := s.Clone()
	if err := json.Unmarshal(raw, &out); err != nil {
		return s, fmt.Errorf("settings: apply: %w", err)
	}
	return out.ensureDisplayBinding(), nil
}

// Changes lists the keys whose value differs between prev and next.
func Changes(prev, next Snapshot) (map[string]Change, error) {
	a, err := rawKeys(prev)
	if err != nil {
		return nil, err
	}
	b, err := rawKeys(next)
	if err != nil {
		return nil, err
	}
	return diff(a, b), nil
}

func rawKeys(s Snapshot) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("settings: encode: %w", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("settings: encode: %w", err)
	}
	return out, nil
}

// Provider is the configuration backend.
type Provider interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, partial map[string]any) error
	Remove(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
}
