// Package reader wraps the vendor reader service configuration calls.
package reader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

type KeyboardEmulation int

const (
	// KeyboardEmulationDefault makes the reader type scans into the focused input.
	KeyboardEmulationDefault KeyboardEmulation = iota
	// KeyboardEmulationNone delivers scans only as broadcasts.
	KeyboardEmulationNone
)

func (k KeyboardEmulation) String() string {
	switch k {
	case KeyboardEmulationDefault:
		return "Default"
	case KeyboardEmulationNone:
		return "None"
	default:
		return "Unknown"
	}
}

type OutputConfiguration struct {
	KeyboardEmulation KeyboardEmulation `json:"keyboard_emulation"`
}

var ErrNotInitialized = errors.New("reader: manager not initialized")

type Manager interface {
	OutputConfiguration(ctx context.Context) (OutputConfiguration, error)
	SetOutputConfiguration(ctx context.Context, cfg OutputConfiguration) error
}

// Local keeps the reader configuration in process. It stands in for the
// vendor service when no device SDK is reachable.
type Local struct {
	mu  sync.Mutex
	cfg OutputConfiguration
	log *slog.Logger
}

func NewLocal() *Local {
	return &Local{
		cfg: OutputConfiguration{KeyboardEmulation: KeyboardEmulationDefault},
		log: slog.Default().With("service", "reader"),
	}
}

func (l *Local) OutputConfiguration(ctx context.Context) (OutputConfiguration, error) {
	if l == nil {
		return OutputConfiguration{}, ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return OutputConfiguration{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg, nil
}

func (l *Local) SetOutputConfiguration(ctx context.Context, cfg OutputConfiguration) error {
	if l == nil {
		return ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	l.log.Info("output configuration set", "keyboard_emulation", cfg.KeyboardEmulation.String())
	return nil
}

// DisableKeyboardEmulation switches the reader to broadcast-only output.
func DisableKeyboardEmulation(ctx context.Context, m Manager) error {
	if m == nil {
		return ErrNotInitialized
	}
	cfg, err := m.OutputConfiguration(ctx)
	if err != nil {
		return err
	}
	cfg.KeyboardEmulation = KeyboardEmulationNone
	return m.SetOutputConfiguration(ctx, cfg)
}
