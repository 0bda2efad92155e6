// Package config centralizes runtime-wide defaults and environment-variable
// parsing, following the functional-options pattern
// (RuntimeOption/RunOption) used throughout this codebase's generated
// runtimes — see the With* constructors of
// _examples/goadesign-goa-ai/runtime/agent/runtime/runtime.go.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/deckrun/deckrun/deck"
)

// workerSandboxEnvVar is the one environment variable the runtime core
// consumes directly (spec.md §6 CLI surface).
const workerSandboxEnvVar = "GAMBIT_DECK_WORKER_SANDBOX"

// Defaults bundles the runtime-wide defaults applied wherever a per-call
// value is unset.
type Defaults struct {
	Guardrails deck.Guardrails

	// BusyDelay/BusyRepeat are used when a deck's on_busy handler omits
	// DelayMS/RepeatMS.
	BusyDelay  time.Duration
	BusyRepeat time.Duration
	// IdleDelay is used when a deck's on_idle handler omits DelayMS.
	IdleDelay time.Duration

	// InspectWorkerTimeout bounds deck-inspection worker calls (spec.md
	// §4.7: INSPECT_WORKER_TIMEOUT_MS).
	InspectWorkerTimeout time.Duration

	// WorkerSandbox mirrors the GAMBIT_DECK_WORKER_SANDBOX toggle; set by
	// FromEnv or explicitly via WithWorkerSandbox.
	WorkerSandbox bool
}

// Option configures Defaults.
type Option func(*Defaults)

// WithGuardrails overrides the default guardrails.
func WithGuardrails(g deck.Guardrails) Option {
	return func(d *Defaults) { d.Guardrails = g }
}

// WithBusyTiming overrides the default on_busy delay/repeat.
func WithBusyTiming(delay, repeat time.Duration) Option {
	return func(d *Defaults) { d.BusyDelay = delay; d.BusyRepeat = repeat }
}

// WithIdleDelay overrides the default on_idle delay.
func WithIdleDelay(delay time.Duration) Option {
	return func(d *Defaults) { d.IdleDelay = delay }
}

// WithInspectWorkerTimeout overrides the default deck-inspection timeout.
func WithInspectWorkerTimeout(d time.Duration) Option {
	return func(c *Defaults) { c.InspectWorkerTimeout = d }
}

// WithWorkerSandbox explicitly forces the worker-sandbox toggle, overriding
// whatever FromEnv would have read.
func WithWorkerSandbox(on bool) Option {
	return func(d *Defaults) { d.WorkerSandbox = on }
}

// New builds Defaults from built-in baseline values plus opts, in order.
func New(opts ...Option) Defaults {
	d := Defaults{
		Guardrails: deck.Guardrails{
			MaxPasses: 25,
			Timeout:   5 * time.Minute,
			MaxDepth:  12,
		},
		BusyDelay:            3 * time.Second,
		BusyRepeat:           0,
		IdleDelay:            15 * time.Second,
		InspectWorkerTimeout: 2 * time.Second,
	}
	for _, o := range opts {
		o(&d)
	}
	return d
}

// FromEnv reads GAMBIT_DECK_WORKER_SANDBOX from the process environment,
// applying it on top of New(opts...). If the host cannot read the
// environment (os.LookupEnv unset), the toggle is treated as unset — in
// practice os.LookupEnv never errors in Go, so this only documents intent.
func FromEnv(opts ...Option) Defaults {
	d := New(opts...)
	if v, ok := os.LookupEnv(workerSandboxEnvVar); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			d.WorkerSandbox = true
		}
	}
	return d
}
