// Package temporal adapts sandbox.Host onto go.temporal.io/sdk, grounded on
// the registration/worker-lifecycle shape of
// _examples/goadesign-goa-ai/runtime/agent/engine/temporal. Unlike that
// engine, which registers one workflow/activity pair per generated agent
// name ahead of time, a sandbox.Host receives a fresh closure (Execute /
// Loop) on every call — so this adapter registers exactly two durable
// workflow/activity pairs ("deckrun.compute" / "deckrun.orchestrate") and
// threads the call-specific closures through a process-local registry keyed
// by run id, handed to the activity by name. This buys durable scheduling
// and Temporal's worker/timeout machinery without requiring deck closures
// to be serializable across process boundaries — see DESIGN.md for why the
// fuller workflow-registration surface was left unbound.
package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/deckrun/deckrun/sandbox"
)

const (
	computeWorkflowName     = "deckrun.compute"
	orchestrateWorkflowName = "deckrun.orchestrate"
	computeActivityName     = "deckrun.compute.execute"
	orchestrateActivityName = "deckrun.orchestrate.loop"
)

// Host is the Temporal-backed sandbox.Host.
type Host struct {
	client    client.Client
	taskQueue string

	w         worker.Worker
	startOnce sync.Once
	startErr  error

	mu      sync.Mutex
	compute map[string]sandbox.ComputeRequest
	orch    map[string]sandbox.OrchestrationRequest
}

// New constructs a Temporal host bound to the given client and task queue.
// The worker is created but not started until the first call.
func New(c client.Client, taskQueue string) *Host {
	h := &Host{
		client:    c,
		taskQueue: taskQueue,
		compute:   make(map[string]sandbox.ComputeRequest),
		orch:      make(map[string]sandbox.OrchestrationRequest),
	}
	h.w = worker.New(c, taskQueue, worker.Options{})
	h.w.RegisterWorkflowWithOptions(h.computeWorkflow, workflow.RegisterOptions{Name: computeWorkflowName})
	h.w.RegisterWorkflowWithOptions(h.orchestrateWorkflow, workflow.RegisterOptions{Name: orchestrateWorkflowName})
	h.w.RegisterActivityWithOptions(h.computeActivity, activity.RegisterOptions{Name: computeActivityName})
	h.w.RegisterActivityWithOptions(h.orchestrateActivity, activity.RegisterOptions{Name: orchestrateActivityName})
	return h
}

func (h *Host) ensureStarted() error {
	h.startOnce.Do(func() {
		h.startErr = h.w.Start()
	})
	return h.startErr
}

// Supported reports whether the Temporal client is non-nil and the worker
// started cleanly.
func (h *Host) Supported() bool {
	return h.client != nil && h.ensureStarted() == nil
}

// InspectDeck runs the bootstrap scan directly — inspection is read-only
// and bounded by its own timeout, so it does not need durable scheduling.
func (h *Host) InspectDeck(ctx context.Context, req sandbox.InspectRequest) (sandbox.InspectResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	inspectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan []string, 1)
	go func() { done <- sandbox.ScanImportsFile(req.DeckPath) }()

	select {
	case imports := <-done:
		caps := sandbox.DeriveCapabilities(req.Perm, req.DeckDir, imports, req.Trusted)
		return sandbox.InspectResult{ImportPaths: imports, Capabilities: caps}, nil
	case <-inspectCtx.Done():
		return sandbox.InspectResult{}, inspectCtx.Err()
	}
}

// RunCompute starts the compute workflow and blocks for its result.
func (h *Host) RunCompute(ctx context.Context, req sandbox.ComputeRequest) (any, error) {
	if err := h.ensureStarted(); err != nil {
		return nil, fmt.Errorf("temporal host: start worker: %w", err)
	}
	runID := req.RunID
	if runID == "" {
		runID = req.ActionCallID
	}

	h.mu.Lock()
	h.compute[runID] = req
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.compute, runID)
		h.mu.Unlock()
	}()

	deadline := time.UnixMilli(req.DeadlineUnixMS)
	run, err := h.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       "deckrun-compute-" + runID,
		TaskQueue:                h.taskQueue,
		WorkflowExecutionTimeout: time.Until(deadline),
	}, computeWorkflowName, runID)
	if err != nil {
		return nil, err
	}
	var result any
	err = run.Get(ctx, &result)
	return result, err
}

// RunOrchestration starts the orchestration workflow and blocks for its
// result, the same way RunCompute does.
func (h *Host) RunOrchestration(ctx context.Context, req sandbox.OrchestrationRequest) (any, error) {
	if err := h.ensureStarted(); err != nil {
		return nil, fmt.Errorf("temporal host: start worker: %w", err)
	}
	runID := req.RunID
	if runID == "" {
		runID = req.ActionCallID
	}

	h.mu.Lock()
	h.orch[runID] = req
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.orch, runID)
		h.mu.Unlock()
	}()

	deadline := time.UnixMilli(req.DeadlineUnixMS)
	run, err := h.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       "deckrun-orchestrate-" + runID,
		TaskQueue:                h.taskQueue,
		WorkflowExecutionTimeout: time.Until(deadline),
	}, orchestrateWorkflowName, runID)
	if err != nil {
		return nil, err
	}
	var result any
	err = run.Get(ctx, &result)
	return result, err
}

func (h *Host) computeWorkflow(ctx workflow.Context, runID string) (any, error) {
	ao := workflow.ActivityOptions{StartToCloseTimeout: 10 * time.Minute}
	actCtx := workflow.WithActivityOptions(ctx, ao)
	var result any
	err := workflow.ExecuteActivity(actCtx, computeActivityName, runID).Get(actCtx, &result)
	return result, err
}

func (h *Host) orchestrateWorkflow(ctx workflow.Context, runID string) (any, error) {
	ao := workflow.ActivityOptions{StartToCloseTimeout: 10 * time.Minute}
	actCtx := workflow.WithActivityOptions(ctx, ao)
	var result any
	err := workflow.ExecuteActivity(actCtx, orchestrateActivityName, runID).Get(actCtx, &result)
	return result, err
}

func (h *Host) computeActivity(ctx context.Context, runID string) (any, error) {
	h.mu.Lock()
	req, ok := h.compute[runID]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("temporal host: no compute request registered for run %q", runID)
	}
	ec := newExecContext(ctx, req)
	return req.Execute(ctx, ec)
}

func (h *Host) orchestrateActivity(ctx context.Context, runID string) (any, error) {
	h.mu.Lock()
	req, ok := h.orch[runID]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("temporal host: no orchestration request registered for run %q", runID)
	}
	return req.Loop(ctx, req.Bridge)
}
