// File: internal/orchestrator/orchestrator.go

// Package orchestrator runs the observe/reason/act loop that drives one task
// on one connected device session.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/dispatch"
	"github.com/xkilldash9x/droidpilot/internal/reasoner"
	"github.com/xkilldash9x/droidpilot/internal/taskstore"
)

// Device is the slice of the dispatcher the loop needs.
type Device interface {
	Screenshot(ctx context.Context, sessionID string) (string, error)
	Execute(ctx context.Context, sessionID string, d *schemas.Decision) (*dispatch.Outcome, error)
}

// Notifier pushes fire-and-forget status messages to the session.
type Notifier interface {
	Notify(sessionID, kind, message string)
}

// Orchestrator runs task loops. It is stateless across tasks; all per-task
// state lives in the task struct for the duration of one RunTask call.
type Orchestrator struct {
	cfg      config.AgentConfig
	device   Device
	reasoner reasoner.Reasoner
	store    taskstore.Store
	notifier Notifier
	logger   *zap.Logger
}

// New wires up an Orchestrator.
func New(cfg config.AgentConfig, device Device, rsn reasoner.Reasoner, store taskstore.Store, notifier Notifier, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		device:   device,
		reasoner: rsn,
		store:    store,
		notifier: notifier,
		logger:   logger.Named("orchestrator"),
	}
}

// task is the mutable state of one run.
type task struct {
	id        string
	sessionID string
	goal      string
	startedAt time.Time

	history   []reasoner.StepSummary
	guardrail *Guardrail

	lastNodes  []schemas.Selector
	lastError  string
	lastHash   string
	stagnation int

	consecutiveFailures int
	stepsTaken          int
}

// RunTask executes the loop until a terminal status is reached and returns
// the outcome. It always returns a result: an unhandled panic inside a step
// is recovered here and surfaced as a failed_exception result so the terminal
// status is still published and persisted.
func (o *Orchestrator) RunTask(ctx context.Context, sessionID, goal string) (result *schemas.TaskResult) {
	t := &task{
		id:        uuid.NewString(),
		sessionID: sessionID,
		goal:      goal,
		startedAt: time.Now(),
		guardrail: NewGuardrail(o.cfg.FailureMemorySize),
	}
	log := o.logger.With(zap.String("task_id", t.id), zap.String("session_id", sessionID))
	log.Info("Task started.", zap.String("goal", goal))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Task loop panicked.", zap.Any("panic", rec))
			result = o.finish(t, schemas.StatusFailedException, "internal error",
				fmt.Sprintf("unhandled panic: %v", rec))
		}
	}()

	o.saveTask(ctx, t, schemas.StatusRunning, "", "")

	for step := 1; step <= o.cfg.MaxSteps; step++ {
		t.stepsTaken = step
		if ctx.Err() != nil {
			return o.finish(t, schemas.StatusFailedException, "task cancelled", ctx.Err().Error())
		}

		// -- Observe --
		screenshot, err := o.device.Screenshot(ctx, sessionID)
		if err != nil {
			log.Warn("Observation failed.", zap.Int("step", step), zap.Error(err))
			if res, terminal := o.recordStep(ctx, t, step, "observe", "", "", false,
				fmt.Sprintf("screenshot failed: %v", err)); terminal {
				return res
			}
			continue
		}

		// -- Stagnation check --
		hash := ObservationHash(screenshot, t.lastNodes)
		if hash == t.lastHash {
			t.stagnation++
			log.Debug("Observation unchanged.", zap.Int("step", step), zap.Int("stagnation", t.stagnation))
			if t.stagnation >= o.cfg.StagnationLimit {
				return o.finish(t, schemas.StatusFailedNoProgress,
					fmt.Sprintf("no observable progress for %d consecutive steps", t.stagnation), "")
			}
		} else {
			t.stagnation = 0
			t.lastHash = hash
		}

		// -- Reason --
		decision, err := o.reasoner.Decide(ctx, o.snapshot(t, step, screenshot))
		if err != nil {
			log.Warn("Reasoning failed.", zap.Int("step", step), zap.Error(err))
			if res, terminal := o.recordStep(ctx, t, step, "reason", "", hash, false,
				fmt.Sprintf("reasoning failed: %v", err)); terminal {
				return res
			}
			continue
		}

		action := string(decision.Action)
		subGoal := decision.Reasoning.NextSubGoal
		log.Info("Decision made.", zap.Int("step", step),
			zap.String("action", action), zap.String("sub_goal", subGoal))
		o.notifier.Notify(sessionID, schemas.TypeStatus,
			fmt.Sprintf("step %d/%d: %s", step, o.cfg.MaxSteps, action))

		// -- Guardrail gate --
		if ok, reason := t.guardrail.Check(decision); !ok {
			log.Info("Decision rejected by guardrail.", zap.Int("step", step), zap.String("reason", reason))
			// A rejected target goes into memory so the next identical attempt
			// is reported as previously failed rather than re-evaluated.
			t.guardrail.RecordFailure(decision.Params.Selector)
			if res, terminal := o.recordStep(ctx, t, step, action, subGoal, hash, false, reason); terminal {
				return res
			}
			continue
		}

		// -- Act --
		out, err := o.device.Execute(ctx, sessionID, decision)
		if err != nil {
			log.Warn("Dispatch failed.", zap.Int("step", step), zap.Error(err))
			if res, terminal := o.recordStep(ctx, t, step, action, subGoal, hash, false,
				fmt.Sprintf("dispatch failed: %v", err)); terminal {
				return res
			}
			continue
		}

		if out.Done {
			o.persistStep(ctx, t, step, action, subGoal, hash, true, out.Message)
			if out.DoneSuccess {
				return o.finish(t, schemas.StatusCompleted, out.Message, "")
			}
			return o.finish(t, schemas.StatusStuck, out.Message, "")
		}
		if out.Question != "" {
			o.persistStep(ctx, t, step, action, subGoal, hash, true, out.Question)
			return o.finish(t, schemas.StatusFailedClarification, out.Question, "")
		}

		if !out.Success {
			if decision.Action.IsTargetDirected() {
				t.guardrail.RecordFailure(decision.Params.Selector)
			}
			if res, terminal := o.recordStep(ctx, t, step, action, subGoal, hash, false, out.Message); terminal {
				return res
			}
			continue
		}

		// -- Record success --
		if decision.Action.IsNodeQuery() {
			t.lastNodes = out.Nodes
		}
		t.consecutiveFailures = 0
		t.lastError = ""
		o.persistStep(ctx, t, step, action, subGoal, hash, true, out.Message)
	}

	return o.finish(t, schemas.StatusFailedMaxSteps,
		fmt.Sprintf("task did not complete within %d steps", o.cfg.MaxSteps), "")
}

// snapshot assembles the reasoner input for one step.
func (o *Orchestrator) snapshot(t *task, step int, screenshot string) *reasoner.Snapshot {
	history := t.history
	if len(history) > o.cfg.HistoryLookback {
		history = history[len(history)-o.cfg.HistoryLookback:]
	}
	return &reasoner.Snapshot{
		Goal:          t.goal,
		Step:          step,
		MaxSteps:      o.cfg.MaxSteps,
		ScreenshotB64: screenshot,
		History:       history,
		FailedTargets: t.guardrail.FailedTargets(),
		LastError:     t.lastError,
		Nodes:         t.lastNodes,
	}
}

// recordStep persists a step and, for failed steps, advances the consecutive
// failure counter. It returns the terminal result when the failure budget is
// spent. The failure notification is sent before the step is persisted.
func (o *Orchestrator) recordStep(ctx context.Context, t *task, step int, action, subGoal, hash string, success bool, message string) (*schemas.TaskResult, bool) {
	if !success {
		o.notifier.Notify(t.sessionID, schemas.TypeWarning, message)
	}
	o.persistStep(ctx, t, step, action, subGoal, hash, success, message)
	if success {
		t.consecutiveFailures = 0
		t.lastError = ""
		return nil, false
	}

	t.consecutiveFailures++
	t.lastError = message
	if t.consecutiveFailures >= o.cfg.MaxConsecutiveFailures {
		return o.finish(t, schemas.StatusFailedConsecutiveErrors,
			fmt.Sprintf("%d consecutive step failures, last: %s", t.consecutiveFailures, message), ""), true
	}
	return nil, false
}

// persistStep appends the step to the in-memory history and the task store.
func (o *Orchestrator) persistStep(ctx context.Context, t *task, step int, action, subGoal, hash string, success bool, message string) {
	t.history = append(t.history, reasoner.StepSummary{
		Step:    step,
		Action:  action,
		SubGoal: subGoal,
		Success: success,
		Message: message,
	})
	if err := o.store.SaveStep(ctx, taskstore.StepRecord{
		TaskID:          t.id,
		Step:            step,
		Action:          action,
		SubGoal:         subGoal,
		Success:         success,
		Message:         message,
		ObservationHash: hash,
		CreatedAt:       time.Now(),
	}); err != nil {
		o.logger.Warn("Failed to persist step.", zap.String("task_id", t.id), zap.Error(err))
	}
}

// finish builds the terminal result and persists the task summary. Statuses
// are monotonic: finish is called exactly once per task.
func (o *Orchestrator) finish(t *task, status schemas.TaskStatus, message, errMsg string) *schemas.TaskResult {
	result := &schemas.TaskResult{
		Status:          status,
		TaskID:          t.id,
		StepsTaken:      t.stepsTaken,
		DurationSeconds: time.Since(t.startedAt).Seconds(),
		Message:         message,
		Error:           errMsg,
	}

	log := o.logger.With(zap.String("task_id", t.id), zap.String("session_id", t.sessionID))
	if status == schemas.StatusCompleted {
		log.Info("Task completed.", zap.Int("steps", t.stepsTaken),
			zap.Float64("duration_s", result.DurationSeconds))
	} else {
		log.Warn("Task terminated without success.", zap.String("status", string(status)),
			zap.Int("steps", t.stepsTaken), zap.String("message", message), zap.String("error", errMsg))
	}

	// The parent ctx may already be cancelled; give the final write its own
	// short deadline so the terminal status still lands.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.saveTaskResult(saveCtx, t, result)
	return result
}

func (o *Orchestrator) saveTask(ctx context.Context, t *task, status schemas.TaskStatus, message, errMsg string) {
	if err := o.store.SaveTask(ctx, taskstore.TaskRecord{
		TaskID:    t.id,
		SessionID: t.sessionID,
		Goal:      t.goal,
		Status:    status,
		Message:   message,
		Error:     errMsg,
		StartedAt: t.startedAt,
	}); err != nil {
		o.logger.Warn("Failed to persist task.", zap.String("task_id", t.id), zap.Error(err))
	}
}

func (o *Orchestrator) saveTaskResult(ctx context.Context, t *task, result *schemas.TaskResult) {
	if err := o.store.SaveTask(ctx, taskstore.TaskRecord{
		TaskID:          t.id,
		SessionID:       t.sessionID,
		Goal:            t.goal,
		Status:          result.Status,
		StepsTaken:      result.StepsTaken,
		DurationSeconds: result.DurationSeconds,
		Message:         result.Message,
		Error:           result.Error,
		StartedAt:       t.startedAt,
		FinishedAt:      time.Now(),
	}); err != nil {
		o.logger.Warn("Failed to persist task result.", zap.String("task_id", t.id), zap.Error(err))
	}
}
