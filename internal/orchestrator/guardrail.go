// File: internal/orchestrator/guardrail.go
package orchestrator

import (
	"fmt"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// failedTarget is one remembered bad target.
type failedTarget struct {
	hash string
	desc string
}

// Guardrail gates target-directed actions before dispatch. It rejects targets
// whose capability flags cannot satisfy the verb, and targets that already
// failed recently. The failure memory is a fixed-size FIFO: when full, the
// oldest entry falls out and that target becomes eligible again.
type Guardrail struct {
	memory []failedTarget
	size   int
}

// NewGuardrail creates a guardrail remembering up to size failed targets.
func NewGuardrail(size int) *Guardrail {
	return &Guardrail{size: size}
}

// Check validates a decision against failure memory and capability flags.
// The two rejection reasons are deliberately distinct so the reasoner can tell
// "this element did not work recently" from "this element can never work".
// Memory is consulted first: a remembered target is reported as previously
// failed even when a capability check would also reject it. Non-target-directed
// actions always pass.
func (g *Guardrail) Check(d *schemas.Decision) (bool, string) {
	if !d.Action.IsTargetDirected() {
		return true, ""
	}
	sel := d.Params.Selector

	hash := sel.StableHash()
	for _, ft := range g.memory {
		if ft.hash == hash {
			return false, fmt.Sprintf("previously failed target: %s", sel.Describe())
		}
	}

	switch d.Action {
	case schemas.ActionTapBySelector, schemas.ActionLongClickBySelector, schemas.ActionSelectBySelector:
		if !sel.Tappable() {
			return false, fmt.Sprintf("non-actionable target: %s is not clickable", sel.Describe())
		}
	case schemas.ActionInputBySelector, schemas.ActionPasteBySelector:
		if !sel.IsEditable {
			return false, fmt.Sprintf("non-actionable target: %s is not editable", sel.Describe())
		}
	}
	return true, ""
}

// RecordFailure remembers a target that was dispatched and failed.
func (g *Guardrail) RecordFailure(sel *schemas.Selector) {
	if sel == nil {
		return
	}
	hash := sel.StableHash()
	for _, ft := range g.memory {
		if ft.hash == hash {
			return
		}
	}
	if len(g.memory) >= g.size {
		g.memory = g.memory[1:]
	}
	g.memory = append(g.memory, failedTarget{hash: hash, desc: sel.Describe()})
}

// FailedTargets lists the remembered target descriptions, oldest first, for
// inclusion in the reasoner prompt.
func (g *Guardrail) FailedTargets() []string {
	out := make([]string, len(g.memory))
	for i, ft := range g.memory {
		out[i] = ft.desc
	}
	return out
}
