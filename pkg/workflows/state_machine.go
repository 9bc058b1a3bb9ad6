package workflows

import "fmt"

// TransitionKind names the intent that is allowed to take an edge
type TransitionKind string

const (
	KindAdvance  TransitionKind = "advance"
	KindApprove  TransitionKind = "approve"
	KindReject   TransitionKind = "reject"
	KindComplete TransitionKind = "complete"
	KindAbandon  TransitionKind = "abandon"
)

// Transition is one legal edge of the pipeline graph
type Transition struct {
	From Status
	To   Status
	Kind TransitionKind
}

// StateMachine enforces task status transitions and the role constraints attached to each status
type StateMachine struct {
	transitions   []Transition
	expectedRoles map[Status][]Role
}

var pipelineTransitions = []Transition{
	{StatusPendingAssignment, StatusPendingArchitectDesign, KindAdvance},
	{StatusPendingAssignment, StatusPendingEngineerDesign, KindAdvance},
	{StatusPendingArchitectDesign, StatusPendingEngineerDesign, KindAdvance},
	{StatusPendingEngineerDesign, StatusPendingDesignApproval, KindAdvance},
	{StatusPendingQuantifying, StatusPendingFinalApproval, KindAdvance},

	{StatusPendingDesignApproval, StatusPendingQuantifying, KindApprove},
	{StatusPendingFinalApproval, StatusPendingInvoicing, KindApprove},

	// A rejected review returns to the stage whose advance edge enters it
	{StatusPendingDesignApproval, StatusPendingEngineerDesign, KindReject},
	{StatusPendingFinalApproval, StatusPendingQuantifying, KindReject},

	{StatusPendingInvoicing, StatusCompleted, KindComplete},
}

// nil means the status carries no assignee role constraint
var pipelineRoles = map[Status][]Role{
	StatusPendingAssignment:      {RoleArchitect, RoleEngineer},
	StatusPendingArchitectDesign: {RoleArchitect},
	StatusPendingEngineerDesign:  {RoleEngineer},
	StatusPendingDesignApproval:  nil,
	StatusPendingQuantifying:     {RoleQuantitySurveyor, RoleEngineer},
	StatusPendingFinalApproval:   nil,
	StatusPendingInvoicing:       nil,
	StatusCompleted:              nil,
	StatusRejected:               nil,
}

var defaultMachine = NewStateMachine()

func init() {
	for _, s := range AllStatuses {
		if _, ok := pipelineRoles[s]; !ok {
			panic(fmt.Sprintf("workflows: status %s has no role entry", s))
		}
		if _, ok := stageDocuments[s]; !ok {
			panic(fmt.Sprintf("workflows: status %s has no document gate entry", s))
		}
	}
	for _, t := range pipelineTransitions {
		if !t.From.Valid() || !t.To.Valid() {
			panic(fmt.Sprintf("workflows: transition %s -> %s uses an unknown status", t.From, t.To))
		}
		if t.Kind == KindReject {
			if prior, ok := defaultMachine.ReviewedStage(t.From); !ok || prior != t.To {
				panic(fmt.Sprintf("workflows: reject edge %s -> %s does not return to the reviewed stage", t.From, t.To))
			}
		}
	}
}

// NewStateMachine creates a new state machine with the pipeline's allowed transitions.
// Every non-terminal status additionally gets an administrative edge to REJECTED.
func NewStateMachine() *StateMachine {
	transitions := make([]Transition, 0, len(pipelineTransitions)+len(AllStatuses))
	transitions = append(transitions, pipelineTransitions...)
	for _, s := range AllStatuses {
		if !s.Terminal() {
			transitions = append(transitions, Transition{s, StatusRejected, KindAbandon})
		}
	}
	return &StateMachine{
		transitions:   transitions,
		expectedRoles: pipelineRoles,
	}
}

// Default returns the shared pipeline state machine
func Default() *StateMachine {
	return defaultMachine
}

// CanTransition checks if a status transition is allowed for the given intent
func (sm *StateMachine) CanTransition(from, to Status, kind TransitionKind) bool {
	for _, t := range sm.transitions {
		if t.From == from && t.To == to && t.Kind == kind {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the edges leaving a given status
func (sm *StateMachine) GetAllowedTransitions(from Status) []Transition {
	var out []Transition
	for _, t := range sm.transitions {
		if t.From == from {
			out = append(out, t)
		}
	}
	return out
}

// Next returns the single target reachable from a status by an intent, if exactly one exists
func (sm *StateMachine) Next(from Status, kind TransitionKind) (Status, bool) {
	var found Status
	n := 0
	for _, t := range sm.transitions {
		if t.From == from && t.Kind == kind {
			found = t.To
			n++
		}
	}
	return found, n == 1
}

// ReviewedStage returns the stage immediately before review in the forward graph,
// which is where a rejection from review rewinds to. It requires exactly one
// advance edge into review.
func (sm *StateMachine) ReviewedStage(review Status) (Status, bool) {
	var found Status
	n := 0
	for _, t := range sm.transitions {
		if t.To == review && t.Kind == KindAdvance {
			found = t.From
			n++
		}
	}
	return found, n == 1
}

// ExpectedRoles returns the roles an assignee may hold while a task is in s.
// A nil slice means the status is unconstrained.
func (sm *StateMachine) ExpectedRoles(s Status) []Role {
	return sm.expectedRoles[s]
}

// RoleAllowed reports whether an assignee holding r satisfies the constraint of s
func (sm *StateMachine) RoleAllowed(s Status, r Role) bool {
	roles, ok := sm.expectedRoles[s]
	if !ok {
		return false
	}
	if roles == nil {
		return true
	}
	for _, allowed := range roles {
		if allowed == r {
			return true
		}
	}
	return false
}

// Assignable reports whether a task in s can receive a new assignee
func (sm *StateMachine) Assignable(s Status) bool {
	switch s {
	case StatusPendingAssignment, StatusPendingArchitectDesign, StatusPendingEngineerDesign, StatusPendingQuantifying:
		return true
	}
	return false
}

// WorkingStage resolves the stage whose work an assignee is doing. While a task
// waits in PENDING_ASSIGNMENT the assignee's role decides which design stage the
// work belongs to; every other status is its own stage.
func (sm *StateMachine) WorkingStage(s Status, assignee Role) (Status, bool) {
	if s != StatusPendingAssignment {
		return s, true
	}
	switch assignee {
	case RoleArchitect:
		return StatusPendingArchitectDesign, true
	case RoleEngineer:
		return StatusPendingEngineerDesign, true
	}
	return "", false
}

// SubmitPath returns the statuses a submission walks through, starting after from.
// The last element is where the task lands.
func (sm *StateMachine) SubmitPath(from Status, assignee Role) ([]Status, error) {
	stage, ok := sm.WorkingStage(from, assignee)
	if !ok {
		return nil, fmt.Errorf("no working stage for role %s in %s", assignee, from)
	}
	var path []Status
	if stage != from {
		if !sm.CanTransition(from, stage, KindAdvance) {
			return nil, fmt.Errorf("cannot enter %s from %s", stage, from)
		}
		path = append(path, stage)
	}
	next, ok := sm.Next(stage, KindAdvance)
	if !ok {
		return nil, fmt.Errorf("no submission edge leaves %s", stage)
	}
	return append(path, next), nil
}
