package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TriggerKind names the task mutation event an automation reacts to.
type TriggerKind string

const (
	TriggerTaskMoved          TriggerKind = "taskMoved"
	TriggerTaskCreated        TriggerKind = "taskCreated"
	TriggerStatusChanged      TriggerKind = "statusChanged"
	TriggerTaskUpdated        TriggerKind = "taskUpdated"
	TriggerDueDateApproaching TriggerKind = "dueDateApproaching"
	TriggerChecklistCompleted TriggerKind = "checklistCompleted"
)

// Valid reports whether k is one of the known trigger kinds.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerTaskMoved, TriggerTaskCreated, TriggerStatusChanged,
		TriggerTaskUpdated, TriggerDueDateApproaching, TriggerChecklistCompleted:
		return true
	}
	return false
}

// Operator compares a task field against a condition value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpContains    Operator = "contains"
	OpLessThan    Operator = "lessThan"
	OpGreaterThan Operator = "greaterThan"
)

// Condition is a field-level filter on the triggering task.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// Trigger is the event an automation fires on, optionally narrowed by
// conditions. StatusFilter applies to the statusChanged kind only.
type Trigger struct {
	Kind         TriggerKind `json:"type"`
	Conditions   []Condition `json:"conditions,omitempty"`
	StatusFilter Status      `json:"statusFilter,omitempty"`
}

// Action is a single field-mutating effect an automation applies to a task.
// The set is closed; each kind carries only the field it needs.
type Action interface {
	kind() string
	value() string
}

// MoveTask moves the task to another column on the same board.
type MoveTask struct{ ColumnID string }

// SetStatus sets the task status.
type SetStatus struct{ Status Status }

// SetPriority sets the task priority.
type SetPriority struct{ Priority Priority }

// AssignTo assigns the task to a board member.
type AssignTo struct{ MemberID string }

// AddLabel appends a label if not already present.
type AddLabel struct{ Label string }

// RemoveLabel removes a label if present.
type RemoveLabel struct{ Label string }

func (a MoveTask) kind() string    { return "moveTask" }
func (a SetStatus) kind() string   { return "setStatus" }
func (a SetPriority) kind() string { return "setPriority" }
func (a AssignTo) kind() string    { return "assignTo" }
func (a AddLabel) kind() string    { return "addLabel" }
func (a RemoveLabel) kind() string { return "removeLabel" }

func (a MoveTask) value() string    { return a.ColumnID }
func (a SetStatus) value() string   { return string(a.Status) }
func (a SetPriority) value() string { return string(a.Priority) }
func (a AssignTo) value() string    { return a.MemberID }
func (a AddLabel) value() string    { return a.Label }
func (a RemoveLabel) value() string { return a.Label }

// actionEnvelope is the stored wire form of an action.
type actionEnvelope struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Actions is an ordered action list with the {type,value} wire encoding.
type Actions []Action

// MarshalJSON encodes each action as a {type,value} envelope.
func (as Actions) MarshalJSON() ([]byte, error) {
	envs := make([]actionEnvelope, len(as))
	for i, a := range as {
		envs[i] = actionEnvelope{Type: a.kind(), Value: a.value()}
	}
	return json.Marshal(envs)
}

// UnmarshalJSON decodes {type,value} envelopes, rejecting unknown kinds.
func (as *Actions) UnmarshalJSON(data []byte) error {
	var envs []actionEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}
	out := make(Actions, 0, len(envs))
	for _, env := range envs {
		action, err := decodeAction(env)
		if err != nil {
			return err
		}
		out = append(out, action)
	}
	*as = out
	return nil
}

func decodeAction(env actionEnvelope) (Action, error) {
	switch env.Type {
	case "moveTask":
		return MoveTask{ColumnID: env.Value}, nil
	case "setStatus":
		return SetStatus{Status: Status(env.Value)}, nil
	case "setPriority":
		return SetPriority{Priority: Priority(env.Value)}, nil
	case "assignTo":
		return AssignTo{MemberID: env.Value}, nil
	case "addLabel":
		return AddLabel{Label: env.Value}, nil
	case "removeLabel":
		return RemoveLabel{Label: env.Value}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", env.Type)
	}
}

// Automation is a stored "when trigger then actions" rule on a board.
type Automation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Trigger   Trigger   `json:"trigger"`
	Actions   Actions   `json:"actions"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Updates is the accumulated effect of one automation run. Nil fields mean
// the corresponding task field is untouched.
type Updates struct {
	ColumnID *string
	Status   *Status
	Priority *Priority
	Assignee *string
	Labels   *[]string
}

// Empty reports whether the run produced no concrete change.
func (u Updates) Empty() bool {
	return u.ColumnID == nil && u.Status == nil && u.Priority == nil &&
		u.Assignee == nil && u.Labels == nil
}

// Patch converts the updates into a task patch for the store.
func (u Updates) Patch() TaskPatch {
	return TaskPatch{
		ColumnID: u.ColumnID,
		Status:   u.Status,
		Priority: u.Priority,
		Assignee: u.Assignee,
		Labels:   u.Labels,
	}
}

// Evaluate runs the board's automation rules against a task mutation event.
// Rule selection: enabled rules whose trigger kind matches, narrowed by the
// statusChanged status filter and by the rule's conditions. The first
// applicable rule wins; when its actions all fail to resolve the result is
// none, with no fall-through to later rules.
func Evaluate(board Board, task Task, trigger TriggerKind) (Updates, bool) {
	var chosen *Automation
	for i := range board.Automations {
		rule := &board.Automations[i]
		if !rule.Enabled || rule.Trigger.Kind != trigger {
			continue
		}
		if trigger == TriggerStatusChanged && rule.Trigger.StatusFilter != "" &&
			task.Status != rule.Trigger.StatusFilter {
			continue
		}
		if !conditionsHold(task, rule.Trigger.Conditions) {
			continue
		}
		chosen = rule
		break
	}
	if chosen == nil {
		return Updates{}, false
	}
	updates := applyActions(board, task, chosen.Actions)
	if updates.Empty() {
		return Updates{}, false
	}
	return updates, true
}

func applyActions(board Board, task Task, actions Actions) Updates {
	var u Updates
	labels := task.Labels
	labelsChanged := false

	for _, action := range actions {
		switch a := action.(type) {
		case MoveTask:
			if _, ok := board.Column(a.ColumnID); ok {
				id := a.ColumnID
				u.ColumnID = &id
			}
		case SetStatus:
			if a.Status.Valid() {
				status := a.Status
				u.Status = &status
			}
		case SetPriority:
			if a.Priority.Valid() {
				priority := a.Priority
				u.Priority = &priority
			}
		case AssignTo:
			if board.HasMember(a.MemberID) {
				id := a.MemberID
				u.Assignee = &id
			}
		case AddLabel:
			if !containsString(labels, a.Label) {
				labels = append(append([]string{}, labels...), a.Label)
				labelsChanged = true
			}
		case RemoveLabel:
			if containsString(labels, a.Label) {
				next := make([]string, 0, len(labels))
				for _, l := range labels {
					if l != a.Label {
						next = append(next, l)
					}
				}
				labels = next
				labelsChanged = true
			}
		}
	}
	if labelsChanged {
		u.Labels = &labels
	}
	return u
}

func conditionsHold(task Task, conditions []Condition) bool {
	for _, cond := range conditions {
		if !conditionHolds(task, cond) {
			return false
		}
	}
	return true
}

func conditionHolds(task Task, cond Condition) bool {
	switch cond.Operator {
	case OpEquals:
		return fieldEquals(task, cond.Field, cond.Value)
	case OpNotEquals:
		return !fieldEquals(task, cond.Field, cond.Value)
	case OpContains:
		return fieldContains(task, cond.Field, cond.Value)
	case OpLessThan:
		cmp, ok := fieldCompare(task, cond.Field, cond.Value)
		return ok && cmp < 0
	case OpGreaterThan:
		cmp, ok := fieldCompare(task, cond.Field, cond.Value)
		return ok && cmp > 0
	default:
		return false
	}
}

// fieldEquals compares scalar fields by their string form. List fields never
// equal a scalar condition value.
func fieldEquals(task Task, field, value string) bool {
	if field == "labels" {
		return false
	}
	scalar, ok := scalarField(task, field)
	return ok && scalar == value
}

// fieldContains checks membership for list fields and substring for scalars.
func fieldContains(task Task, field, value string) bool {
	if field == "labels" {
		return containsString(task.Labels, value)
	}
	scalar, ok := scalarField(task, field)
	return ok && strings.Contains(scalar, value)
}

// fieldCompare does an ordered comparison. It is defined only for ordinal
// fields (position, dueDate); everything else reports not-comparable.
func fieldCompare(task Task, field, value string) (int, bool) {
	switch field {
	case "position":
		want, err := strconv.Atoi(value)
		if err != nil {
			return 0, false
		}
		switch {
		case task.Position < want:
			return -1, true
		case task.Position > want:
			return 1, true
		default:
			return 0, true
		}
	case "dueDate":
		if task.DueDate == nil {
			return 0, false
		}
		want, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return 0, false
		}
		switch {
		case task.DueDate.Before(want):
			return -1, true
		case task.DueDate.After(want):
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

func scalarField(task Task, field string) (string, bool) {
	switch field {
	case "title":
		return task.Title, true
	case "description":
		return task.Description, true
	case "status":
		return string(task.Status), true
	case "priority":
		return string(task.Priority), true
	case "assignee":
		return task.Assignee, true
	case "columnId":
		return task.ColumnID, true
	case "boardId":
		return task.BoardID, true
	case "position":
		return strconv.Itoa(task.Position), true
	case "dueDate":
		if task.DueDate == nil {
			return "", false
		}
		return task.DueDate.Format(time.RFC3339), true
	default:
		return "", false
	}
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

var (
	ErrAutomationName    = errors.New("automation name is required")
	ErrAutomationTrigger = errors.New("automation trigger type is required")
	ErrAutomationActions = errors.New("automation requires at least one action")
)

// ValidateDraft is the create-time gate for a new automation. Unlike
// Evaluate, which silently skips dangling references, validation rejects
// them outright.
func ValidateDraft(board Board, draft Automation) error {
	if strings.TrimSpace(draft.Name) == "" {
		return ErrAutomationName
	}
	if !draft.Trigger.Kind.Valid() {
		return ErrAutomationTrigger
	}
	if len(draft.Actions) == 0 {
		return ErrAutomationActions
	}
	for _, action := range draft.Actions {
		switch a := action.(type) {
		case MoveTask:
			if _, ok := board.Column(a.ColumnID); !ok {
				return fmt.Errorf("move action references unknown column %q", a.ColumnID)
			}
		case SetStatus:
			if !a.Status.Valid() {
				return fmt.Errorf("invalid status %q", a.Status)
			}
		case SetPriority:
			if !a.Priority.Valid() {
				return fmt.Errorf("invalid priority %q", a.Priority)
			}
		case AssignTo:
			if !board.HasMember(a.MemberID) {
				return fmt.Errorf("assign action references unknown member %q", a.MemberID)
			}
		case AddLabel:
			if strings.TrimSpace(a.Label) == "" {
				return errors.New("label value is required")
			}
		case RemoveLabel:
			if strings.TrimSpace(a.Label) == "" {
				return errors.New("label value is required")
			}
		default:
			return fmt.Errorf("unknown action type %T", action)
		}
	}
	return nil
}
