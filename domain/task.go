package domain

import "time"

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// Valid reports whether s is one of the known task statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// Priority is the urgency level of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// AttachmentKind classifies an attachment reference.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentLink     AttachmentKind = "link"
	AttachmentDocument AttachmentKind = "document"
)

// ChecklistItem is a single checkable line on a task.
type ChecklistItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"isCompleted"`
}

// ChecklistComplete reports whether every item of a non-empty checklist is done.
func ChecklistComplete(items []ChecklistItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !item.Completed {
			return false
		}
	}
	return true
}

// Comment is a note left on a task by a team member.
type Comment struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Attachment is a reference to an externally stored file or link.
type Attachment struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	URL       string         `json:"url"`
	Kind      AttachmentKind `json:"kind"`
	CreatedAt time.Time      `json:"createdAt"`
}

// MinTimeEntrySeconds is the shortest tracked duration worth persisting.
// Stopping a timer earlier than this discards the entry.
const MinTimeEntrySeconds = 60

// TimeEntry records tracked work time on a task.
type TimeEntry struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"taskId"`
	UserID      string     `json:"userId"`
	Description string     `json:"description"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Duration    int        `json:"duration"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewTimeEntry builds a completed time entry for the given interval. It
// returns false when the interval is shorter than MinTimeEntrySeconds.
func NewTimeEntry(taskID, userID, description string, start, end time.Time) (TimeEntry, bool) {
	duration := int(end.Sub(start) / time.Second)
	if duration < MinTimeEntrySeconds {
		return TimeEntry{}, false
	}
	if description == "" {
		description = "Work on task"
	}
	now := time.Now().UTC()
	endUTC := end.UTC()
	return TimeEntry{
		TaskID:      taskID,
		UserID:      userID,
		Description: description,
		StartTime:   start.UTC(),
		EndTime:     &endUTC,
		Duration:    duration,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, true
}

// Task is a unit of work on a board. It belongs to exactly one column,
// board and business; Position orders it within its column.
type Task struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Status      Status          `json:"status"`
	Priority    Priority        `json:"priority"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	ColumnID    string          `json:"columnId"`
	BoardID     string          `json:"boardId"`
	BusinessID  string          `json:"businessId"`
	Position    int             `json:"position"`
	Assignee    string          `json:"assignee,omitempty"`
	Labels      []string        `json:"labels"`
	Checklist   []ChecklistItem `json:"checklist"`
	Attachments []Attachment    `json:"attachments"`
	TimeEntries []TimeEntry     `json:"timeEntries"`
	Comments    []Comment       `json:"comments"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// TaskPatch carries a partial update for a task. Nil fields are left
// untouched on merge. DueDate is the exception: every patch rewrites it, so
// a nil DueDate clears any stored due date.
type TaskPatch struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Status      *Status          `json:"status,omitempty"`
	Priority    *Priority        `json:"priority,omitempty"`
	DueDate     *time.Time       `json:"dueDate,omitempty"`
	ColumnID    *string          `json:"columnId,omitempty"`
	Assignee    *string          `json:"assignee,omitempty"`
	Labels      *[]string        `json:"labels,omitempty"`
	Checklist   *[]ChecklistItem `json:"checklist,omitempty"`
	Attachments *[]Attachment    `json:"attachments,omitempty"`
	TimeEntries *[]TimeEntry     `json:"timeEntries,omitempty"`
	Comments    *[]Comment       `json:"comments,omitempty"`
}

// Apply merges the patch into a copy of the task, mirroring the storage
// layer's field-level merge. Used by the snapshot projection and tests.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		due := p.DueDate.UTC()
		t.DueDate = &due
	} else {
		t.DueDate = nil
	}
	if p.ColumnID != nil {
		t.ColumnID = *p.ColumnID
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	if p.Labels != nil {
		t.Labels = *p.Labels
	}
	if p.Checklist != nil {
		t.Checklist = *p.Checklist
	}
	if p.Attachments != nil {
		t.Attachments = *p.Attachments
	}
	if p.TimeEntries != nil {
		t.TimeEntries = *p.TimeEntries
	}
	if p.Comments != nil {
		t.Comments = *p.Comments
	}
	return t
}
