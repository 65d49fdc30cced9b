package domain

import (
	"testing"
	"time"
)

func TestNewTimeEntryDiscardsShortIntervals(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if _, ok := NewTimeEntry("t1", "u1", "quick look", start, start.Add(30*time.Second)); ok {
		t.Fatal("entries under a minute must be discarded")
	}
	if _, ok := NewTimeEntry("t1", "u1", "", start, start.Add(59*time.Second)); ok {
		t.Fatal("59 seconds is still under the minimum")
	}
}

func TestNewTimeEntryKeepsMinuteAndLonger(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	entry, ok := NewTimeEntry("t1", "u1", "", start, start.Add(90*time.Second))
	if !ok {
		t.Fatal("expected entry to be kept")
	}
	if entry.Duration != 90 {
		t.Fatalf("unexpected duration: %d", entry.Duration)
	}
	if entry.Description != "Work on task" {
		t.Fatalf("unexpected default description: %q", entry.Description)
	}
	if entry.EndTime == nil || !entry.EndTime.Equal(start.Add(90*time.Second)) {
		t.Fatalf("unexpected end time: %v", entry.EndTime)
	}
}

func TestChecklistComplete(t *testing.T) {
	if ChecklistComplete(nil) {
		t.Fatal("empty checklist is not complete")
	}
	items := []ChecklistItem{
		{ID: "c1", Text: "write", Completed: true},
		{ID: "c2", Text: "review", Completed: false},
	}
	if ChecklistComplete(items) {
		t.Fatal("open item means incomplete")
	}
	items[1].Completed = true
	if !ChecklistComplete(items) {
		t.Fatal("all items done means complete")
	}
}

func TestTaskPatchApplyMergesAndClearsDueDate(t *testing.T) {
	due := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task := Task{
		ID:       "t1",
		Title:    "old",
		Status:   StatusTodo,
		Priority: PriorityLow,
		DueDate:  &due,
		ColumnID: "col-a",
	}

	title := "new"
	status := StatusInProgress
	patched := TaskPatch{Title: &title, Status: &status}.Apply(task)
	if patched.Title != "new" || patched.Status != StatusInProgress {
		t.Fatalf("patch not applied: %+v", patched)
	}
	if patched.Priority != PriorityLow || patched.ColumnID != "col-a" {
		t.Fatal("untouched fields must survive the merge")
	}
	// A patch without a due date clears the stored one.
	if patched.DueDate != nil {
		t.Fatalf("due date must be cleared, got %v", patched.DueDate)
	}

	next := due.Add(24 * time.Hour)
	patched = TaskPatch{DueDate: &next}.Apply(task)
	if patched.DueDate == nil || !patched.DueDate.Equal(next) {
		t.Fatalf("due date not set: %v", patched.DueDate)
	}
}

func TestStatusAndPriorityValidation(t *testing.T) {
	for _, s := range []Status{StatusTodo, StatusInProgress, StatusCompleted, StatusBlocked} {
		if !s.Valid() {
			t.Fatalf("expected %s to be valid", s)
		}
	}
	if Status("archived").Valid() {
		t.Fatal("archived is not a status")
	}
	if Priority("urgent").Valid() {
		t.Fatal("urgent is not a priority")
	}
}
