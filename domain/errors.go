package domain

import "errors"

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoBusiness is returned when an operation runs without a resolved
	// business context.
	ErrNoBusiness = errors.New("no business context")
	// ErrNoBoard is returned when a task operation lacks a board reference.
	ErrNoBoard = errors.New("no board context")
	// ErrNoColumn is returned when a task draft lacks a column reference.
	ErrNoColumn = errors.New("task requires a column")
)
