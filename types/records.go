package types

import (
	"sort"
	"time"
)

type TodoStatus string

const (
	StatusPending    TodoStatus = "pending"
	StatusInProgress TodoStatus = "in_progress"
	StatusDone       TodoStatus = "done"
	StatusArchived   TodoStatus = "archived"
)

type TodoPriority int

const (
	PriorityLow TodoPriority = iota
	PriorityMedium
	PriorityHigh
)

// TodoRecord is the cached domain entity. The authoritative backend owns
// it; engine state and cache entries hold copies only.
type TodoRecord struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"owner_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      TodoStatus   `json:"status"`
	Priority    TodoPriority `json:"priority"`
	Tags        []string     `json:"tags,omitempty"`
	DueAt       *time.Time   `json:"due_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (t *TodoRecord) Clone() *TodoRecord {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Tags != nil {
		clone.Tags = make([]string, len(t.Tags))
		copy(clone.Tags, t.Tags)
	}
	if t.DueAt != nil {
		due := *t.DueAt
		clone.DueAt = &due
	}
	return &clone
}

// TodoPatch is a partial update; nil fields are left untouched.
type TodoPatch struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Status      *TodoStatus   `json:"status,omitempty"`
	Priority    *TodoPriority `json:"priority,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	DueAt       *time.Time    `json:"due_at,omitempty"`
}

func (p TodoPatch) ApplyTo(rec *TodoRecord) {
	if p.Title != nil {
		rec.Title = *p.Title
	}
	if p.Description != nil {
		rec.Description = *p.Description
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.Priority != nil {
		rec.Priority = *p.Priority
	}
	if p.Tags != nil {
		rec.Tags = make([]string, len(p.Tags))
		copy(rec.Tags, p.Tags)
		sort.Strings(rec.Tags)
	}
	if p.DueAt != nil {
		due := *p.DueAt
		rec.DueAt = &due
	}
	rec.UpdatedAt = time.Now()
}

// TodoStats is the derived per-owner aggregate cached under stats:user:*.
// Computing it is out of scope here; the shape is the cache contract.
type TodoStats struct {
	OwnerID    string  `json:"owner_id"`
	Total      int     `json:"total"`
	Pending    int     `json:"pending"`
	InProgress int     `json:"in_progress"`
	Done       int     `json:"done"`
	Overdue    int     `json:"overdue"`
	DoneRatio  float64 `json:"done_ratio"`
}
