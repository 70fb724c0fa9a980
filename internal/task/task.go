// Package task provides the data structures shared by the dayflow sync engine.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalIDPrefix marks client-generated placeholder IDs. A task keeps a
// placeholder ID only until the backend acknowledges the corresponding
// create operation and assigns a stable server ID.
const LocalIDPrefix = "local-"

// Palette is the fixed color rotation for new tasks. The facade assigns
// colors round-robin through an explicit persisted counter.
var Palette = []string{
	"#EF5350", // red
	"#AB47BC", // purple
	"#5C6BC0", // indigo
	"#29B6F6", // light blue
	"#26A69A", // teal
	"#66BB6A", // green
	"#FFA726", // orange
	"#8D6E63", // brown
}

// Task is the central entity synchronized between the local store and the
// authoritative backend.
//
// The Completed boolean is a denormalized mirror of CompletedAt presence.
// CompletedAt is the single source of truth; Normalize reasserts the
// invariant and must be called at every mutation boundary.
type Task struct {
	// ID is server-assigned and stable once synced. Before the create
	// operation is acknowledged it holds a client-generated placeholder
	// (see LocalIDPrefix).
	ID string `json:"id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// StartTime and EndTime are free-form time-of-day strings ("09:30").
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`

	// Color is assigned from Palette at creation time.
	Color string `json:"color,omitempty"`

	Progress      int    `json:"progress"`      // 0-100
	DaysRemaining int    `json:"daysRemaining"` // countdown shown by the UI
	CategoryID    string `json:"categoryId,omitempty"`

	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Completed   bool       `json:"completed"`

	Scheduled bool `json:"scheduled"`
	// Quick marks tasks created through the fast-entry path (inbox drop,
	// bare-title add).
	Quick bool `json:"quick"`
}

// NewLocalID generates a placeholder task ID for a locally created task.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id is a client-generated placeholder that has
// not yet been promoted to a server ID.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Validate checks the fields required before a task may be stored or sent
// to the backend.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("progress must be between 0 and 100 (got %d)", t.Progress)
	}
	return nil
}

// Normalize derives Completed from CompletedAt presence. The boolean is only
// a cache for consumers; any disagreement is resolved in favor of the
// timestamp.
func (t *Task) Normalize() {
	t.Completed = t.CompletedAt != nil
}

// IsCompleted reports completion from the authoritative timestamp.
func (t *Task) IsCompleted() bool {
	return t.CompletedAt != nil
}

// Complete marks the task completed at the given time.
func (t *Task) Complete(at time.Time) {
	t.CompletedAt = &at
	t.Normalize()
}

// Reopen clears the completion state.
func (t *Task) Reopen() {
	t.CompletedAt = nil
	t.Normalize()
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Apply overlays the non-zero fields of patch onto the task. Completion
// state transfers whenever the patch carries a CompletedAt timestamp or an
// explicit reopen (Completed false with a nil timestamp is ignored so plain
// field edits don't reopen tasks accidentally).
func (t *Task) Apply(patch *Patch) {
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.StartTime != nil {
		t.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		t.EndTime = *patch.EndTime
	}
	if patch.Color != nil {
		t.Color = *patch.Color
	}
	if patch.Progress != nil {
		t.Progress = *patch.Progress
	}
	if patch.DaysRemaining != nil {
		t.DaysRemaining = *patch.DaysRemaining
	}
	if patch.CategoryID != nil {
		t.CategoryID = *patch.CategoryID
	}
	if patch.Scheduled != nil {
		t.Scheduled = *patch.Scheduled
	}
	if patch.SetCompletedAt {
		t.CompletedAt = patch.CompletedAt
	}
	t.Normalize()
}

// Patch is a partial task used by update operations. Nil fields are left
// untouched when the patch is applied.
type Patch struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	StartTime     *string `json:"startTime,omitempty"`
	EndTime       *string `json:"endTime,omitempty"`
	Color         *string `json:"color,omitempty"`
	Progress      *int    `json:"progress,omitempty"`
	DaysRemaining *int    `json:"daysRemaining,omitempty"`
	CategoryID    *string `json:"categoryId,omitempty"`
	Scheduled     *bool   `json:"scheduled,omitempty"`

	// SetCompletedAt gates CompletedAt so a patch can distinguish "leave
	// completion alone" from "clear it".
	SetCompletedAt bool       `json:"setCompletedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// NormalizeAll reasserts the completion invariant across a task list.
// Lists loaded from storage or the wire pass through here before use.
func NormalizeAll(tasks []*Task) {
	for _, t := range tasks {
		t.Normalize()
	}
}
