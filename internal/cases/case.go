// Package cases holds the case model, its status machine and storage contract.
package cases

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Priority ranks a case.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

const (
	maxTitleLength       = 200
	maxDescriptionLength = 10000
)

// Case is a support ticket. OwnerID is fixed at creation.
type Case struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	OwnerID     string     `json:"created_by"`
	AssigneeID  string     `json:"assigned_to,omitempty"`
	Active      bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a deep copy.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	cp := *c
	if c.DueDate != nil {
		d := *c.DueDate
		cp.DueDate = &d
	}
	return &cp
}

// OwnedBy reports whether actorID created the case.
func (c *Case) OwnedBy(actorID string) bool { return actorID != "" && c.OwnerID == actorID }

// AssignedTo reports whether actorID is the current assignee.
func (c *Case) AssignedTo(actorID string) bool { return actorID != "" && c.AssigneeID == actorID }

// CreateInput is a validated create payload.
type CreateInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	AssigneeID  string     `json:"assigned_to"`
}

// Normalize trims strings and fills defaults.
func (in CreateInput) Normalize() CreateInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.AssigneeID = strings.TrimSpace(in.AssigneeID)
	if in.Status == "" {
		in.Status = StatusOpen
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	return in
}

// Validate checks a normalized input relative to now.
func (in CreateInput) Validate(now time.Time) error {
	errs := fieldErrors{}
	validateTitle(errs, in.Title)
	if utf8.RuneCountInString(in.Description) > maxDescriptionLength {
		errs.add("description", "must be at most 10000 characters")
	}
	if in.Status != StatusOpen {
		errs.add("status", "new cases must start open")
	}
	if !in.Priority.Valid() {
		errs.add("priority", "must be one of low, medium, high")
	}
	if in.DueDate != nil && !in.DueDate.After(now) {
		errs.add("due_date", "must be in the future")
	}
	return errs.err()
}

// UpdateInput is a partial patch. Nil fields are untouched; an empty
// AssigneeID clears the assignment. There is no owner field.
type UpdateInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *Status    `json:"status"`
	Priority    *Priority  `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	AssigneeID  *string    `json:"assigned_to"`
}

// Empty reports whether the patch touches nothing.
func (in UpdateInput) Empty() bool {
	return in.Title == nil && in.Description == nil && in.Status == nil &&
		in.Priority == nil && in.DueDate == nil && in.AssigneeID == nil
}

// Fields lists the touched field names in wire form.
func (in UpdateInput) Fields() []string {
	var out []string
	if in.Title != nil {
		out = append(out, "title")
	}
	if in.Description != nil {
		out = append(out, "description")
	}
	if in.Status != nil {
		out = append(out, "status")
	}
	if in.Priority != nil {
		out = append(out, "priority")
	}
	if in.DueDate != nil {
		out = append(out, "due_date")
	}
	if in.AssigneeID != nil {
		out = append(out, "assigned_to")
	}
	return out
}

// Validate checks field shapes; status legality is left to Transition.
func (in UpdateInput) Validate(now time.Time) error {
	errs := fieldErrors{}
	if in.Empty() {
		errs.add("body", "no fields to update")
	}
	if in.Title != nil {
		validateTitle(errs, strings.TrimSpace(*in.Title))
	}
	if in.Description != nil && utf8.RuneCountInString(*in.Description) > maxDescriptionLength {
		errs.add("description", "must be at most 10000 characters")
	}
	if in.Status != nil && !in.Status.Valid() {
		errs.add("status", "must be one of open, in_progress, closed")
	}
	if in.Priority != nil && !in.Priority.Valid() {
		errs.add("priority", "must be one of low, medium, high")
	}
	if in.DueDate != nil && !in.DueDate.After(now) {
		errs.add("due_date", "must be in the future")
	}
	return errs.err()
}

// Apply copies the non-status fields of in onto c. Status is applied by the
// caller after Transition succeeds.
func (in UpdateInput) Apply(c *Case) {
	if in.Title != nil {
		c.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		c.Description = strings.TrimSpace(*in.Description)
	}
	if in.Priority != nil {
		c.Priority = *in.Priority
	}
	if in.DueDate != nil {
		d := *in.DueDate
		c.DueDate = &d
	}
	if in.AssigneeID != nil {
		c.AssigneeID = strings.TrimSpace(*in.AssigneeID)
	}
}

func validateTitle(errs fieldErrors, title string) {
	switch n := utf8.RuneCountInString(title); {
	case n == 0:
		errs.add("title", "is required")
	case n > maxTitleLength:
		errs.add("title", "must be at most 200 characters")
	}
}
