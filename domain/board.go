package domain

import "time"

// Member is a team member referenced by boards and automations.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// NotificationSettings controls outbound webhook notifications for a business.
type NotificationSettings struct {
	Enabled     bool   `json:"enabled"`
	NotifyEmail string `json:"notifyEmail,omitempty"`
}

// Business is the tenant owning boards, tasks and members.
type Business struct {
	ID                   string               `json:"id"`
	Name                 string               `json:"name"`
	Email                string               `json:"email"`
	NotificationSettings NotificationSettings `json:"notificationSettings"`
	CreatedAt            time.Time            `json:"createdAt"`
	UpdatedAt            time.Time            `json:"updatedAt"`
}

// NotifyEmail returns the address notifications should go to, falling back
// to the business contact address.
func (b Business) NotifyEmail() string {
	if b.NotificationSettings.NotifyEmail != "" {
		return b.NotificationSettings.NotifyEmail
	}
	return b.Email
}

// User is an authenticated account, keyed by the identity provider subject.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	BusinessID  string    `json:"businessId"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Column is a named lane on a board. Tasks is a derived view: it is filled
// by the snapshot projection and never persisted with the board.
type Column struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Tasks []Task `json:"tasks"`
}

// Board is a named collection of columns and tasks belonging to one business.
type Board struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	BusinessID  string       `json:"businessId"`
	Columns     []Column     `json:"columns"`
	Members     []Member     `json:"members"`
	Labels      []string     `json:"labels"`
	Automations []Automation `json:"automations"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Column returns the column with the given id, if present.
func (b Board) Column(id string) (Column, bool) {
	for _, col := range b.Columns {
		if col.ID == id {
			return col, true
		}
	}
	return Column{}, false
}

// HasMember reports whether the board lists a member with the given id.
func (b Board) HasMember(id string) bool {
	for _, m := range b.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// BoardPatch carries a partial update for a board. Nil fields are left
// untouched on merge.
type BoardPatch struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Columns     *[]Column     `json:"columns,omitempty"`
	Members     *[]Member     `json:"members,omitempty"`
	Labels      *[]string     `json:"labels,omitempty"`
	Automations *[]Automation `json:"automations,omitempty"`
}

// Apply merges the patch into a copy of the board.
func (p BoardPatch) Apply(b Board) Board {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Columns != nil {
		b.Columns = *p.Columns
	}
	if p.Members != nil {
		b.Members = *p.Members
	}
	if p.Labels != nil {
		b.Labels = *p.Labels
	}
	if p.Automations != nil {
		b.Automations = *p.Automations
	}
	return b
}
