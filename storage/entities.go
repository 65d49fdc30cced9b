package storage

import (
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"boardflow/domain"
)

// entityKeys carries just the table keys for merge updates.
type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// boardEntity is a board row. Boards are partitioned by business id so that
// board updates and task deletes can share one transaction.
type boardEntity struct {
	aztables.Entity
	Name        string `json:"Name"`
	Description string `json:"Description"`
	Columns     string `json:"Columns"`
	Members     string `json:"Members"`
	Labels      string `json:"Labels"`
	Automations string `json:"Automations"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

// boardUpdate carries a partial board merge. Nil fields stay untouched.
type boardUpdate struct {
	entityKeys
	Name        *string `json:"Name,omitempty"`
	Description *string `json:"Description,omitempty"`
	Columns     *string `json:"Columns,omitempty"`
	Members     *string `json:"Members,omitempty"`
	Labels      *string `json:"Labels,omitempty"`
	Automations *string `json:"Automations,omitempty"`
	UpdatedAt   *string `json:"UpdatedAt,omitempty"`
}

// taskEntity is a task row, partitioned by business id.
type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Priority    string `json:"Priority"`
	DueDate     string `json:"DueDate"`
	ColumnID    string `json:"ColumnId"`
	BoardID     string `json:"BoardId"`
	Position    int    `json:"Position"`
	Assignee    string `json:"Assignee"`
	Labels      string `json:"Labels"`
	Checklist   string `json:"Checklist"`
	Attachments string `json:"Attachments"`
	TimeEntries string `json:"TimeEntries"`
	Comments    string `json:"Comments"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

// taskUpdate carries a partial task merge. DueDate is always written: every
// patch either sets a normalized UTC value or clears the stored one.
type taskUpdate struct {
	entityKeys
	Title       *string `json:"Title,omitempty"`
	Description *string `json:"Description,omitempty"`
	Status      *string `json:"Status,omitempty"`
	Priority    *string `json:"Priority,omitempty"`
	DueDate     *string `json:"DueDate,omitempty"`
	ColumnID    *string `json:"ColumnId,omitempty"`
	Position    *int    `json:"Position,omitempty"`
	Assignee    *string `json:"Assignee,omitempty"`
	Labels      *string `json:"Labels,omitempty"`
	Checklist   *string `json:"Checklist,omitempty"`
	Attachments *string `json:"Attachments,omitempty"`
	TimeEntries *string `json:"TimeEntries,omitempty"`
	Comments    *string `json:"Comments,omitempty"`
	UpdatedAt   *string `json:"UpdatedAt,omitempty"`
}

type userEntity struct {
	aztables.Entity
	Email       string `json:"Email"`
	DisplayName string `json:"DisplayName"`
	BusinessID  string `json:"BusinessId"`
	Role        string `json:"Role"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

type businessEntity struct {
	aztables.Entity
	Name                 string `json:"Name"`
	Email                string `json:"Email"`
	NotificationsEnabled bool   `json:"NotificationsEnabled"`
	NotifyEmail          string `json:"NotifyEmail"`
	CreatedAt            string `json:"CreatedAt"`
	UpdatedAt            string `json:"UpdatedAt"`
}

// persistedColumn is the stored shape of a column; the task list is a
// derived view and never hits the table.
type persistedColumn struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// formatDueDate truncates to whole seconds so stored due dates are fixed
// width and lexical order matches chronological order in range filters.
func formatDueDate(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func marshalList(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalList(data string, v any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

func boardToEntity(b domain.Board) (boardEntity, error) {
	cols := make([]persistedColumn, len(b.Columns))
	for i, c := range b.Columns {
		cols[i] = persistedColumn{ID: c.ID, Title: c.Title}
	}
	columns, err := marshalList(cols)
	if err != nil {
		return boardEntity{}, err
	}
	members, err := marshalList(b.Members)
	if err != nil {
		return boardEntity{}, err
	}
	labels, err := marshalList(b.Labels)
	if err != nil {
		return boardEntity{}, err
	}
	automations, err := marshalList(b.Automations)
	if err != nil {
		return boardEntity{}, err
	}
	return boardEntity{
		Entity:      aztables.Entity{PartitionKey: b.BusinessID, RowKey: b.ID},
		Name:        b.Name,
		Description: b.Description,
		Columns:     columns,
		Members:     members,
		Labels:      labels,
		Automations: automations,
		CreatedAt:   formatTime(b.CreatedAt),
		UpdatedAt:   formatTime(b.UpdatedAt),
	}, nil
}

func entityToBoard(ent boardEntity) (domain.Board, error) {
	var cols []persistedColumn
	if err := unmarshalList(ent.Columns, &cols); err != nil {
		return domain.Board{}, err
	}
	columns := make([]domain.Column, len(cols))
	for i, c := range cols {
		columns[i] = domain.Column{ID: c.ID, Title: c.Title}
	}
	members := []domain.Member{}
	if err := unmarshalList(ent.Members, &members); err != nil {
		return domain.Board{}, err
	}
	labels := []string{}
	if err := unmarshalList(ent.Labels, &labels); err != nil {
		return domain.Board{}, err
	}
	automations := []domain.Automation{}
	if err := unmarshalList(ent.Automations, &automations); err != nil {
		return domain.Board{}, err
	}
	return domain.Board{
		ID:          ent.RowKey,
		Name:        ent.Name,
		Description: ent.Description,
		BusinessID:  ent.PartitionKey,
		Columns:     columns,
		Members:     members,
		Labels:      labels,
		Automations: automations,
		CreatedAt:   parseTime(ent.CreatedAt),
		UpdatedAt:   parseTime(ent.UpdatedAt),
	}, nil
}

func boardPatchToUpdate(businessID, boardID string, p domain.BoardPatch, now time.Time) (boardUpdate, error) {
	upd := boardUpdate{entityKeys: entityKeys{PartitionKey: businessID, RowKey: boardID}}
	upd.Name = p.Name
	upd.Description = p.Description
	if p.Columns != nil {
		cols := make([]persistedColumn, len(*p.Columns))
		for i, c := range *p.Columns {
			cols[i] = persistedColumn{ID: c.ID, Title: c.Title}
		}
		s, err := marshalList(cols)
		if err != nil {
			return boardUpdate{}, err
		}
		upd.Columns = &s
	}
	if p.Members != nil {
		s, err := marshalList(*p.Members)
		if err != nil {
			return boardUpdate{}, err
		}
		upd.Members = &s
	}
	if p.Labels != nil {
		s, err := marshalList(*p.Labels)
		if err != nil {
			return boardUpdate{}, err
		}
		upd.Labels = &s
	}
	if p.Automations != nil {
		s, err := marshalList(*p.Automations)
		if err != nil {
			return boardUpdate{}, err
		}
		upd.Automations = &s
	}
	stamp := formatTime(now)
	upd.UpdatedAt = &stamp
	return upd, nil
}

func taskToEntity(t domain.Task) (taskEntity, error) {
	labels, err := marshalList(t.Labels)
	if err != nil {
		return taskEntity{}, err
	}
	checklist, err := marshalList(t.Checklist)
	if err != nil {
		return taskEntity{}, err
	}
	attachments, err := marshalList(t.Attachments)
	if err != nil {
		return taskEntity{}, err
	}
	timeEntries, err := marshalList(t.TimeEntries)
	if err != nil {
		return taskEntity{}, err
	}
	comments, err := marshalList(t.Comments)
	if err != nil {
		return taskEntity{}, err
	}
	due := ""
	if t.DueDate != nil {
		due = formatDueDate(*t.DueDate)
	}
	return taskEntity{
		Entity:      aztables.Entity{PartitionKey: t.BusinessID, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		DueDate:     due,
		ColumnID:    t.ColumnID,
		BoardID:     t.BoardID,
		Position:    t.Position,
		Assignee:    t.Assignee,
		Labels:      labels,
		Checklist:   checklist,
		Attachments: attachments,
		TimeEntries: timeEntries,
		Comments:    comments,
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}, nil
}

func entityToTask(ent taskEntity) (domain.Task, error) {
	labels := []string{}
	if err := unmarshalList(ent.Labels, &labels); err != nil {
		return domain.Task{}, err
	}
	checklist := []domain.ChecklistItem{}
	if err := unmarshalList(ent.Checklist, &checklist); err != nil {
		return domain.Task{}, err
	}
	attachments := []domain.Attachment{}
	if err := unmarshalList(ent.Attachments, &attachments); err != nil {
		return domain.Task{}, err
	}
	timeEntries := []domain.TimeEntry{}
	if err := unmarshalList(ent.TimeEntries, &timeEntries); err != nil {
		return domain.Task{}, err
	}
	comments := []domain.Comment{}
	if err := unmarshalList(ent.Comments, &comments); err != nil {
		return domain.Task{}, err
	}
	var due *time.Time
	if ent.DueDate != "" {
		parsed := parseTime(ent.DueDate)
		if !parsed.IsZero() {
			due = &parsed
		}
	}
	return domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Priority:    domain.Priority(ent.Priority),
		DueDate:     due,
		ColumnID:    ent.ColumnID,
		BoardID:     ent.BoardID,
		BusinessID:  ent.PartitionKey,
		Position:    ent.Position,
		Assignee:    ent.Assignee,
		Labels:      labels,
		Checklist:   checklist,
		Attachments: attachments,
		TimeEntries: timeEntries,
		Comments:    comments,
		CreatedAt:   parseTime(ent.CreatedAt),
		UpdatedAt:   parseTime(ent.UpdatedAt),
	}, nil
}

func taskPatchToUpdate(businessID, taskID string, p domain.TaskPatch, now time.Time) (taskUpdate, error) {
	upd := taskUpdate{entityKeys: entityKeys{PartitionKey: businessID, RowKey: taskID}}
	upd.Title = p.Title
	upd.Description = p.Description
	if p.Status != nil {
		s := string(*p.Status)
		upd.Status = &s
	}
	if p.Priority != nil {
		s := string(*p.Priority)
		upd.Priority = &s
	}
	// Due date is rewritten on every patch: present means a normalized UTC
	// value, absent means clear.
	due := ""
	if p.DueDate != nil {
		due = formatDueDate(*p.DueDate)
	}
	upd.DueDate = &due
	upd.ColumnID = p.ColumnID
	upd.Assignee = p.Assignee
	if p.Labels != nil {
		s, err := marshalList(*p.Labels)
		if err != nil {
			return taskUpdate{}, err
		}
		upd.Labels = &s
	}
	if p.Checklist != nil {
		s, err := marshalList(*p.Checklist)
		if err != nil {
			return taskUpdate{}, err
		}
		upd.Checklist = &s
	}
	if p.Attachments != nil {
		s, err := marshalList(*p.Attachments)
		if err != nil {
			return taskUpdate{}, err
		}
		upd.Attachments = &s
	}
	if p.TimeEntries != nil {
		s, err := marshalList(*p.TimeEntries)
		if err != nil {
			return taskUpdate{}, err
		}
		upd.TimeEntries = &s
	}
	if p.Comments != nil {
		s, err := marshalList(*p.Comments)
		if err != nil {
			return taskUpdate{}, err
		}
		upd.Comments = &s
	}
	stamp := formatTime(now)
	upd.UpdatedAt = &stamp
	return upd, nil
}

func userToEntity(u domain.User) userEntity {
	return userEntity{
		Entity:      aztables.Entity{PartitionKey: u.ID, RowKey: u.ID},
		Email:       u.Email,
		DisplayName: u.DisplayName,
		BusinessID:  u.BusinessID,
		Role:        u.Role,
		CreatedAt:   formatTime(u.CreatedAt),
		UpdatedAt:   formatTime(u.UpdatedAt),
	}
}

func entityToUser(ent userEntity) domain.User {
	return domain.User{
		ID:          ent.RowKey,
		Email:       ent.Email,
		DisplayName: ent.DisplayName,
		BusinessID:  ent.BusinessID,
		Role:        ent.Role,
		CreatedAt:   parseTime(ent.CreatedAt),
		UpdatedAt:   parseTime(ent.UpdatedAt),
	}
}

func businessToEntity(b domain.Business) businessEntity {
	return businessEntity{
		Entity:               aztables.Entity{PartitionKey: b.ID, RowKey: b.ID},
		Name:                 b.Name,
		Email:                b.Email,
		NotificationsEnabled: b.NotificationSettings.Enabled,
		NotifyEmail:          b.NotificationSettings.NotifyEmail,
		CreatedAt:            formatTime(b.CreatedAt),
		UpdatedAt:            formatTime(b.UpdatedAt),
	}
}

func entityToBusiness(ent businessEntity) domain.Business {
	return domain.Business{
		ID:    ent.RowKey,
		Name:  ent.Name,
		Email: ent.Email,
		NotificationSettings: domain.NotificationSettings{
			Enabled:     ent.NotificationsEnabled,
			NotifyEmail: ent.NotifyEmail,
		},
		CreatedAt: parseTime(ent.CreatedAt),
		UpdatedAt: parseTime(ent.UpdatedAt),
	}
}
