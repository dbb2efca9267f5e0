package mq

import "time"

// Routing keys published to the events exchange.
const (
	ProjectCreated = "project.created"
	ProjectUpdated = "project.updated"
	ProjectDeleted = "project.deleted"
	TaskCreated    = "task.created"
	TaskUpdated    = "task.updated"
	TaskArchived   = "task.archived"
)

// Envelope 所有事件共用的外层结构
type Envelope struct {
	Type       string    `json:"type"`
	TraceID    string    `json:"trace_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type ProjectCreatedPayload struct {
	ProjectID  string `json:"project_id"`
	Title      string `json:"title"`
	GithubRepo string `json:"github_repo,omitempty"`
	Pinned     bool   `json:"pinned"`
}

type ProjectUpdatedPayload struct {
	ProjectID string   `json:"project_id"`
	Fields    []string `json:"fields"`
}

type ProjectDeletedPayload struct {
	ProjectID string `json:"project_id"`
}
