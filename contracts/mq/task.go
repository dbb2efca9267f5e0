package mq

type TaskCreatedPayload struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Assignee  string `json:"assignee"`
}

type TaskUpdatedPayload struct {
	TaskID    string   `json:"task_id"`
	ProjectID string   `json:"project_id"`
	Status    string   `json:"status"`
	Fields    []string `json:"fields"`
}

type TaskArchivedPayload struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}
