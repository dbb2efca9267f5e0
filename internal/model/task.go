package model

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	StatusTodo   TaskStatus = "todo"
	StatusDoing  TaskStatus = "doing"
	StatusReview TaskStatus = "review"
	StatusDone   TaskStatus = "done"
)

// 看板顺序：todo -> doing -> review -> done
var statusOrder = map[TaskStatus]int{
	StatusTodo:   0,
	StatusDoing:  1,
	StatusReview: 2,
	StatusDone:   3,
}

// taskTransitions 允许的状态迁移：前进一步，或退回任意更早的状态（重新打开）
var taskTransitions = map[TaskStatus][]TaskStatus{
	StatusTodo:   {StatusDoing},
	StatusDoing:  {StatusReview, StatusTodo},
	StatusReview: {StatusDone, StatusDoing, StatusTodo},
	StatusDone:   {StatusReview, StatusDoing, StatusTodo},
}

func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	if _, ok := statusOrder[st]; !ok {
		return "", fmt.Errorf("invalid task status %q: must be one of todo, doing, review, done", s)
	}
	return st, nil
}

func (s TaskStatus) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// Closed done 视为关闭
func (s TaskStatus) Closed() bool {
	return s == StatusDone
}

// CanTransitionTo 同状态视为 no-op，允许
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

const DefaultAssignee = "User"

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Assignee    string     `json:"assignee"`
	TaskOrder   int        `json:"task_order"`
	Feature     string     `json:"feature"`
	Archived    bool       `json:"archived"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskUpdate 部分更新
type TaskUpdate struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Status      *TaskStatus `json:"status,omitempty"`
	Assignee    *string     `json:"assignee,omitempty"`
	TaskOrder   *int        `json:"task_order,omitempty"`
	Feature     *string     `json:"feature,omitempty"`
}

func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil &&
		u.Assignee == nil && u.TaskOrder == nil && u.Feature == nil
}

func (u TaskUpdate) Fields() []string {
	var f []string
	add := func(set bool, name string) {
		if set {
			f = append(f, name)
		}
	}
	add(u.Title != nil, "title")
	add(u.Description != nil, "description")
	add(u.Status != nil, "status")
	add(u.Assignee != nil, "assignee")
	add(u.TaskOrder != nil, "task_order")
	add(u.Feature != nil, "feature")
	return f
}

func (u TaskUpdate) Apply(t *Task) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Assignee != nil {
		t.Assignee = *u.Assignee
	}
	if u.TaskOrder != nil {
		t.TaskOrder = *u.TaskOrder
	}
	if u.Feature != nil {
		t.Feature = *u.Feature
	}
}

// TaskFilter 列表过滤条件
type TaskFilter struct {
	ProjectID       string
	Status          TaskStatus
	IncludeClosed   bool
	IncludeArchived bool
	Limit           int
}
