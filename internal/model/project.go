package model

import (
	"encoding/json"
	"time"
)

// Document 项目文档（PRD、技术设计等），按顺序保存在 project.docs
type Document struct {
	ID           string          `json:"id"`
	DocumentType string          `json:"document_type"`
	Title        string          `json:"title"`
	Content      json.RawMessage `json:"content,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Author       string          `json:"author,omitempty"`
}

type Project struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	GithubRepo  string          `json:"github_repo"`
	Docs        []Document      `json:"docs"`
	Features    json.RawMessage `json:"features"`
	Data        json.RawMessage `json:"data"`
	Pinned      bool            `json:"pinned"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// 由 source linking 填充
	TechnicalSources []SourceRef `json:"technical_sources"`
	BusinessSources  []SourceRef `json:"business_sources"`
}

// ProjectUpdate 部分更新：nil 字段保持原值
type ProjectUpdate struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	GithubRepo  *string          `json:"github_repo,omitempty"`
	Docs        *[]Document      `json:"docs,omitempty"`
	Features    *json.RawMessage `json:"features,omitempty"`
	Data        *json.RawMessage `json:"data,omitempty"`
	Pinned      *bool            `json:"pinned,omitempty"`
}

// Empty 没有任何字段需要更新
func (u ProjectUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.GithubRepo == nil &&
		u.Docs == nil && u.Features == nil && u.Data == nil && u.Pinned == nil
}

// Fields 被修改的字段名（JSON 名），用于事件
func (u ProjectUpdate) Fields() []string {
	var f []string
	add := func(set bool, name string) {
		if set {
			f = append(f, name)
		}
	}
	add(u.Title != nil, "title")
	add(u.Description != nil, "description")
	add(u.GithubRepo != nil, "github_repo")
	add(u.Docs != nil, "docs")
	add(u.Features != nil, "features")
	add(u.Data != nil, "data")
	add(u.Pinned != nil, "pinned")
	return f
}

// Apply 把更新写到 p 上（不修改 ID / CreatedAt）
func (u ProjectUpdate) Apply(p *Project) {
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.GithubRepo != nil {
		p.GithubRepo = *u.GithubRepo
	}
	if u.Docs != nil {
		p.Docs = *u.Docs
	}
	if u.Features != nil {
		p.Features = *u.Features
	}
	if u.Data != nil {
		p.Data = *u.Data
	}
	if u.Pinned != nil {
		p.Pinned = *u.Pinned
	}
}

// ProjectStats 轻量列表里代替完整内容的统计
type ProjectStats struct {
	DocsCount     int  `json:"docs_count"`
	FeaturesCount int  `json:"features_count"`
	HasData       bool `json:"has_data"`
}

// ProjectSummary include_content=false 时返回的轻量结构
type ProjectSummary struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	GithubRepo  string       `json:"github_repo"`
	Pinned      bool         `json:"pinned"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Stats       ProjectStats `json:"stats"`
}

func (p *Project) Summary() ProjectSummary {
	return ProjectSummary{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		GithubRepo:  p.GithubRepo,
		Pinned:      p.Pinned,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		Stats: ProjectStats{
			DocsCount:     len(p.Docs),
			FeaturesCount: jsonArrayLen(p.Features),
			HasData:       !jsonEmpty(p.Data),
		},
	}
}

func jsonArrayLen(raw json.RawMessage) int {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return 0
	}
	return len(items)
}

func jsonEmpty(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "null", "[]", "{}":
		return true
	}
	return false
}
