package model

import (
	"fmt"
	"time"
)

// SourceKind 项目关联知识源的分类
type SourceKind string

const (
	SourceTechnical SourceKind = "technical"
	SourceBusiness  SourceKind = "business"
)

func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(s) {
	case SourceTechnical, SourceBusiness:
		return SourceKind(s), nil
	}
	return "", fmt.Errorf("invalid source kind %q: must be technical or business", s)
}

// Source 知识库中的一条来源记录（由爬取/上传子系统维护，这里只读）
type Source struct {
	SourceID      string    `json:"source_id"`
	Title         string    `json:"title"`
	KnowledgeType string    `json:"knowledge_type"`
	CreatedAt     time.Time `json:"created_at"`
}

// SourceLink project 与 source 的关联记录
type SourceLink struct {
	ProjectID string     `json:"project_id"`
	SourceID  string     `json:"source_id"`
	Kind      SourceKind `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
}

// SourceRef 装饰后的来源信息
type SourceRef struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	Type     string `json:"type"`
}
