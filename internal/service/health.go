package service

import (
	"context"
	"strings"
	"time"

	"projecthub/internal/model"
	"projecthub/pkg/logger"
	"projecthub/pkg/util"

	"go.uber.org/zap"
)

const (
	HealthHealthy       = "healthy"
	HealthSchemaMissing = "schema_missing"
)

type SchemaStatus struct {
	ProjectsTable bool `json:"projects_table"`
	TasksTable    bool `json:"tasks_table"`
	Valid         bool `json:"valid"`
}

// HealthReport GET /api/projects/health 的响应
type HealthReport struct {
	Status  string       `json:"status"`
	Service string       `json:"service"`
	Schema  SchemaStatus `json:"schema"`
	Error   string       `json:"error,omitempty"`
}

func (r HealthReport) Healthy() bool {
	return r.Status == HealthHealthy
}

type HealthService struct {
	projects ProjectStore
	tasks    TaskStore
	timeout  time.Duration
	logger   *zap.Logger
}

func NewHealthService(projects ProjectStore, tasks TaskStore, timeout time.Duration, logger *zap.Logger) *HealthService {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthService{projects: projects, tasks: tasks, timeout: timeout, logger: logger}
}

// Check 分别探测 projects 和 tasks 两张表，任何一张读取失败都报告 schema_missing，
// 错误信息放在 Error 里。
func (h *HealthService) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	report := HealthReport{Status: HealthHealthy, Service: "projects"}
	log := logger.WithTrace(ctx, h.logger)

	probes := []struct {
		name  string
		ok    *bool
		probe func() error
	}{
		{"projects", &report.Schema.ProjectsTable, func() error {
			_, err := h.projects.ListProjects(ctx)
			return err
		}},
		{"tasks", &report.Schema.TasksTable, func() error {
			_, err := h.tasks.ListTasks(ctx, model.TaskFilter{IncludeClosed: true, IncludeArchived: true, Limit: 1})
			return err
		}},
	}

	var errs []string
	for _, p := range probes {
		err := p.probe()
		if err == nil {
			*p.ok = true
			continue
		}
		// 任一探测出错都只把对应的表记为缺失，另一张表的结果保留
		if util.IsSchemaMissing(err) {
			log.Warn("Table missing", zap.String("table", p.name), zap.Error(err))
		} else {
			log.Error("Health probe failed", zap.String("table", p.name), zap.Error(err))
		}
		errs = append(errs, p.name+": "+err.Error())
	}

	report.Schema.Valid = report.Schema.ProjectsTable && report.Schema.TasksTable
	if !report.Schema.Valid {
		report.Status = HealthSchemaMissing
		report.Error = strings.Join(errs, "; ")
	}
	return report
}
