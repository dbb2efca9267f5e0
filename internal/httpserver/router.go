package httpserver

import (
	"context"
	"net/http"
	"time"

	"projecthub/internal/handler"
	"projecthub/pkg/circuitbreaker"
	"projecthub/pkg/otel"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger 存储后端（pgx 或 sqlite）
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnChecker MQ 连接状态
type ConnChecker interface {
	IsConnected() bool
}

// BreakerState agent 客户端的熔断状态
type BreakerState interface {
	State() circuitbreaker.State
}

// Deps 组装路由所需的全部依赖；MQ / Agent 为 nil 表示未启用
type Deps struct {
	Projects  *handler.ProjectHandler
	Tasks     *handler.TaskHandler
	Store     Pinger
	MQ        ConnChecker
	Agent     BreakerState
	JWTSecret string
	Logger    *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(otel.GinMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(RequestLogMiddleware(d.Logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", readiness(d))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/projects", d.Projects.ListProjects)
		api.GET("/projects/health", d.Projects.Health)
		api.GET("/projects/:id", d.Projects.GetProject)
		api.GET("/projects/:id/sources", d.Projects.ListProjectSources)
		api.GET("/projects/:id/tasks", d.Tasks.ListProjectTasks)
		api.GET("/tasks", d.Tasks.ListTasks)
		api.GET("/tasks/:id", d.Tasks.GetTask)
	}

	// 写接口：配置了 JWT secret 时需要 Bearer token
	write := r.Group("/api")
	if d.JWTSecret != "" {
		write.Use(AuthMiddleware(d.JWTSecret))
	}
	{
		write.POST("/projects", d.Projects.CreateProject)
		write.PUT("/projects/:id", d.Projects.UpdateProject)
		write.DELETE("/projects/:id", d.Projects.DeleteProject)
		write.POST("/tasks", d.Tasks.CreateTask)
		write.PUT("/tasks/:id", d.Tasks.UpdateTask)
		write.DELETE("/tasks/:id", d.Tasks.DeleteTask)
	}

	return r
}

func readiness(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := d.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		if d.MQ != nil && !d.MQ.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}

		resp := gin.H{"status": "ready"}
		// agent 熔断不影响就绪，只报告状态
		if d.Agent != nil {
			resp["agent_breaker"] = d.Agent.State().String()
		}
		c.JSON(http.StatusOK, resp)
	}
}
