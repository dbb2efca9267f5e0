package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"projecthub/internal/model"
	"projecthub/pkg/circuitbreaker"
	"projecthub/pkg/metrics"
	"projecthub/pkg/trace"
)

// DocGenerator 生成项目初始文档的外部协作方（AI agent）
type DocGenerator interface {
	GenerateDocs(ctx context.Context, req DocRequest) ([]model.Document, error)
}

type DocRequest struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	GithubRepo  string `json:"github_repo,omitempty"`
}

// AgentClient 通过 HTTP 调用 agent-service 生成文档
type AgentClient struct {
	baseURL    string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
}

func NewAgentClient(baseURL string, timeout time.Duration) *AgentClient {
	if timeout <= 0 {
		timeout = 30 * time.Second // LLM 可能需要更长时间
	}
	// agent 挂掉时快速失败，不拖慢项目创建
	cbConfig := circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 2,
		OnStateChange: func(_, to circuitbreaker.State) {
			metrics.SetCircuitBreakerState("agent", int(to))
		},
	}
	return &AgentClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cb: circuitbreaker.NewCircuitBreaker(cbConfig),
	}
}

type generateDocsResponse struct {
	Docs []model.Document `json:"docs"`
}

// GenerateDocs 调用 /generate-docs。失败（包括熔断打开）原样返回错误，
// 由调用方把它记为创建流程里的一个失败步骤。
func (c *AgentClient) GenerateDocs(ctx context.Context, req DocRequest) ([]model.Document, error) {
	var docs []model.Document

	err := c.cb.Execute(func() error {
		start := time.Now()
		b, err := json.Marshal(req)
		if err != nil {
			return err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate-docs", bytes.NewReader(b))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if traceID := trace.FromContext(ctx); traceID != "" {
			httpReq.Header.Set(trace.HeaderName(), traceID)
		}

		resp, err := c.httpClient.Do(httpReq)
		latency := time.Since(start)
		if err != nil {
			metrics.RecordAgentCallLatency("/generate-docs", "error", latency)
			return fmt.Errorf("failed to call agent service: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			metrics.RecordAgentCallLatency("/generate-docs", fmt.Sprintf("%d", resp.StatusCode), latency)
			return fmt.Errorf("agent service returned error: %d", resp.StatusCode)
		}
		metrics.RecordAgentCallLatency("/generate-docs", "success", latency)

		var out generateDocsResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode agent response: %w", err)
		}
		docs = out.Docs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// State 熔断器状态，供 readiness 探针使用
func (c *AgentClient) State() circuitbreaker.State {
	return c.cb.GetState()
}
