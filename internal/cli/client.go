package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// WorkflowResponse — workflow из API.
type WorkflowResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// WorkflowVersionResponse — версия workflow из API.
type WorkflowVersionResponse struct {
	WorkflowID string          `json:"workflow_id"`
	Version    int             `json:"version"`
	Spec       json.RawMessage `json:"spec"`
	CreatedAt  string          `json:"created_at"`
}

// NodeRunResponse — состояние одного узла в run.
type NodeRunResponse struct {
	NodeID   string         `json:"node_id"`
	Status   string         `json:"status"`
	Attempt  int            `json:"attempt"`
	CacheHit bool           `json:"cache_hit,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
	Error    *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
	EndedAt   string `json:"ended_at,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID             string                     `json:"id"`
	WorkflowID     string                     `json:"workflow_id,omitempty"`
	Status         string                     `json:"status"`
	NodeRuns       map[string]NodeRunResponse `json:"node_runs"`
	Error          string                     `json:"error,omitempty"`
	IdempotencyKey string                     `json:"idempotency_key,omitempty"`
	StartedAt      string                     `json:"started_at,omitempty"`
	EndedAt        string                     `json:"ended_at,omitempty"`
	CreatedAt      string                     `json:"created_at"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name,omitempty"`
	CronExpr   string `json:"cron_expr"`
	Timezone   string `json:"timezone"`
	Enabled    bool   `json:"enabled"`
	NextDueAt  string `json:"next_due_at,omitempty"`
	LastRunAt  string `json:"last_run_at,omitempty"`
	LastRunID  string `json:"last_run_id,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// NodeTypeResponse — зарегистрированный тип узла.
type NodeTypeResponse struct {
	Type          string `json:"type"`
	Deterministic bool   `json:"deterministic"`
}

// PreviewResponse — результат preview-запуска узла.
type PreviewResponse struct {
	NodeID string         `json:"node_id"`
	Output map[string]any `json:"output"`
}

// --- Request types ---

// CreateWorkflowRequest — создание workflow.
type CreateWorkflowRequest struct {
	Name string          `json:"name"`
	Spec json.RawMessage `json:"spec,omitempty"`
}

// StartRunRequest — ad-hoc запуск графа.
type StartRunRequest struct {
	Spec           json.RawMessage `json:"spec"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// StartWorkflowRunRequest — запуск сохранённого workflow.
type StartWorkflowRunRequest struct {
	Version        int    `json:"version,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PreviewRequest — preview-запуск одного узла.
type PreviewRequest struct {
	Spec   json.RawMessage `json:"spec"`
	NodeID string          `json:"node_id"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name     string `json:"name,omitempty"`
	CronExpr string `json:"cron_expr"`
	Timezone string `json:"timezone,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	Name     *string `json:"name,omitempty"`
	CronExpr *string `json:"cron_expr,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	WorkflowID string
	Status     string
	Limit      int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Workflows ---

// ListWorkflows возвращает все workflows.
func (c *Client) ListWorkflows() ([]WorkflowResponse, error) {
	var workflows []WorkflowResponse
	err := c.list("/api/v1/workflows", nil, &workflows)
	return workflows, err
}

// CreateWorkflow создаёт workflow, опционально с первой версией графа.
func (c *Client) CreateWorkflow(name string, spec json.RawMessage) (*WorkflowResponse, error) {
	var workflow WorkflowResponse
	err := c.post("/api/v1/workflows", CreateWorkflowRequest{Name: name, Spec: spec}, &workflow)
	return &workflow, err
}

// GetWorkflow возвращает workflow по ID.
func (c *Client) GetWorkflow(id string) (*WorkflowResponse, error) {
	var workflow WorkflowResponse
	err := c.get("/api/v1/workflows/"+id, &workflow)
	return &workflow, err
}

// SetWorkflowActive включает или выключает workflow.
func (c *Client) SetWorkflowActive(id string, active bool) error {
	body := map[string]bool{"is_active": active}
	return c.put("/api/v1/workflows/"+id+"/active", body, nil)
}

// CreateVersion сохраняет новую версию графа workflow.
func (c *Client) CreateVersion(workflowID string, spec json.RawMessage) (*WorkflowVersionResponse, error) {
	body := map[string]json.RawMessage{"spec": spec}
	var version WorkflowVersionResponse
	err := c.post("/api/v1/workflows/"+workflowID+"/versions", body, &version)
	return &version, err
}

// GetVersion возвращает конкретную версию workflow.
func (c *Client) GetVersion(workflowID string, version int) (*WorkflowVersionResponse, error) {
	var v WorkflowVersionResponse
	err := c.get(fmt.Sprintf("/api/v1/workflows/%s/versions/%d", workflowID, version), &v)
	return &v, err
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.WorkflowID != "" {
		params.Set("workflow_id", opts.WorkflowID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// StartRun запускает ad-hoc граф.
func (c *Client) StartRun(req StartRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs", req, &run)
	return &run, err
}

// StartWorkflowRun запускает сохранённый workflow.
func (c *Client) StartWorkflowRun(workflowID string, req StartWorkflowRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/workflows/"+workflowID+"/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &run)
	return &run, err
}

// PreviewNode выполняет один узел и его предков без создания run.
func (c *Client) PreviewNode(req PreviewRequest) (*PreviewResponse, error) {
	var preview PreviewResponse
	err := c.post("/api/v1/preview", req, &preview)
	return &preview, err
}

// ListNodeTypes возвращает зарегистрированные типы узлов.
func (c *Client) ListNodeTypes() ([]NodeTypeResponse, error) {
	var types []NodeTypeResponse
	err := c.list("/api/v1/node-types", nil, &types)
	return types, err
}

// StreamEvent — одно событие из SSE-потока run.
type StreamEvent struct {
	Kind string
	Data json.RawMessage
}

// StreamRunEvents читает SSE-поток событий run и вызывает fn для
// каждого события. Возвращается после run.finished или ошибки потока.
func (c *Client) StreamRunEvents(runID string, fn func(StreamEvent) error) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/v1/runs/"+runID+"/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// Поток живёт до конца run, обычный таймаут клиента не подходит.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var event StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event.Kind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			event.Data = json.RawMessage(strings.TrimPrefix(line, "data: "))
		case line == "":
			if event.Kind == "" {
				continue
			}
			if err := fn(event); err != nil {
				return err
			}
			if event.Kind == "run.finished" {
				return nil
			}
			event = StreamEvent{}
		}
	}
	return scanner.Err()
}

// --- Schedules ---

// ListSchedules возвращает включённые schedules.
func (c *Client) ListSchedules() ([]ScheduleResponse, error) {
	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", nil, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule для workflow.
func (c *Client) CreateSchedule(workflowID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/workflows/"+workflowID+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.patch("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) patch(path string, body any, result any) error {
	return c.doData(http.MethodPatch, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
