package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// DefinitionResponse — определение процесса из API.
type DefinitionResponse struct {
	ID          string `json:"id"`
	Version     int    `json:"version"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Published   bool   `json:"published"`
	IsActive    bool   `json:"is_active"`
	Activities  int    `json:"activities"`
	CreatedAt   string `json:"created_at"`
}

// InstanceResponse — экземпляр процесса из API.
type InstanceResponse struct {
	ID                   string         `json:"id"`
	DefinitionID         string         `json:"definition_id"`
	DefinitionVersion    int            `json:"definition_version"`
	Status               string         `json:"status"`
	CurrentActivityID    string         `json:"current_activity_id,omitempty"`
	CompletedActivityIDs []string       `json:"completed_activity_ids,omitempty"`
	Bookmarks            []string       `json:"bookmarks,omitempty"`
	Variables            map[string]any `json:"variables,omitempty"`
	Output               map[string]any `json:"output,omitempty"`
	LastError            string         `json:"last_error,omitempty"`
	StartedAt            string         `json:"started_at,omitempty"`
	FinishedAt           string         `json:"finished_at,omitempty"`
	CreatedAt            string         `json:"created_at"`
}

// HistoryEntryResponse — запись журнала из API.
type HistoryEntryResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	ActivityID string         `json:"activity_id,omitempty"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	At         string         `json:"at"`
}

// BroadcastResponse — результат широковещательного сигнала.
type BroadcastResponse struct {
	Signal  string `json:"signal"`
	Resumed int    `json:"resumed"`
}

// TriggerResponse — результат внешнего события.
type TriggerResponse struct {
	Event   string   `json:"event"`
	Started []string `json:"started"`
}

// --- Request types ---

// CreateInstanceRequest — создание экземпляра.
type CreateInstanceRequest struct {
	Input         map[string]any `json:"input,omitempty"`
	Version       int            `json:"version,omitempty"`
	TenantID      string         `json:"tenant_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Start         bool           `json:"start,omitempty"`
}

// ResumeRequest — возобновление по bookmark.
type ResumeRequest struct {
	Bookmark string         `json:"bookmark"`
	Input    map[string]any `json:"input,omitempty"`
}

// SignalRequest — сигнал или событие.
type SignalRequest struct {
	Input map[string]any `json:"input,omitempty"`
}

// CancelRequest — отмена экземпляра.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ListInstancesOpts — параметры фильтрации экземпляров.
type ListInstancesOpts struct {
	DefinitionID string
	Status       string
	Limit        int
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

// Client — HTTP-клиент для Dirigent API.
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

// --- Definitions ---

// CreateDefinition сохраняет определение из JSON.
func (c *Client) CreateDefinition(definition json.RawMessage) (*DefinitionResponse, error) {
	var def DefinitionResponse
	err := c.post("/api/v1/definitions", definition, &def)
	return &def, err
}

// GetDefinition возвращает последнюю версию определения.
func (c *Client) GetDefinition(id string) (map[string]any, error) {
	var def map[string]any
	err := c.get("/api/v1/definitions/"+id, &def)
	return def, err
}

// PublishDefinition публикует версию определения.
func (c *Client) PublishDefinition(id string, version int) (*DefinitionResponse, error) {
	var def DefinitionResponse
	err := c.post(fmt.Sprintf("/api/v1/definitions/%s/versions/%d/publish", id, version), nil, &def)
	return &def, err
}

// UnpublishDefinition снимает публикацию версии.
func (c *Client) UnpublishDefinition(id string, version int) (*DefinitionResponse, error) {
	var def DefinitionResponse
	err := c.post(fmt.Sprintf("/api/v1/definitions/%s/versions/%d/unpublish", id, version), nil, &def)
	return &def, err
}

// --- Instances ---

// ListInstances возвращает экземпляры с фильтрацией.
func (c *Client) ListInstances(opts ListInstancesOpts) ([]InstanceResponse, error) {
	params := url.Values{}
	if opts.DefinitionID != "" {
		params.Set("definition_id", opts.DefinitionID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var instances []InstanceResponse
	err := c.list("/api/v1/instances", params, &instances)
	return instances, err
}

// CreateInstance создаёт (и опционально запускает) экземпляр.
func (c *Client) CreateInstance(definitionID string, req CreateInstanceRequest) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.post("/api/v1/definitions/"+definitionID+"/instances", req, &inst)
	return &inst, err
}

// GetInstance возвращает экземпляр по ID.
func (c *Client) GetInstance(id string) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.get("/api/v1/instances/"+id, &inst)
	return &inst, err
}

// GetHistory возвращает журнал экземпляра.
func (c *Client) GetHistory(id string) ([]HistoryEntryResponse, error) {
	var history []HistoryEntryResponse
	err := c.list("/api/v1/instances/"+id+"/history", nil, &history)
	return history, err
}

// StartInstance запускает PENDING-экземпляр.
func (c *Client) StartInstance(id string) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.post("/api/v1/instances/"+id+"/start", nil, &inst)
	return &inst, err
}

// ResumeInstance возобновляет экземпляр по bookmark.
func (c *Client) ResumeInstance(id string, req ResumeRequest) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.post("/api/v1/instances/"+id+"/resume", req, &inst)
	return &inst, err
}

// CancelInstance отменяет экземпляр.
func (c *Client) CancelInstance(id, reason string) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.post("/api/v1/instances/"+id+"/cancel", CancelRequest{Reason: reason}, &inst)
	return &inst, err
}

// RetryInstance повторяет запуск FAULTED-экземпляра.
func (c *Client) RetryInstance(id string) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.post("/api/v1/instances/"+id+"/retry", nil, &inst)
	return &inst, err
}

// --- Signals / Events ---

// BroadcastSignal доставляет сигнал всем ожидающим экземплярам.
func (c *Client) BroadcastSignal(name string, input map[string]any) (*BroadcastResponse, error) {
	var res BroadcastResponse
	err := c.post("/api/v1/signals/"+name, SignalRequest{Input: input}, &res)
	return &res, err
}

// TriggerEvent запускает подписанные на событие определения.
func (c *Client) TriggerEvent(name string, input map[string]any) (*TriggerResponse, error) {
	var res TriggerResponse
	err := c.post("/api/v1/events/"+name, SignalRequest{Input: input}, &res)
	return &res, err
}

// ListHandlers возвращает имена зарегистрированных обработчиков.
func (c *Client) ListHandlers() ([]string, error) {
	var names []string
	err := c.list("/api/v1/handlers", nil, &names)
	return names, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
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

	if len(lr.Data) == 0 || string(lr.Data) == "null" {
		return nil
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
		if raw, ok := body.(json.RawMessage); ok {
			bodyReader = bytes.NewReader(raw)
		} else {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request: %w", err)
			}
			bodyReader = bytes.NewReader(data)
		}
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
