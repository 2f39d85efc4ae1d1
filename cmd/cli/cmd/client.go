package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vlem/internal/auth"
	"vlem/pkg/api"
)

// LabClient handles API calls to the vlem controller.
type LabClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewLabClient creates a new client with the given base URL and token.
// An empty token sends no Authorization header.
func NewLabClient(baseURL, token string) *LabClient {
	return &LabClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// LabQuery filters ListLabs. Zero values are omitted from the request.
type LabQuery struct {
	Name      string
	Status    string
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

func (q LabQuery) values() url.Values {
	v := url.Values{}
	if q.Name != "" {
		v.Set("name", q.Name)
	}
	if q.Status != "" {
		v.Set("status", strings.ToUpper(q.Status))
	}
	if q.SortBy != "" {
		v.Set("sort_by", q.SortBy)
	}
	if q.SortOrder != "" {
		v.Set("sort_order", q.SortOrder)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

// ListTemplates sends GET /templates.
func (c *LabClient) ListTemplates() ([]api.TemplateResponse, error) {
	var result []api.TemplateResponse
	if err := c.do(http.MethodGet, "/templates", nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateLab sends POST /templates/{name}/labs.
func (c *LabClient) CreateLab(template string, req api.CreateLabRequest) (*api.CreateLabResponse, error) {
	var result api.CreateLabResponse
	path := "/templates/" + url.PathEscape(template) + "/labs"
	if err := c.do(http.MethodPost, path, req, http.StatusAccepted, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListLabs sends GET /labs.
func (c *LabClient) ListLabs(q LabQuery) (*api.ListLabsResponse, error) {
	path := "/labs"
	if v := q.values(); len(v) > 0 {
		path += "?" + v.Encode()
	}
	var result api.ListLabsResponse
	if err := c.do(http.MethodGet, path, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLab sends GET /labs/{id}.
func (c *LabClient) GetLab(labID string) (*api.LabResponse, error) {
	var result api.LabResponse
	if err := c.do(http.MethodGet, "/labs/"+url.PathEscape(labID), nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteLab sends DELETE /labs/{id}.
func (c *LabClient) DeleteLab(labID string) (*api.DeleteLabResponse, error) {
	var result api.DeleteLabResponse
	if err := c.do(http.MethodDelete, "/labs/"+url.PathEscape(labID), nil, http.StatusAccepted, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLogs sends GET /labs/{id}/logs to retrieve entries after afterID.
func (c *LabClient) GetLogs(labID string, afterID int64) ([]api.LogEntry, error) {
	path := fmt.Sprintf("/labs/%s/logs?after_id=%d", url.PathEscape(labID), afterID)
	var result api.GetLogsResponse
	if err := c.do(http.MethodGet, path, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result.Logs, nil
}

// GetContainers sends GET /labs/{id}/containers.
func (c *LabClient) GetContainers(labID string) ([]api.ContainerResponse, error) {
	var result api.ListContainersResponse
	path := "/labs/" + url.PathEscape(labID) + "/containers"
	if err := c.do(http.MethodGet, path, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result.Containers, nil
}

func (c *LabClient) do(method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		httpReq.Header.Add("Authorization", auth.BearerHeader(c.Token))
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage prefers the "error" field of an API error body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
