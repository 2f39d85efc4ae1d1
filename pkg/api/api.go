// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import "time"

// TemplateResponse is one entry of the template catalog.
type TemplateResponse struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Logo        string `json:"logo,omitempty"`
	Category    string `json:"category"`
}

// CreateLabRequest is the optional body of POST /templates/{name}/labs.
type CreateLabRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// CreateLabResponse is returned once the lab is queued.
type CreateLabResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Status  string `json:"status"`
}

// LabResponse represents a lab in API responses.
type LabResponse struct {
	ID           string    `json:"id"`
	TemplateName string    `json:"template_name"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	ErrorKind    *string   `json:"error_kind,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ListLabsResponse is the response body of GET /labs.
type ListLabsResponse struct {
	Labs   []LabResponse `json:"labs"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// DeleteLabResponse is returned once teardown is queued.
type DeleteLabResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Status  string `json:"status"`
}

// LogEntry represents one captured block of compose output.
type LogEntry struct {
	ID        int64     `json:"id"`
	Stage     string    `json:"stage"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// GetLogsResponse is the response body for fetching logs.
type GetLogsResponse struct {
	Logs []LogEntry `json:"logs"`
}

// PortBinding is a container port published on the host.
type PortBinding struct {
	HostIP        string `json:"host_ip,omitempty"`
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol"`
}

// ContainerResponse describes one container of a lab.
type ContainerResponse struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Service   string        `json:"service,omitempty"`
	Image     string        `json:"image"`
	State     string        `json:"state"`
	Status    string        `json:"status"`
	Ports     []PortBinding `json:"ports"`
	CreatedAt time.Time     `json:"created_at"`
}

// ListContainersResponse is the response body of GET /labs/{id}/containers.
type ListContainersResponse struct {
	Containers []ContainerResponse `json:"containers"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Accepted is the status string of asynchronous responses.
const Accepted = "accepted"
