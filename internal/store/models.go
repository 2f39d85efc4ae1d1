// Package store contains the persistence layer for vlem.
package store

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a lab record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable marks connectivity failures, as opposed to query errors.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// LabStatus is the lifecycle state of a lab.
type LabStatus string

const (
	LabStatusQueued     LabStatus = "QUEUED"
	LabStatusProcessing LabStatus = "PROCESSING"
	LabStatusBuilding   LabStatus = "BUILDING"
	LabStatusCompleted  LabStatus = "COMPLETED"
	LabStatusFailed     LabStatus = "FAILED"
)

// LabStatuses lists every status in lifecycle order.
var LabStatuses = []LabStatus{
	LabStatusQueued,
	LabStatusProcessing,
	LabStatusBuilding,
	LabStatusCompleted,
	LabStatusFailed,
}

// Terminal reports whether no further transitions happen within an attempt.
func (s LabStatus) Terminal() bool {
	return s == LabStatusCompleted || s == LabStatusFailed
}

// ParseLabStatus validates a status string.
func ParseLabStatus(s string) (LabStatus, error) {
	for _, status := range LabStatuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown lab status %q", s)
}

// Lab is one provisioned environment.
type Lab struct {
	ID           string
	TemplateName string
	Name         string
	Description  string
	Status       LabStatus
	ErrorKind    *string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Failure is the diagnostic detail recorded with a FAILED status.
type Failure struct {
	Kind    string
	Message string
}

// Sort columns accepted by LabFilter.
const (
	SortByCreatedAt = "created_at"
	SortByUpdatedAt = "updated_at"
)

// LabFilter narrows ListLabs. Zero values mean no filtering.
type LabFilter struct {
	// Name matches case-insensitively as a substring.
	Name     string
	Status   LabStatus
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// LogEntry is one captured block of compose output for a lab.
type LogEntry struct {
	ID        int64
	LabID     string
	Stage     string
	Content   string
	CreatedAt time.Time
}

// JobType identifies the work a queue item asks for.
type JobType string

const (
	JobTypeProvision JobType = "PROVISION"
	JobTypeTeardown  JobType = "TEARDOWN"
)
