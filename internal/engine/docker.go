// Package engine reads the state of lab containers from the Docker Engine API.
//
// Containers are found through the labels compose attaches to everything it
// creates, so a lab's containers are those whose project label equals the
// lab id.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

const (
	// ProjectLabel is set by compose to the `-p` project name.
	ProjectLabel = "com.docker.compose.project"
	// ServiceLabel is set by compose to the service name.
	ServiceLabel = "com.docker.compose.service"
)

// ErrUnavailable means the Docker daemon could not be reached or answered with an error.
var ErrUnavailable = errors.New("container engine unavailable")

// ContainerLister is the part of the Docker client the Inspector uses.
type ContainerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Close() error
}

// Container describes one container of a lab.
type Container struct {
	ID        string
	Name      string
	Service   string
	Image     string
	State     string
	Status    string
	Ports     []PublishedPort
	CreatedAt time.Time
}

// PublishedPort is a container port bound on the host.
type PublishedPort struct {
	HostIP        string
	HostPort      int
	ContainerPort int
	Protocol      string
}

// Inspector lists lab containers.
type Inspector struct {
	client ContainerLister
	logger *slog.Logger
}

// New wraps an existing client.
func New(c ContainerLister, logger *slog.Logger) *Inspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inspector{client: c, logger: logger}
}

// NewFromEnv creates an Inspector from the standard Docker environment
// variables (DOCKER_HOST, DOCKER_CERT_PATH, ...).
func NewFromEnv(logger *slog.Logger) (*Inspector, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return New(cli, logger), nil
}

// LabContainers returns every container, running or not, of the lab's
// compose project, sorted by name.
func (i *Inspector) LabContainers(ctx context.Context, labID string) ([]Container, error) {
	list, err := i.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ProjectLabel+"="+labID)),
	})
	if err != nil {
		i.logger.Warn("container listing failed", "lab_id", labID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	result := make([]Container, 0, len(list))
	for _, c := range list {
		result = append(result, convert(c))
	}
	sort.Slice(result, func(a, b int) bool { return result[a].Name < result[b].Name })
	return result, nil
}

func convert(c container.Summary) Container {
	out := Container{
		ID:        c.ID,
		Service:   c.Labels[ServiceLabel],
		Image:     c.Image,
		State:     string(c.State),
		Status:    c.Status,
		CreatedAt: time.Unix(c.Created, 0).UTC(),
	}
	if len(c.Names) > 0 {
		out.Name = strings.TrimPrefix(c.Names[0], "/")
	}
	for _, p := range c.Ports {
		if p.PublicPort == 0 {
			continue
		}
		out.Ports = append(out.Ports, PublishedPort{
			HostIP:        p.IP,
			HostPort:      int(p.PublicPort),
			ContainerPort: int(p.PrivatePort),
			Protocol:      p.Type,
		})
	}
	return out
}

// Close releases the underlying client.
func (i *Inspector) Close() error {
	return i.client.Close()
}
