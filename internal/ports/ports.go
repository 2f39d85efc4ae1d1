// Package ports inspects the host ports a manifest publishes and checks
// whether they are free on the local machine.
package ports

import (
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"

	"vlem/internal/manifest"
)

const (
	// DefaultMaxAttempts bounds FindAvailable when maxAttempts is not positive.
	DefaultMaxAttempts = 100

	minPort = 1
	maxPort = 65535
)

// Resolver extracts and checks host-bound ports.
type Resolver struct {
	logger *slog.Logger
	host   string
}

// New creates a Resolver that probes the loopback interface.
func New(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger, host: "127.0.0.1"}
}

// ExtractHostPorts returns the sorted, de-duplicated host ports published by
// the services of a manifest. Entries it cannot interpret are skipped with a
// warning; only a malformed document is an error.
func (r *Resolver) ExtractHostPorts(content []byte) ([]int, error) {
	doc, err := manifest.Parse(content)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{})
	for name, svc := range doc.Services {
		for _, entry := range svc.Ports {
			port, ok := r.hostPort(name, entry)
			if ok {
				seen[port] = struct{}{}
			}
		}
	}

	result := make([]int, 0, len(seen))
	for port := range seen {
		result = append(result, port)
	}
	slices.Sort(result)
	return result, nil
}

// hostPort interprets one `ports` entry.
// Strings follow "host:container[/proto]" or "ip:host:container[/proto]",
// where ip may be a bracketed IPv6 address;
// mappings use the `published` field. A bare container port has no host side.
func (r *Resolver) hostPort(service string, entry any) (int, bool) {
	switch v := entry.(type) {
	case string:
		spec := v
		if strings.HasPrefix(spec, "[") {
			// "[::1]:host:container": drop the bracketed address.
			end := strings.Index(spec, "]:")
			if end < 0 {
				r.warn(service, entry, "malformed IPv6 host address")
				return 0, false
			}
			spec = spec[end+2:]
			if strings.Count(spec, ":") != 1 {
				r.warn(service, entry, "unsupported port syntax")
				return 0, false
			}
		}
		parts := strings.Split(spec, ":")
		var raw string
		switch len(parts) {
		case 1:
			return 0, false
		case 2:
			raw = parts[0]
		case 3:
			raw = parts[1]
		default:
			r.warn(service, entry, "unsupported port syntax")
			return 0, false
		}
		return r.validPort(service, entry, raw)

	case map[string]any:
		published, ok := v["published"]
		if !ok || published == nil {
			return 0, false
		}
		switch p := published.(type) {
		case int:
			return r.validPort(service, entry, strconv.Itoa(p))
		case string:
			return r.validPort(service, entry, p)
		default:
			r.warn(service, entry, "published port is not a number")
			return 0, false
		}

	default:
		r.warn(service, entry, "unsupported port entry shape")
		return 0, false
	}
}

func (r *Resolver) validPort(service string, entry any, raw string) (int, bool) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		r.warn(service, entry, "host port is not numeric")
		return 0, false
	}
	if port < minPort || port > maxPort {
		r.warn(service, entry, "host port out of range")
		return 0, false
	}
	return port, true
}

func (r *Resolver) warn(service string, entry any, reason string) {
	r.logger.Warn("skipping port entry",
		"service", service,
		"entry", fmt.Sprintf("%v", entry),
		"reason", reason,
	)
}

// IsAvailable reports whether a listening socket can be bound on port.
// The check is point-in-time: nothing is reserved, so another process may
// take the port right after it returns true.
func (r *Resolver) IsAvailable(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(r.host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// FindAvailable returns the first free port in [start, start+maxAttempts).
func (r *Resolver) FindAvailable(start, maxAttempts int) (int, bool) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	for port := start; port < start+maxAttempts && port <= maxPort; port++ {
		if port < minPort {
			continue
		}
		if r.IsAvailable(port) {
			return port, true
		}
	}
	return 0, false
}

// Conflicts returns the published host ports of content that are in use.
func (r *Resolver) Conflicts(content []byte) ([]int, error) {
	hostPorts, err := r.ExtractHostPorts(content)
	if err != nil {
		return nil, err
	}

	var busy []int
	for _, port := range hostPorts {
		if !r.IsAvailable(port) {
			busy = append(busy, port)
		}
	}
	return busy, nil
}
