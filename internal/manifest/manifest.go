// Package manifest parses compose-style container orchestration documents.
//
// Documents are parsed on demand and never mutated. Only the parts the
// provisioning engine inspects (services and their port entries) are typed;
// everything else is kept as raw YAML.
package manifest

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// FileName is the manifest file a template must ship in its directory.
const FileName = "compose.yml"

// ErrInvalid is returned when a manifest cannot be parsed or has the wrong shape.
var ErrInvalid = errors.New("manifest invalid")

// Document is a parsed manifest.
type Document struct {
	// Services maps a service name to its raw definition.
	// A nil map means the document declares no services mapping.
	Services map[string]Service
}

// Service is a single service definition.
type Service struct {
	// Ports holds the raw entries of the `ports` list, nil when absent.
	Ports []any
	// HasPorts reports whether the service declared a `ports` key at all.
	HasPorts bool
}

// CheckWellFormed reports whether content parses as a YAML document.
// It does not validate compose semantics.
func CheckWellFormed(content []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(content, &node); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Parse decodes content and requires a mapping at the document root.
// A `services` value that is not a mapping is treated as no services,
// and service definitions that are not mappings are skipped.
// A `ports` value that exists but is not a list is an error.
func Parse(content []byte) (*Document, error) {
	var root any
	if err := yaml.Unmarshal(content, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	top, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a mapping at the document root", ErrInvalid)
	}

	doc := &Document{}
	services, ok := top["services"].(map[string]any)
	if !ok {
		return doc, nil
	}

	doc.Services = make(map[string]Service, len(services))
	for name, raw := range services {
		def, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		svc := Service{}
		if rawPorts, present := def["ports"]; present && rawPorts != nil {
			list, ok := rawPorts.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: service %q: ports must be a list", ErrInvalid, name)
			}
			svc.Ports = list
			svc.HasPorts = true
		}
		doc.Services[name] = svc
	}

	return doc, nil
}
