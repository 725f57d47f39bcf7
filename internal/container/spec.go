// Package container fulfills goals by running a primary container and
// optional sidecars on a private network that share the project, input
// and output directories of the goal.
package container

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/secret"
)

// EnvVar is a plain environment variable of a container
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// Port publishes a container port. A zero HostPort lets the runtime choose.
type Port struct {
	ContainerPort int    `json:"containerPort"`
	HostPort      int    `json:"hostPort,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
}

// Volume is a named host directory containers can mount
type Volume struct {
	Name     string `json:"name"`
	HostPath string `json:"hostPath"`
}

// VolumeMount mounts a named volume into a container
type VolumeMount struct {
	Name      string `json:"name"`
	MountPath string `json:"mountPath"`
	ReadOnly  bool   `json:"readOnly,omitempty"`
}

// GoalContainer is one container of a spec
type GoalContainer struct {
	Name         string          `json:"name"`
	Image        string          `json:"image"`
	Command      []string        `json:"command,omitempty"`
	Args         []string        `json:"args,omitempty"`
	Env          []EnvVar        `json:"env,omitempty"`
	Ports        []Port          `json:"ports,omitempty"`
	VolumeMounts []VolumeMount   `json:"volumeMounts,omitempty"`
	Secrets      *secret.Secrets `json:"secrets,omitempty"`
	WorkingDir   string          `json:"workingDir,omitempty"`
}

// Spec is a goal's container recipe. The first container is the primary;
// its exit decides the goal. The others are sidecars.
type Spec struct {
	Containers []GoalContainer   `json:"containers"`
	Volumes    []Volume          `json:"volumes,omitempty"`
	Options    map[string]string `json:"options,omitempty"`
}

// Primary returns the first container, or nil for an empty spec
func (s Spec) Primary() *GoalContainer {
	if len(s.Containers) == 0 {
		return nil
	}
	return &s.Containers[0]
}

// Volume returns the named volume
func (s Spec) Volume(name string) (Volume, bool) {
	for _, v := range s.Volumes {
		if v.Name == name {
			return v, true
		}
	}
	return Volume{}, false
}

// Callback rewrites a registration's spec for one invocation
type Callback func(ctx context.Context, spec Spec, inv goal.Invocation) (Spec, error)

// Registration binds a fulfillment name to a container spec
type Registration struct {
	Name     string
	Spec     Spec
	Callback Callback
}

// Resolve returns the effective spec for inv
func (r Registration) Resolve(ctx context.Context, inv goal.Invocation) (Spec, error) {
	if r.Callback == nil {
		return r.Spec, nil
	}
	return r.Callback(ctx, r.Spec, inv)
}

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://goalrun.dev/schemas/container-spec.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func specSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("container spec schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// ParseSpec decodes a spec written as yaml, json or jsonc and validates it
// against the container spec schema
func ParseSpec(data []byte, format string) (*Spec, error) {
	var doc []byte
	switch strings.ToLower(format) {
	case "yaml", "yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrap(errors.ErrCodeContainerSpecInvalid, "failed to parse container spec YAML", err)
		}
		var err error
		if doc, err = json.Marshal(v); err != nil {
			return nil, errors.Wrap(errors.ErrCodeContainerSpecInvalid, "failed to convert container spec", err)
		}
	case "json", "jsonc", "":
		doc = jsonc.ToJSON(data)
	default:
		return nil, errors.New(errors.ErrCodeContainerSpecInvalid, fmt.Sprintf("unsupported container spec format %q", format))
	}

	schema, err := specSchema()
	if err != nil {
		return nil, err
	}
	var instance any
	if err := json.Unmarshal(doc, &instance); err != nil {
		return nil, errors.Wrap(errors.ErrCodeContainerSpecInvalid, "container spec is not valid JSON", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, errors.Wrap(errors.ErrCodeContainerSpecInvalid, "container spec failed validation", err).
			WithSuggestion("Every container needs a name and an image; the first container is the primary")
	}

	var spec Spec
	if err := json.Unmarshal(doc, &spec); err != nil {
		return nil, errors.Wrap(errors.ErrCodeContainerSpecInvalid, "failed to decode container spec", err)
	}
	return &spec, nil
}

// FormatFromPath guesses a spec format from a file extension
func FormatFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return "yaml"
	case strings.HasSuffix(path, ".jsonc"):
		return "jsonc"
	default:
		return "json"
	}
}
