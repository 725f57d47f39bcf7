package container

import (
	"context"
	"io"

	"github.com/felixgeelhaar/goalrun/internal/process"
)

// Mount binds a host path into a container
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec is everything a runtime needs to start one container
type RunSpec struct {
	// Name is unique on the host; Alias is the name other containers on the
	// network use
	Name       string
	Alias      string
	Image      string
	Network    string
	Entrypoint string
	Args       []string
	// Env values are handed to the runtime out of band, never on a command line
	Env        map[string]string
	Ports      []Port
	Mounts     []Mount
	WorkingDir string
	Options    map[string]string
}

// Process is a started container
type Process interface {
	// Wait blocks until the container exits or ctx is done
	Wait(ctx context.Context) process.Result
	// Kill stops waiting on the container locally; the runtime's Kill
	// removes it
	Kill() error
}

// Runtime creates networks and runs containers
type Runtime interface {
	CreateNetwork(ctx context.Context, name string) error
	RemoveNetwork(ctx context.Context, name string) error
	// Start launches the container without waiting for it. Output goes to out.
	Start(ctx context.Context, spec RunSpec, out io.Writer) (Process, error)
	// Kill force-removes a container by name
	Kill(ctx context.Context, name string) error
}

// ImageRuntime is implemented by runtimes that manage a local image store
type ImageRuntime interface {
	Pull(ctx context.Context, image string) error
	ImageExists(ctx context.Context, image string) (bool, error)
}
