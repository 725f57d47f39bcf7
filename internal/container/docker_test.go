package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildRunArgs(t *testing.T) {
	tests := []struct {
		name string
		spec RunSpec
		want []string
	}{
		{
			name: "minimal",
			spec: RunSpec{Name: "goalrun-1-app", Image: "alpine:3"},
			want: []string{"run", "--rm", "--name", "goalrun-1-app", "alpine:3"},
		},
		{
			name: "network and alias",
			spec: RunSpec{Name: "c", Alias: "db", Network: "net", Image: "postgres:16"},
			want: []string{"run", "--rm", "--name", "c", "--network", "net", "--network-alias", "db", "postgres:16"},
		},
		{
			name: "alias without network is dropped",
			spec: RunSpec{Name: "c", Alias: "db", Image: "postgres:16"},
			want: []string{"run", "--rm", "--name", "c", "postgres:16"},
		},
		{
			name: "env names only in sorted order",
			spec: RunSpec{Name: "c", Image: "i", Env: map[string]string{"ZED": "1", "ALPHA": "secret"}},
			want: []string{"run", "--rm", "--name", "c", "-e", "ALPHA", "-e", "ZED", "i"},
		},
		{
			name: "entrypoint working dir and args",
			spec: RunSpec{Name: "c", Image: "maven:3", Entrypoint: "mvn", Args: []string{"-B", "package"}, WorkingDir: "/goalrun/project"},
			want: []string{"run", "--rm", "--name", "c", "-w", "/goalrun/project", "--entrypoint", "mvn", "maven:3", "-B", "package"},
		},
		{
			name: "ports and mounts",
			spec: RunSpec{
				Name:   "c",
				Image:  "i",
				Ports:  []Port{{ContainerPort: 8080, HostPort: 18080}, {ContainerPort: 53, Protocol: "udp"}},
				Mounts: []Mount{{Source: "/tmp/p", Target: "/goalrun/project"}, {Source: "/cache", Target: "/root/.m2", ReadOnly: true}},
			},
			want: []string{
				"run", "--rm", "--name", "c",
				"-p", "18080:8080", "-p", "53/udp",
				"-v", "/tmp/p:/goalrun/project", "-v", "/cache:/root/.m2:ro",
				"i",
			},
		},
		{
			name: "options",
			spec: RunSpec{Name: "c", Image: "i", Options: map[string]string{
				"memory":    "512m",
				"cpus":      "1.5",
				"read-only": "true",
				"init":      "false",
				"unknown":   "ignored",
			}},
			want: []string{"run", "--rm", "--name", "c", "--cpus", "1.5", "--memory", "512m", "--read-only", "i"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildRunArgs(tt.spec))
		})
	}
}

func TestBuildRunArgsNeverCarriesEnvValues(t *testing.T) {
	args := buildRunArgs(RunSpec{Name: "c", Image: "i", Env: map[string]string{"TOKEN": "hunter2"}})
	for _, a := range args {
		assert.NotContains(t, a, "hunter2")
	}
}

func TestPortFlag(t *testing.T) {
	tests := []struct {
		port Port
		want string
	}{
		{Port{ContainerPort: 80}, "80"},
		{Port{ContainerPort: 80, HostPort: 8080}, "8080:80"},
		{Port{ContainerPort: 80, Protocol: "tcp"}, "80"},
		{Port{ContainerPort: 5353, HostPort: 53, Protocol: "udp"}, "53:5353/udp"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, portFlag(tt.port))
	}
}
