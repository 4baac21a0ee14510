package dockerprobe

import (
	"context"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Container is the slice of container runtime state the mapper needs.
type Container struct {
	ID    string
	Name  string
	Image string
}

// DockerClient lists running containers and resolves their main PIDs.
// The production implementation wraps the Docker SDK; tests inject fakes.
type DockerClient interface {
	ListRunning(ctx context.Context) ([]Container, error)
	MainPID(ctx context.Context, id string) (int, error)
}

// dockerClient adapts the Docker SDK client to the DockerClient interface.
type dockerClient struct {
	api *client.Client
}

// NewDockerClient connects to the local Docker daemon using the standard
// environment configuration (DOCKER_HOST etc.).
func NewDockerClient() (DockerClient, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &dockerClient{api: api}, nil
}

func (d *dockerClient) ListRunning(ctx context.Context) ([]Container, error) {
	// All: false lists running containers only; exited ones have no PIDs to map.
	summaries, err := d.api.ContainerList(ctx, container.ListOptions{All: false})
	if err != nil {
		return nil, err
	}

	containers := make([]Container, 0, len(summaries))
	for _, s := range summaries {
		name := ""
		if len(s.Names) > 0 {
			name = s.Names[0]
		}
		containers = append(containers, Container{
			ID:    s.ID,
			Name:  name,
			Image: s.Image,
		})
	}
	return containers, nil
}

func (d *dockerClient) MainPID(ctx context.Context, id string) (int, error) {
	inspect, err := d.api.ContainerInspect(ctx, id)
	if err != nil {
		return 0, err
	}
	if inspect.State == nil {
		return 0, nil
	}
	return inspect.State.Pid, nil
}
