// Package supervisor launches and health-checks the migration worker
// as a managed Docker container. Grounded on the Docker container
// lifecycle in stanstork-stratum-api's internal/worker/worker.go
// (image inspect/pull, ContainerCreate/Start, ContainerWait), and on
// the check/start/poll loop of
// original_source/tests/restart_universal_service.py's
// check_service/start_service/main.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"

	"github.com/stanstork/migratum/internal/opmodel"
)

// Config wires the supervisor to the worker image and container it manages.
type Config struct {
	Image            string
	ContainerName    string
	Endpoint         string // e.g. http://127.0.0.1:9090, used both for HTTP health checks and passed to the orchestrator's worker client
	ContainerPort    string // e.g. "9090/tcp"
	HostPort         string
	EnvVars          []string
	HealthPath       string
	HealthTimeout    time.Duration
	LaunchMaxWait    time.Duration
	ContainerCPU     int64
	ContainerMemory  int64
}

func (c Config) healthPath() string {
	if c.HealthPath == "" {
		return "/health"
	}
	return c.HealthPath
}

// Supervisor owns the single worker container's lifecycle. One
// Supervisor instance is shared by the orchestrator process; ensureWorker
// serializes concurrent launch attempts behind mu so two operations
// racing to start the worker only launch one container (spec §3,
// ServiceProcess.Required invariant).
type Supervisor struct {
	cfg    Config
	docker *client.Client
	http   *http.Client
	logger zerolog.Logger

	mu    sync.Mutex
	state opmodel.ServiceProcess
}

func New(cfg Config, docker *client.Client, logger zerolog.Logger) *Supervisor {
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.LaunchMaxWait == 0 {
		cfg.LaunchMaxWait = 30 * time.Second
	}
	return &Supervisor{
		cfg:    cfg,
		docker: docker,
		http:   &http.Client{Timeout: cfg.HealthTimeout},
		logger: logger.With().Str("component", "supervisor").Logger(),
		state:  opmodel.ServiceProcess{WorkerID: cfg.ContainerName, State: opmodel.ProcessStopped, Required: true},
	}
}

// Endpoint returns the worker's HTTP base URL once it's confirmed healthy.
func (s *Supervisor) Endpoint() string { return s.cfg.Endpoint }

// EnsureWorker makes sure the worker container is running and answering
// its health check before an operation is dispatched to it. Health
// probe -> launch (if needed) -> poll, matching the shape of
// restart_universal_service.py's main().
func (s *Supervisor) EnsureWorker(ctx context.Context) error {
	if s.probeHealth(ctx) {
		s.mu.Lock()
		s.state.State = opmodel.ProcessRunning
		s.state.LastHealthOKAt = timeNow()
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the lock: another goroutine may have already
	// launched and warmed up the worker while we waited for the mutex.
	if s.probeHealth(ctx) {
		s.state.State = opmodel.ProcessRunning
		s.state.LastHealthOKAt = timeNow()
		return nil
	}

	s.logger.Warn().Str("worker", s.cfg.ContainerName).Msg("worker not responding, launching container")
	s.state.State = opmodel.ProcessStarting

	containerID, err := s.launch(ctx)
	if err != nil {
		s.state.State = opmodel.ProcessFailed
		return fmt.Errorf("launch worker container: %w", err)
	}
	s.state.ContainerID = containerID
	s.state.StartedAt = timeNow()

	if err := s.pollUntilHealthy(ctx); err != nil {
		s.state.State = opmodel.ProcessFailed
		logs := s.tailLogs(ctx, containerID)
		return fmt.Errorf("worker did not become healthy within %s: %w (logs: %s)", s.cfg.LaunchMaxWait, err, logs)
	}

	s.state.State = opmodel.ProcessRunning
	s.state.LastHealthOKAt = timeNow()
	s.logger.Info().Str("worker", s.cfg.ContainerName).Str("container_id", containerID).Msg("worker is healthy")
	return nil
}

func (s *Supervisor) probeHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint+s.cfg.healthPath(), nil)
	if err != nil {
		return false
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *Supervisor) pollUntilHealthy(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = s.cfg.LaunchMaxWait

	return backoff.Retry(func() error {
		if s.probeHealth(ctx) {
			return nil
		}
		return fmt.Errorf("worker not yet healthy")
	}, backoff.WithContext(b, ctx))
}

func (s *Supervisor) launch(ctx context.Context) (string, error) {
	if _, err := s.docker.ImageInspect(ctx, s.cfg.Image); err != nil {
		s.logger.Info().Str("image", s.cfg.Image).Msg("worker image not found locally, pulling")
		reader, pullErr := s.docker.ImagePull(ctx, s.cfg.Image, image.PullOptions{})
		if pullErr != nil {
			return "", fmt.Errorf("pull image: %w", pullErr)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	containerConfig := &container.Config{
		Image: s.cfg.Image,
		Env:   s.cfg.EnvVars,
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			CPUShares: s.cfg.ContainerCPU,
			Memory:    s.cfg.ContainerMemory,
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	if s.cfg.ContainerPort != "" {
		containerPort, err := nat.NewPort("tcp", strings.TrimSuffix(s.cfg.ContainerPort, "/tcp"))
		if err != nil {
			return "", fmt.Errorf("parse container port %q: %w", s.cfg.ContainerPort, err)
		}
		containerConfig.ExposedPorts = nat.PortSet{containerPort: struct{}{}}
		hostConfig.PortBindings = nat.PortMap{
			containerPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: s.cfg.HostPort}},
		}
	}

	resp, err := s.docker.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, s.cfg.ContainerName)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := s.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}
	return resp.ID, nil
}

func (s *Supervisor) tailLogs(ctx context.Context, containerID string) string {
	reader, err := s.docker.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "200"})
	if err != nil {
		return "(no logs available: " + err.Error() + ")"
	}
	defer reader.Close()
	var stdout, stderr bytes.Buffer
	stdcopy.StdCopy(&stdout, &stderr, reader)
	return stdout.String() + stderr.String()
}

// State returns a snapshot of the supervised worker's process state.
func (s *Supervisor) State() opmodel.ServiceProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func timeNow() *time.Time {
	t := time.Now()
	return &t
}
