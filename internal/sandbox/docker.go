package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/itstheanurag/executioner/internal/metrics"
	"github.com/rs/zerolog"
)

type DockerSandbox struct {
	cli    *client.Client
	logger *zerolog.Logger
}

func NewDockerSandbox(logger *zerolog.Logger) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerSandbox{cli: cli, logger: logger}, nil
}

func (s *DockerSandbox) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	containerID, err := s.createAndStart(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer s.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})

	if err := s.writeFile(ctx, containerID, "/home/sandbox/"+cfg.SourceFile, cfg.Source); err != nil {
		return nil, fmt.Errorf("failed to write source code: %w", err)
	}
	for _, f := range cfg.Additional {
		if err := s.writeFile(ctx, containerID, "/home/sandbox/"+f.Name, f.Content); err != nil {
			return nil, fmt.Errorf("failed to write additional file %q: %w", f.Name, err)
		}
	}

	repeat := cfg.Repeat
	if repeat < 1 {
		repeat = 1
	}

	var last *Result
	var slowestTime float64
	var maxMemory int64

	for i := 0; i < repeat; i++ {
		res, err := s.execOnce(ctx, containerID, cfg)
		if err != nil {
			return nil, err
		}
		last = res
		if res.TimeSec > slowestTime {
			slowestTime = res.TimeSec
		}
		if res.MemoryKB > maxMemory {
			maxMemory = res.MemoryKB
		}
		if res.Internal || (res.ExitCode != nil && *res.ExitCode != 0) || res.Signal != nil {
			break
		}
	}

	last.TimeSec = slowestTime
	last.MemoryKB = maxMemory
	return last, nil
}

func (s *DockerSandbox) createAndStart(ctx context.Context, cfg RunConfig) (string, error) {
	pidsLimit := int64(cfg.Limits.MaxProcessesAndOrThreads)
	if pidsLimit <= 0 {
		pidsLimit = 64
	}

	networkMode := container.NetworkMode("none")
	if cfg.Limits.EnableNetwork {
		networkMode = container.NetworkMode("bridge")
	}

	fsizeMB := (cfg.Limits.MaxFileSizeKB*int64(len(cfg.Additional)+1))/1024 + 1
	if fsizeMB < 8 {
		fsizeMB = 8
	}

	start := time.Now()
	resp, err := s.cli.ContainerCreate(ctx, &container.Config{
		Image:           cfg.Image,
		Cmd:             []string{"sleep", "infinity"},
		Tty:             false,
		OpenStdin:       true,
		StdinOnce:       true,
		NetworkDisabled: !cfg.Limits.EnableNetwork,
		WorkingDir:      "/home/sandbox",
		User:            "nobody",
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory:     cfg.Limits.MemoryLimitKB * 1024,
			MemorySwap: cfg.Limits.MemoryLimitKB * 1024,
			CPUQuota:   100000,
			PidsLimit:  &pidsLimit,
		},
		NetworkMode: networkMode,
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Tmpfs: map[string]string{
			"/home/sandbox": fmt.Sprintf("rw,exec,nosuid,size=%dm,mode=1777", fsizeMB),
			"/tmp":          "rw,noexec,nosuid,size=16m,mode=1777",
		},
	}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		s.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	metrics.ContainerCreationTime.Observe(float64(time.Since(start).Milliseconds()))

	return resp.ID, nil
}

func (s *DockerSandbox) writeFile(ctx context.Context, containerID, path string, content []byte) error {
	writeCmd := []string{"sh", "-c", fmt.Sprintf("cat > %s", path)}
	execResp, err := s.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:         writeCmd,
		AttachStdin: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create write exec: %w", err)
	}

	attachResp, err := s.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return fmt.Errorf("failed to attach write exec: %w", err)
	}
	defer attachResp.Close()

	if _, err := attachResp.Conn.Write(content); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	attachResp.CloseWrite()

	for {
		inspect, err := s.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return fmt.Errorf("failed to inspect write exec: %w", err)
		}
		if !inspect.Running {
			break
		}
	}
	return nil
}

func (s *DockerSandbox) execOnce(ctx context.Context, containerID string, cfg RunConfig) (*Result, error) {
	cpuDeadline := time.Duration((cfg.Limits.CPUTimeLimit + cfg.Limits.CPUExtraTime) * float64(time.Second))
	wallDeadline := time.Duration(cfg.Limits.WallTimeLimit * float64(time.Second))
	deadline := wallDeadline
	if cpuDeadline > deadline {
		deadline = cpuDeadline
	}
	if deadline <= 0 {
		deadline = 10 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	execResp, err := s.cli.ContainerExecCreate(runCtx, containerID, container.ExecOptions{
		Cmd:          cfg.Argv,
		WorkingDir:   "/home/sandbox",
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	startResp, err := s.cli.ContainerExecAttach(runCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer startResp.Close()

	if len(cfg.Stdin) > 0 {
		_, _ = startResp.Conn.Write(cfg.Stdin)
	}
	_ = startResp.CloseWrite()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		var err error
		if cfg.Limits.RedirectStderrToStdout {
			_, err = stdcopy.StdCopy(&stdout, &stdout, startResp.Reader)
		} else {
			_, err = stdcopy.StdCopy(&stdout, &stderr, startResp.Reader)
		}
		done <- err
	}()

	start := time.Now()
	select {
	case err := <-done:
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read exec logs: %w", err)
		}
	case <-runCtx.Done():
		return s.classifyTimeout(ctx, containerID, cfg.Limits.MemoryLimitKB)
	}
	elapsed := time.Since(start).Seconds()

	inspect, err := s.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	memKB, oom := s.readMemory(ctx, containerID, cfg.Limits.MemoryLimitKB)

	exitCode := inspect.ExitCode
	msg := "OK"
	switch {
	case oom:
		msg = "Memory limit exceeded"
	case exitCode != 0:
		msg = "Runtime error"
	}

	return &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		TimeSec:  elapsed,
		MemoryKB: memKB,
		ExitCode: &exitCode,
		Message:  msg,
	}, nil
}

// readMemory reads the container's memory usage from a one-shot stats call
// (the usage at the moment of the read, not a peak over the run) and reports
// whether it was killed for exceeding the limit, either via the cgroup OOM
// flag or by the usage figure itself reaching the configured limit (the process may have
// been reaped by the exec deadline before Docker's own OOM accounting caught
// up). Errors reading stats are swallowed; a failed read just means the
// caller falls back to treating the result as a plain timeout or exit.
func (s *DockerSandbox) readMemory(ctx context.Context, containerID string, limitKB int64) (memKB int64, oom bool) {
	inspect, err := s.cli.ContainerInspect(ctx, containerID)
	if err == nil {
		oom = inspect.State.OOMKilled
	}

	statsResp, err := s.cli.ContainerStats(ctx, containerID, false)
	if err != nil {
		return memKB, oom
	}
	defer statsResp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err == nil {
		memKB = int64(stats.MemoryStats.Usage / 1024)
	}
	if limitKB > 0 && memKB >= limitKB {
		oom = true
	}
	return memKB, oom
}

func (s *DockerSandbox) classifyTimeout(ctx context.Context, containerID string, limitKB int64) (*Result, error) {
	memKB, oom := s.readMemory(ctx, containerID, limitKB)
	msg := "Time limit exceeded"
	if oom {
		msg = "Memory limit exceeded"
	}
	signal := "SIGKILL"
	return &Result{
		TimeSec:  0,
		MemoryKB: memKB,
		Signal:   &signal,
		Message:  msg,
	}, nil
}

func (s *DockerSandbox) EnsureImage(ctx context.Context, img string) error {
	_, _, err := s.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}

	s.logger.Info().Str("image", img).Msg("pulling docker image")
	reader, err := s.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer reader.Close()

	_, _ = io.Copy(io.Discard, reader)

	s.logger.Info().Str("image", img).Msg("successfully pulled docker image")
	return nil
}
