package testutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// DockerContainer represents a Docker container used for testing
type DockerContainer struct {
	ID        string
	Name      string
	HostPort  string
	StartedAt time.Time
}

// Addr returns the host address the container is reachable on
func (c *DockerContainer) Addr() string {
	return "localhost:" + c.HostPort
}

// StartRedisContainer starts a throwaway Redis container on hostPort
func StartRedisContainer(ctx context.Context, hostPort string) (*DockerContainer, error) {
	containerName := fmt.Sprintf("bazaarbook-redis-test-%d", time.Now().UnixNano())

	cmd := exec.CommandContext(ctx, "docker", "run", "--rm", "-d",
		"--name", containerName,
		"-p", hostPort+":6379",
		"redis:alpine")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w, output: %s", err, output)
	}

	container := &DockerContainer{
		ID:        strings.TrimSpace(string(output)),
		Name:      containerName,
		HostPort:  hostPort,
		StartedAt: time.Now(),
	}

	redisClient := redis.NewClient(&redis.Options{Addr: container.Addr()})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for {
		if _, err := redisClient.Ping(pingCtx).Result(); err == nil {
			return container, nil
		}
		select {
		case <-pingCtx.Done():
			_ = container.Stop(context.Background())
			return nil, fmt.Errorf("timed out waiting for Redis to be ready")
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Stop stops and removes the Docker container
func (c *DockerContainer) Stop(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", c.ID)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to stop container %s: %w, output: %s", c.ID, err, output)
	}
	return nil
}

// WithRedis runs testFunc against a reachable Redis. It uses RedisAddr() when
// something answers there and otherwise tries to start a container, skipping
// the test when neither works.
func WithRedis(t *testing.T, testFunc func(redisAddr string)) {
	t.Helper()

	addr := RedisAddr()
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_, err := client.Ping(ctx).Result()
	cancel()
	_ = client.Close()
	if err == nil {
		testFunc(addr)
		return
	}

	container, err := StartRedisContainer(context.Background(), "6380")
	if err != nil {
		t.Skip("Skipping test: no Redis available and could not start a container:", err)
		return
	}
	t.Cleanup(func() {
		_ = container.Stop(context.Background())
	})
	testFunc(container.Addr())
}
