package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DefaultTestImage is the NATS server image used by NewTestClient
const DefaultTestImage = "nats:2.10-alpine"

// TestClient is a NATS server in a container plus a Client connected to it.
type TestClient struct {
	Client *Client
	URL    string
}

// NewTestClient starts a NATS container with JetStream enabled for one test
// and connects a client.
// Both are torn down by t.Cleanup. The test fails if Docker is unavailable.
func NewTestClient(t testing.TB) *TestClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	container, url, err := startNATS(ctx)
	if err != nil {
		t.Fatalf("NATS test container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	client, err := NewClient(url, WithName(t.Name()), WithMaxReconnects(0))
	if err != nil {
		t.Fatalf("NATS test client: %v", err)
	}
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("NATS test client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close(context.Background())
	})

	return &TestClient{Client: client, URL: url}
}

func startNATS(ctx context.Context) (testcontainers.Container, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        DefaultTestImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--js", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp"),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("start container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("resolve endpoint: %w", err)
	}
	return container, endpoint, nil
}
