// Package natsclient wraps a NATS connection for publishing stage outputs,
// with a circuit breaker in front of Connect.
//
// After five consecutive connection failures (WithCircuitBreakerThreshold)
// the circuit opens and Connect fails fast with ErrCircuitOpen. Once the
// backoff elapsed the next Connect is let through as a trial; every further
// round of failures doubles the backoff up to WithMaxBackoff.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("atlas-lwc"),
//	    natsclient.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.Publish(ctx, "atlas.lwc.datapoint", data)
//
// EnsureStream and PublishToStream cover JetStream: the latter waits for the
// stream acknowledgement instead of returning once the message is buffered.
//
// Once connected, reconnection is left to nats.go (WithMaxReconnects,
// WithReconnectWait); the client tracks it through its status.
//
// TestClient starts a NATS server in a container with testcontainers-go for
// integration tests.
package natsclient
