// Package componentregistry registers every input connector and output sink
// shipped with atlas-lwc.
package componentregistry

import (
	"errors"

	"github.com/alexitosrv/atlas/component"
	pkgerrors "github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/input/sse"
	websocketinput "github.com/alexitosrv/atlas/input/websocket"
	"github.com/alexitosrv/atlas/output/file"
	"github.com/alexitosrv/atlas/output/httppost"
	"github.com/alexitosrv/atlas/output/mqttsink"
	"github.com/alexitosrv/atlas/output/natssink"
)

// Register registers all components with the provided registry:
//
// Inputs:
//   - sse (HTTP text/event-stream)
//   - websocket
//   - replay (captured stream from a file or stdin)
//
// Outputs:
//   - file (JSON lines)
//   - nats
//   - mqtt
//   - httppost
func Register(registry *component.Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	registrations := []struct {
		what     string
		register func(*component.Registry) error
	}{
		{"SSE input", sse.Register},
		{"WebSocket input", websocketinput.Register},
		{"replay input", sse.RegisterReplay},
		{"file output", file.Register},
		{"NATS output", natssink.Register},
		{"MQTT output", mqttsink.Register},
		{"HTTP POST output", httppost.Register},
	}

	for _, r := range registrations {
		if err := r.register(registry); err != nil {
			return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", r.what+" component registration")
		}
	}
	return nil
}
