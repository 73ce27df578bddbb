package message

// Type identifies the kind of a message as domain, category and version.
type Type struct {
	Domain   string
	Category string
	Version  string
}

// Message types published by the sinks.
var (
	DatapointType = Type{Domain: "atlas", Category: "datapoint", Version: "v1"}
	HeartbeatType = Type{Domain: "atlas", Category: "heartbeat", Version: "v1"}
)

// Key returns the dotted form "domain.category.version" carried in the
// message type field.
func (mt Type) Key() string {
	return mt.Domain + "." + mt.Category + "." + mt.Version
}
