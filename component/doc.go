// Package component provides the pieces shared by inputs, the LWC stage and
// outputs: the Discoverable interface used for health and data flow
// reporting, the lifecycle interface, the dependencies handed to factories,
// and the factory Registry.
//
// Components are registered explicitly rather than from init():
//
//	registry := component.NewRegistry()
//	if err := componentregistry.Register(registry); err != nil {
//	    return err
//	}
//	sink, err := registry.Create("output", "nats", rawConfig, deps)
//
// A factory receives its own section of the configuration as JSON and decodes
// it with SafeUnmarshal. Durations in component configs use Duration so
// both "30s" and nanosecond numbers are accepted.
package component
