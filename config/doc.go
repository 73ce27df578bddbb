// Package config loads the atlas-lwc configuration.
//
// A configuration file is YAML or JSON (JSON is valid YAML). Loading layers
// the file over the defaults, applies ATLAS_LWC_* environment overrides,
// checks the merged document against an embedded JSON schema and finally
// runs Config.Validate. Every error returned from Load is classified as
// invalid so callers can tell a bad file from an I/O failure.
//
// Source and sink settings are passed through as raw JSON to the component
// factory named by their type, which validates them itself:
//
//	source:
//	  type: sse
//	  config:
//	    url: https://lwc.example.com/lwc/api/v1/stream/i-1234
//	stage:
//	  name: edge-1
//	sink:
//	  type: nats
//	  config:
//	    url: nats://localhost:4222
//	    subject_prefix: atlas.lwc
//
// Environment overrides:
//
//	ATLAS_LWC_SOURCE_TYPE     source.type
//	ATLAS_LWC_SOURCE_URL      source.config.url
//	ATLAS_LWC_SINK_TYPE       sink.type
//	ATLAS_LWC_STAGE_NAME      stage.name
//	ATLAS_LWC_METRICS_ENABLED metrics.enabled
//	ATLAS_LWC_METRICS_PORT    metrics.port
//	ATLAS_LWC_LOG_LEVEL       log.level
//	ATLAS_LWC_LOG_FORMAT      log.format
package config
