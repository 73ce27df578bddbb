// Package httppost provides an output component that posts datapoints to an
// HTTP endpoint.
//
// # Overview
//
// Every datapoint is encoded with the configured message codec and sent as
// the body of one POST request. Emit returns once the endpoint has answered,
// so the endpoint's latency paces the stage feeding the output.
//
// # Retries
//
// Transport errors, 408, 429 and 5xx responses are retried up to retry_count
// times with exponential backoff starting at retry_backoff. Other 4xx
// responses fail immediately.
//
// # Example Configuration
//
//	{
//	  "url": "https://ingest.example.com/v1/datapoints",
//	  "headers": {"Authorization": "Bearer token"},
//	  "codec": "json",
//	  "timeout": "10s",
//	  "retry_count": 3,
//	  "retry_backoff": "200ms"
//	}
package httppost
