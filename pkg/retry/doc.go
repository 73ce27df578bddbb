// Package retry provides exponential backoff for reconnecting to upstream
// streams and connecting to downstream brokers.
//
// Backoff hands out delays one at a time, which suits loops that decide on
// their own when to wait, such as a pipeline reconnecting after its stream
// ended:
//
//	backoff := retry.NewBackoff(retry.DefaultConfig())
//	for {
//	    err := runOnce(ctx)
//	    delay, ok := backoff.Next()
//	    if !ok {
//	        return err
//	    }
//	    if err := retry.Sleep(ctx, delay); err != nil {
//	        return err
//	    }
//	}
//
// Do wraps the same policy around a single operation:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Errors wrapped with NonRetryable, and errors classified fatal or invalid by
// the errors package, stop Do immediately.
package retry
