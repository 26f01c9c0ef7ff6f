// Package connector manages authenticated CRM sessions.
//
// # Architecture Overview
//
// A Connector wraps one crm.Client and tracks its lifecycle:
//
//	unstarted -> starting -> started -> stopping -> stopped
//
// The Registry caches connectors keyed by models.Credentials.Fingerprint, so
// every caller presenting the same credentials shares one session. The first
// Ensure for a fingerprint builds the client through the registry's Factory
// and logs it in; later calls return the cached connector.
//
// # Concurrency
//
// Ensure and Evict are serialized per fingerprint with a lock created on
// demand. Concurrent Ensure calls for the same credentials build exactly one
// client; calls for different credentials proceed in parallel.
//
// # Failure handling
//
// A failed login does not fail Ensure. The connector is returned unstarted and
// the next Ensure tries again. Callers that see an authentication error from
// the CRM should Evict the credentials so the next Ensure builds a fresh session.
//
// # Basic Usage
//
//	reg := connector.NewRegistry(func(c models.Credentials) (crm.Client, error) {
//	    return crm.NewRESTClient(c, crm.Options{}), nil
//	}, logger)
//	defer reg.Close(ctx)
//
//	conn, err := reg.Ensure(ctx, creds)
//	if err != nil {
//	    return err
//	}
//	objects, err := conn.Client().GlobalObjects(ctx)
package connector
