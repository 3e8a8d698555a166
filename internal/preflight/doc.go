// Package preflight validates the host environment before the service
// starts serving: storage directories, free disk space, file descriptor
// limits, the catalog database, and provider bindings.
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg)
//	if checker.HasCriticalFailures(results) {
//	    // Refuse to start
//	}
package preflight
