// Package engine wires all Conductor subsystems together and provides
// the primary application-level API for registering phase logic,
// starting jobs, and streaming their events.
//
// The engine package exists to break a fundamental import cycle: the
// root conductor package defines Entity and Config (imported by job,
// cache, stream, etc.) and therefore cannot import those packages back.
// Engine sits above all subsystem packages and below the application
// layer.
//
// # Building an Engine
//
//	c, err := conductor.New(
//	    conductor.WithStore(pgStore),
//	    conductor.WithHeartbeatInterval(10*time.Second),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithExtension(myExtension),
//	    engine.WithBackoff(backoff.DefaultStrategy()),
//	    engine.WithStartRateLimit(100, 10),
//	)
//
// # Registering Phase Logic
//
//	eng.RegisterPhase("import-csv", "read", func(ctx context.Context, req *supervisor.Request) (*supervisor.Outcome, error) {
//	    // ... do the work for req.Phase using req.Input ...
//	    return supervisor.Next("validate", partial), nil
//	})
//
// New jobs of the kind begin in the named initial phase ("read" here).
//
// # Running Jobs
//
//	j, err := engine.Start(ctx, eng, "import-csv", ImportInput{Path: "data.csv"})
//
//	sub := eng.Subscribe(j.ID)
//	for evt := range sub.Events() {
//	    // phase_start, progress, pause_requested, completed, ...
//	}
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithBackoff] — set the phase retry backoff strategy
//   - [WithMaxPhaseRetries] — cap retries before a job fails
//   - [WithStartRateLimit] — throttle StartJob callers
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
