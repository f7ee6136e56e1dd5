// Package telemetry provides observability for the provisioning engine.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry), Prometheus
// metrics and an event publisher into one Telemetry value built at startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Events
//
// The lease watcher and the job and backup engines publish Event values
// (lease.observed, job.started, job.completed, job.failed, backup.succeeded,
// backup.failed, device.status_changed). Subscribers register with Subscribe and an
// optional filter:
//
//	tel.Events.Subscribe(func(ev telemetry.Event) {
//	    fmt.Println(ev.Type, ev.Message)
//	}, telemetry.FilterByType(telemetry.EventTypeBackupFailed))
//
// When events.nats is enabled every event is also published to NATS as JSON on
// "<subject_prefix>.<event type>".
//
// # Metrics
//
// Metrics live in a private registry served by StartMetricsServer. A Metrics value
// built with metrics disabled, or a nil *Metrics, silently records nothing, so callers
// never need to check.
package telemetry
