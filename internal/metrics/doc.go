// Package metrics records develop-session metrics.
//
// Components receive a Recorder. NoopRecorder is the default and does
// nothing; PrometheusRecorder registers collectors on a private registry
// that the control server exposes at /metrics. The Bridge feeds a Recorder
// from the orchestrator's observation events so the state machine itself
// never touches metrics.
package metrics
