// Package sink owns delivery of finalized frames to the time-series store.
//
// Ownership boundary:
// - backend contract (database exists/create/select, batch write)
// - connect gate with fixed-interval retry
// - frame to point conversion
// - InfluxDB backend and optional MQTT mirror
//
// Lifecycle:
// - disconnected -> connecting -> ready
//
// - ready -> disconnected on a failed write only when reconnect is enabled.
package sink
