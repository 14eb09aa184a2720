// Package prometheus renders engine counters in Prometheus text exposition
// format.
//
// [NewExporter] accepts an [mfacore.Engine] and exposes an [net/http.Handler]
// that renders every counter plus the audit drop counter. Counter names are
// prefixed mfacore_*_total. Nothing is registered in a global Prometheus
// registry; callers mount the Handler themselves.
package prometheus
