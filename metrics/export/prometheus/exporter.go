package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nvrivera/mfacore"
)

const namePrefix = "mfacore_"

type metricsSource interface {
	MetricsSnapshot() mfacore.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders engine counters in Prometheus text exposition format.
type Exporter struct {
	source metricsSource
}

// NewExporter creates an exporter reading from the given engine.
func NewExporter(engine *mfacore.Engine) *Exporter {
	return &Exporter{source: engine}
}

// NewExporterFromSource creates an exporter from a custom source, mainly for
// tests.
func NewExporterFromSource(source metricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler returns an http.Handler serving the current counters.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes every counter, in ID order, followed by the audit drop
// counter. Zero-valued counters are included so scrapes see a stable series
// set.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()

	var b strings.Builder
	b.Grow(4096)

	for i := 0; i < mfacore.MetricIDCount; i++ {
		id := mfacore.MetricID(i)
		writeCounter(&b, namePrefix+id.Name(), helpFor(id), snapshot.Counters[id])
	}
	writeCounter(&b, namePrefix+"audit_dropped_total",
		"Audit events dropped under dispatcher backpressure.", p.source.AuditDropped())

	return b.String()
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func helpFor(id mfacore.MetricID) string {
	switch id {
	case mfacore.MetricLoginFirstFactor:
		return "Password verifications that passed the first factor."
	case mfacore.MetricLoginFailure:
		return "Failed credential verifications."
	case mfacore.MetricLoginBlocked:
		return "Login attempts rejected because the account is blocked."
	case mfacore.MetricLoginComplete:
		return "Logins completed through a second factor."
	case mfacore.MetricChallengeIssued:
		return "Second-factor challenges issued."
	case mfacore.MetricChallengeValidated:
		return "Second-factor challenges validated successfully."
	case mfacore.MetricChallengeRejected:
		return "Second-factor challenges rejected."
	case mfacore.MetricChallengeReplay:
		return "Validation attempts against an already-consumed challenge."
	case mfacore.MetricSessionCreated:
		return "Sessions opened."
	case mfacore.MetricSessionClosed:
		return "Sessions closed by logout or displacement."
	case mfacore.MetricSessionExpired:
		return "Sessions closed by lifetime expiry."
	case mfacore.MetricRecoveryRequested:
		return "Password recovery tokens issued."
	case mfacore.MetricRecoveryCompleted:
		return "Password resets completed with a recovery token."
	case mfacore.MetricRecoveryRejected:
		return "Recovery tokens rejected."
	case mfacore.MetricRegistration:
		return "Accounts registered."
	case mfacore.MetricActivation:
		return "Accounts activated."
	case mfacore.MetricLockout:
		return "Accounts blocked by the failed-attempt threshold."
	case mfacore.MetricUnblock:
		return "Accounts reactivated by an administrative unblock."
	case mfacore.MetricPasswordChanged:
		return "Password changes, including recovery resets."
	case mfacore.MetricNotifyFailure:
		return "Mail or SMS deliveries that failed."
	default:
		return "Unknown counter."
	}
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
