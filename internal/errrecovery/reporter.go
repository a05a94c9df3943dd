package errrecovery

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ytarchive/fleet/internal/fsatomic"
)

// severityColor mirrors reporting.py's console color table, kept here only
// as a structured log field (severity_color) rather than raw ANSI escapes,
// since zerolog is the fleet's logging surface.
var severityColor = map[Severity]string{
	SeverityLow:      "cyan",
	SeverityMedium:   "yellow",
	SeverityHigh:     "red",
	SeverityCritical: "magenta",
}

// nonRecoverableReasons mirrors reporting.py's judgement of which failures
// a later retry could not plausibly fix.
var nonRecoverableReasons = map[RetryReason]bool{
	ReasonQualityNotAvailable: true,
}

const ringBufferSize = 200

// BasicErrorReporter persists ErrorReports to a daily JSON log file (via
// fsatomic, so partial writes never corrupt it) and keeps a bounded
// in-memory ring buffer for GetErrorSummary. Mirrors
// original_source/services/error_recovery/reporting.py's
// BasicErrorReporter.
type BasicErrorReporter struct {
	dir string
	log zerolog.Logger

	mu      sync.Mutex
	seq     uint64
	ring    []ErrorReport
	ringPos int
}

// NewBasicErrorReporter creates a reporter writing daily logs under dir.
func NewBasicErrorReporter(dir string, log zerolog.Logger) *BasicErrorReporter {
	return &BasicErrorReporter{dir: dir, log: log}
}

// ReportError classifies err's severity/recoverability, assigns it an id,
// logs it, persists it to today's log file, and returns the report.
func (r *BasicErrorReporter) ReportError(ctx context.Context, service, operation string, err error, severity Severity, extra map[string]any) (ErrorReport, error) {
	reason := DetermineRetryReason(err)

	report := ErrorReport{
		ID:               r.nextID(),
		Timestamp:        time.Now().UTC(),
		Service:          service,
		Operation:        operation,
		ErrorType:        fmt.Sprintf("%T", err),
		ErrorMessage:     err.Error(),
		Severity:         severity,
		RecoveryPossible: !nonRecoverableReasons[reason],
		RetryRecommended: !nonRecoverableReasons[reason] && severity != SeverityCritical,
		SeverityColor:    severityColor[severity],
		Suggestions:      suggestionsFor(reason),
		Context:          extra,
	}

	r.logReport(report)
	r.remember(report)

	if err := r.save(report); err != nil {
		return report, err
	}
	return report, nil
}

// nextID builds ERR_{unixts}_{hash%10000:04d}_{seq}, the same scheme as
// reporting.py's id generation extended with a monotonic sequence number
// (see DESIGN.md's Open Question decision on id collisions).
func (r *BasicErrorReporter) nextID() string {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	now := time.Now().UTC()
	h := sha1.Sum([]byte(now.Format(time.RFC3339Nano)))
	hashInt := binary.BigEndian.Uint32(h[:4]) % 10000
	return fmt.Sprintf("ERR_%d_%04d_%d", now.Unix(), hashInt, seq)
}

func (r *BasicErrorReporter) logReport(report ErrorReport) {
	var ev *zerolog.Event
	switch report.Severity {
	case SeverityCritical:
		ev = r.log.Error()
	case SeverityHigh:
		ev = r.log.Warn()
	default:
		ev = r.log.Info()
	}
	ev.
		Str("error_id", report.ID).
		Str("service", report.Service).
		Str("operation", report.Operation).
		Str("severity", string(report.Severity)).
		Str("severity_color", report.SeverityColor).
		Bool("recovery_possible", report.RecoveryPossible).
		Msg(report.ErrorMessage)
}

func (r *BasicErrorReporter) remember(report ErrorReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ring) < ringBufferSize {
		r.ring = append(r.ring, report)
		return
	}
	r.ring[r.ringPos] = report
	r.ringPos = (r.ringPos + 1) % ringBufferSize
}

func (r *BasicErrorReporter) save(report ErrorReport) error {
	name := report.Timestamp.Format("2006-01-02") + ".json"
	path := filepath.Join(r.dir, name)

	var day []ErrorReport
	if fsatomic.Exists(path) {
		_ = fsatomic.ReadJSON(path, &day)
	}
	day = append(day, report)

	if err := fsatomic.EnsureDir(r.dir); err != nil {
		return err
	}
	return fsatomic.WriteJSON(path, day)
}

// GetErrorSummary returns the severity/service breakdown and the most
// recent reports within the last `hours` hours, mirroring reporting.py's
// get_error_summary.
func (r *BasicErrorReporter) GetErrorSummary(hours int) ErrorSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	summary := ErrorSummary{
		WindowHours: hours,
		BySeverity:  make(map[Severity]int),
		ByService:   make(map[string]int),
	}

	var recent []ErrorReport
	// ringPos is the oldest slot once the ring has wrapped (0 before that),
	// so this walks reports oldest to newest.
	for i := range r.ring {
		rep := r.ring[(r.ringPos+i)%len(r.ring)]
		if rep.Timestamp.Before(cutoff) {
			continue
		}
		summary.TotalErrors++
		summary.BySeverity[rep.Severity]++
		summary.ByService[rep.Service]++
		recent = append(recent, rep)
	}

	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	summary.RecentReports = recent
	return summary
}

func suggestionsFor(reason RetryReason) []string {
	switch reason {
	case ReasonNetworkError:
		return []string{"check network connectivity", "verify DNS resolution"}
	case ReasonRateLimited:
		return []string{"reduce request rate", "wait before retrying"}
	case ReasonQuotaExceeded:
		return []string{"wait for quota reset", "request a quota increase"}
	case ReasonServiceUnavailable:
		return []string{"check downstream service health", "retry with backoff"}
	case ReasonTimeout:
		return []string{"increase the operation timeout", "check for slow upstream responses"}
	case ReasonQualityNotAvailable:
		return []string{"select a different quality", "check available formats first"}
	default:
		return []string{"inspect the error message for details"}
	}
}
