package errrecovery

import "time"

// RetryReason classifies why an attempt failed, driving both retry
// eligibility and delay calculation. Mirrors
// original_source/services/error_recovery/types.py's RetryReason enum.
type RetryReason string

const (
	ReasonNetworkError        RetryReason = "network_error"
	ReasonRateLimited         RetryReason = "rate_limited"
	ReasonQuotaExceeded       RetryReason = "quota_exceeded"
	ReasonServiceUnavailable  RetryReason = "service_unavailable"
	ReasonTimeout             RetryReason = "timeout"
	ReasonQualityNotAvailable RetryReason = "quality_not_available"
	ReasonUnknown             RetryReason = "unknown"
)

// Severity classifies how serious a reported error is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RetryConfig parameterizes every RetryStrategy. Field names and defaults
// follow original_source/services/error_recovery/types.py's RetryConfig.
type RetryConfig struct {
	MaxAttempts      int
	BaseDelay        float64
	MaxDelay         float64
	ExponentialBase  float64
	Jitter           bool
	FailureThreshold int
	RecoveryTimeout  float64
}

// DefaultRetryConfig mirrors the Python dataclass defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:      3,
		BaseDelay:        1.0,
		MaxDelay:         60.0,
		ExponentialBase:  2.0,
		Jitter:           true,
		FailureThreshold: 5,
		RecoveryTimeout:  30.0,
	}
}

// AttemptRecord is one entry in an ActiveRecovery's attempt history.
type AttemptRecord struct {
	Attempt   int
	Reason    RetryReason
	Error     string
	DelayedBy time.Duration
	At        time.Time
}

// ActiveRecovery tracks one in-flight ExecuteWithRetry call so it can be
// inspected (e.g. by a status endpoint) while it is running. The Driver
// removes the entry outright on exit, so its mere presence in
// Driver.ActiveRecoveries means the call is still running.
type ActiveRecovery struct {
	OperationID string
	StartedAt   time.Time
	Attempts    []AttemptRecord
}

// ErrorReport is one entry written by the ErrorReporter. Field names follow
// original_source/services/error_recovery/reporting.py's report dict shape.
type ErrorReport struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	Service           string    `json:"service"`
	Operation         string    `json:"operation"`
	ErrorType         string    `json:"error_type"`
	ErrorMessage      string    `json:"error_message"`
	Severity          Severity  `json:"severity"`
	RecoveryPossible  bool      `json:"recovery_possible"`
	RetryRecommended  bool      `json:"retry_recommended"`
	SeverityColor     string    `json:"severity_color"`
	Suggestions       []string  `json:"suggestions,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
}

// ErrorSummary is the reporter's time-windowed breakdown, from
// reporting.py's get_error_summary.
type ErrorSummary struct {
	WindowHours     int              `json:"window_hours"`
	TotalErrors     int              `json:"total_errors"`
	BySeverity      map[Severity]int `json:"by_severity"`
	ByService       map[string]int   `json:"by_service"`
	RecentReports   []ErrorReport    `json:"recent_reports"`
}
