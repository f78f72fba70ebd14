package internaldefs

import (
	refreshguard "github.com/keyfold/refreshguard"
)

// CounterDef binds a counter [refreshguard.MetricID] to its exported name.
type CounterDef struct {
	ID   refreshguard.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram [refreshguard.MetricID] to its exported name.
type HistogramDef struct {
	ID   refreshguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: refreshguard.MetricIssueSuccess, Name: "refreshguard_issue_success_total", Help: "Successful token pair issuances."},
	{ID: refreshguard.MetricIssueFailure, Name: "refreshguard_issue_failure_total", Help: "Failed issuance attempts."},
	{ID: refreshguard.MetricIssueRateLimited, Name: "refreshguard_issue_rate_limited_total", Help: "Rate-limited issuance attempts."},
	{ID: refreshguard.MetricRotateSuccess, Name: "refreshguard_rotate_success_total", Help: "Successful refresh token rotations."},
	{ID: refreshguard.MetricRotateFailure, Name: "refreshguard_rotate_failure_total", Help: "Rotations rejected as invalid."},
	{ID: refreshguard.MetricRotateRateLimited, Name: "refreshguard_rotate_rate_limited_total", Help: "Rate-limited rotation attempts."},
	{ID: refreshguard.MetricReuseDetected, Name: "refreshguard_reuse_detected_total", Help: "Rotations that presented an already consumed token."},
	{ID: refreshguard.MetricFamilyRevoked, Name: "refreshguard_family_revoked_total", Help: "Family-wide revocations after reuse detection."},
	{ID: refreshguard.MetricValidateSuccess, Name: "refreshguard_validate_success_total", Help: "Successful refresh token validations."},
	{ID: refreshguard.MetricValidateFailure, Name: "refreshguard_validate_failure_total", Help: "Failed refresh token validations."},
	{ID: refreshguard.MetricTokenRevoked, Name: "refreshguard_token_revoked_total", Help: "Single-token revocations."},
	{ID: refreshguard.MetricRevokeAll, Name: "refreshguard_revoke_all_total", Help: "User-wide revocations."},
	{ID: refreshguard.MetricSessionEvicted, Name: "refreshguard_session_evicted_total", Help: "Tokens evicted by the per-user session cap."},
	{ID: refreshguard.MetricStorageConflict, Name: "refreshguard_storage_conflict_total", Help: "Token hash index collisions."},
}

// HistogramDefs lists every exported histogram in a stable order.
var HistogramDefs = []HistogramDef{
	{ID: refreshguard.MetricValidateLatency, Name: "refreshguard_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds holds the Prometheus le labels for the fixed buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix holds instrument-name-safe forms of the bounds.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets widens a raw snapshot slice into the fixed bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
