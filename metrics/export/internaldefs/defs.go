package internaldefs

import (
	"context"

	goMembership "github.com/MrEthical07/goMembership"
)

// CounterDef binds a MetricID to its exported name and help text.
type CounterDef struct {
	ID   goMembership.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram MetricID to its exported name and help text.
type HistogramDef struct {
	ID   goMembership.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goMembership.MetricUserCreated, Name: "gomembership_user_created_total", Help: "Users created."},
	{ID: goMembership.MetricUserCreateRejected, Name: "gomembership_user_create_rejected_total", Help: "CreateUser calls rejected with a status."},
	{ID: goMembership.MetricValidateSuccess, Name: "gomembership_validate_success_total", Help: "Successful credential validations."},
	{ID: goMembership.MetricValidateFailure, Name: "gomembership_validate_failure_total", Help: "Failed credential validations."},
	{ID: goMembership.MetricUserLockedOut, Name: "gomembership_user_locked_out_total", Help: "Users locked out after repeated failures."},
	{ID: goMembership.MetricUserUnlocked, Name: "gomembership_user_unlocked_total", Help: "UnlockUser operations."},
	{ID: goMembership.MetricPasswordChanged, Name: "gomembership_password_changed_total", Help: "Successful password changes."},
	{ID: goMembership.MetricPasswordChangeFailure, Name: "gomembership_password_change_failure_total", Help: "Failed password changes."},
	{ID: goMembership.MetricPasswordReset, Name: "gomembership_password_reset_total", Help: "Successful password resets."},
	{ID: goMembership.MetricPasswordResetFailure, Name: "gomembership_password_reset_failure_total", Help: "Failed password resets."},
	{ID: goMembership.MetricUserDeleted, Name: "gomembership_user_deleted_total", Help: "Deleted users."},
	{ID: goMembership.MetricSessionCreated, Name: "gomembership_session_created_total", Help: "Session records created."},
	{ID: goMembership.MetricSessionLockAcquired, Name: "gomembership_session_lock_acquired_total", Help: "Exclusive session reads that took the lock."},
	{ID: goMembership.MetricSessionLockBusy, Name: "gomembership_session_lock_busy_total", Help: "Session reads that found the lock held."},
	{ID: goMembership.MetricSessionLockConflict, Name: "gomembership_session_lock_conflict_total", Help: "Session writes rejected for a stale lock id."},
	{ID: goMembership.MetricSessionReleased, Name: "gomembership_session_released_total", Help: "Session locks released."},
	{ID: goMembership.MetricSessionExpired, Name: "gomembership_session_expired_total", Help: "Expired sessions deleted on read."},
	{ID: goMembership.MetricSessionRemoved, Name: "gomembership_session_removed_total", Help: "Sessions removed by their lock holder."},
	{ID: goMembership.MetricProviderError, Name: "gomembership_provider_error_total", Help: "Backend failures surfaced as provider errors."},
	{ID: goMembership.MetricTicketIssued, Name: "gomembership_ticket_issued_total", Help: "Authentication tickets issued."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goMembership.MetricValidateLatency, Name: "gomembership_validate_latency_seconds", Help: "ValidateUser latency histogram."},
}

// HistogramBounds are the upper bounds of the latency buckets, in seconds.
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

// Cumulative pads raw to the fixed bucket count and turns per-bucket counts
// into running totals. The last element is the sample count.
func Cumulative(raw []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}

// Audit drop counter, read from AuditDropped rather than the snapshot.
const (
	AuditDroppedName = "gomembership_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// LiveSource answers point-in-time questions that need a backend round trip.
// *goMembership.Engine satisfies it.
type LiveSource interface {
	GetNumberOfUsersOnline(ctx context.Context) (int, error)
	EstimateActiveSessions(ctx context.Context) (int, error)
}

// GaugeDef binds a live reading to its exported name.
type GaugeDef struct {
	Name string
	Help string
	Read func(LiveSource, context.Context) (int, error)
}

// GaugeDefs lists the live gauges. A reading that fails, for example a
// session estimate without Redis, is skipped for that scrape.
var GaugeDefs = []GaugeDef{
	{Name: "gomembership_users_online", Help: "Users active within the online window.", Read: LiveSource.GetNumberOfUsersOnline},
	{Name: "gomembership_sessions_active", Help: "Session records currently stored.", Read: LiveSource.EstimateActiveSessions},
}
