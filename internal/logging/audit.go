package logging

import "github.com/go-logr/logr"

// Audit event types recorded by the operator. These mark actions that change
// workload availability, as opposed to routine reconcile chatter.
const (
	EventInstanceRestart = "instance_restart"
	EventForcedDelete    = "forced_delete"
	EventRolloutStarted  = "rollout_started"
	EventServiceDeletion = "service_deletion"
)

// LogAuditEvent logs a structured audit event for operator actions.
// Audit events are distinct from regular debug/info logs and are tagged
// with "audit=true" for easy filtering in log aggregation systems.
func LogAuditEvent(logger logr.Logger, eventType string, fields map[string]string) {
	auditLogger := logger.WithValues("audit", "true", "event_type", eventType)
	for key, value := range fields {
		auditLogger = auditLogger.WithValues(key, value)
	}
	auditLogger.Info("Operator audit event")
}
