package constants

import "time"

// Requeue intervals used by controllers.
const (
	RequeueShort = 5 * time.Second

	RequeueSafetyNetBase   = 10 * time.Minute
	RequeueSafetyNetJitter = 2 * time.Minute
)

// ForcedDeleteMargin is how long past the grace period a terminating pod
// may linger before the operator escalates to a forced delete.
const ForcedDeleteMargin = 10 * time.Second
