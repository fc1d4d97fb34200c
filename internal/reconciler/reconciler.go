// Package reconciler corrects the persisted simulation status record
// against actually-observed process liveness. It exists as a standing
// correction mechanism because an exit callback can be lost (host restart)
// or race a new start request; every status read and every control command
// reconciles first so decisions are made against ground truth.
package reconciler

import (
	"time"

	"github.com/ukydev/sumo-bridge/internal/models"
)

// Reconcile returns a corrected copy of status given the observed process
// liveness. It is a pure function and idempotent: reconciling an
// already-consistent record changes nothing.
//
// Rules, in order:
//  1. intent running/starting but no live process: force stopped and assign
//     an end timestamp if absent.
//  2. intent stopped but a process is live: force running and assign a
//     start timestamp if absent.
func Reconcile(status models.SimulationStatus, actualLive bool, now time.Time) (models.SimulationStatus, bool) {
	switch {
	case status.State.LiveIntent() && !actualLive:
		status.SetState(models.StateStopped, now)
		return status, true

	case status.State == models.StateStopped && actualLive:
		status.State = models.StateRunning
		status.IsRunning = true
		status.UpdatedAt = now
		if status.StartTime == nil {
			t := now
			status.StartTime = &t
		}
		return status, true
	}

	return status, false
}
