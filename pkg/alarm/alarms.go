package alarm

import (
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
)

// ActiveAlarms remembers which degraded days the operator has been told about
// so each one is reported once.
type ActiveAlarms struct {
	activeAlarms []string
	sync.RWMutex
}

// Add adds string to alarm list and returns true if it was added. returns false if it already exists.
func (a *ActiveAlarms) Add(alarm string) bool {
	a.Lock()
	defer a.Unlock()
	if slices.Contains(a.activeAlarms, alarm) {
		return false
	}

	a.activeAlarms = append(a.activeAlarms, alarm)
	return true
}

// Remove returns true if alarm was active.
func (a *ActiveAlarms) Remove(alarm string) bool {
	a.Lock()
	defer a.Unlock()
	i := slices.Index(a.activeAlarms, alarm)
	if i < 0 {
		return false
	}
	a.activeAlarms = slices.Delete(a.activeAlarms, i, i+1)
	return true
}

func (a *ActiveAlarms) Active() []string {
	a.RLock()
	defer a.RUnlock()
	return slices.Clone(a.activeAlarms)
}

func (a *ActiveAlarms) Clear() bool {
	hasActive := false
	a.Lock()
	if len(a.activeAlarms) > 0 {
		hasActive = true
		a.activeAlarms = nil
	}
	a.Unlock()
	return hasActive
}

// Sync makes days the set of active alarms. New days are logged as errors and
// days that recovered are logged once as cleared.
func (a *ActiveAlarms) Sync(days []string) (raised, cleared []string) {
	for _, day := range days {
		if a.Add(day) {
			raised = append(raised, day)
			logrus.WithField("day", day).Error("alarm: schedule degraded, heater may not switch as planned. Run reconcile or check the scheduler")
		}
	}
	for _, day := range a.Active() {
		if !slices.Contains(days, day) && a.Remove(day) {
			cleared = append(cleared, day)
			logrus.WithField("day", day).Info("alarm: schedule recovered")
		}
	}
	return raised, cleared
}
