package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/nergy-se/smartheater/pkg/pricetable"
	"github.com/nergy-se/smartheater/pkg/state"
)

const keyTimeLayout = "20060102T1504Z"

type Kind string

const (
	KindSpan      Kind = "span"
	KindSafeguard Kind = "safeguard"
	KindAssert    Kind = "assert"
)

// JobKey identifies a toggle job. It is derived from day, timestamp and
// state only, so planning the same day twice yields the same keys.
type JobKey string

func NewJobKey(day pricetable.Day, at time.Time, s state.State) JobKey {
	return JobKey(fmt.Sprintf("%s/%s/%s", day, at.UTC().Format(keyTimeLayout), s))
}

func newAssertKey(day pricetable.Day, at time.Time, s state.State) JobKey {
	return JobKey(fmt.Sprintf("%s/assert-%s/%s", day, at.UTC().Format(keyTimeLayout), s))
}

// Day returns the day prefix of the key.
func (k JobKey) Day() string {
	d, _, _ := strings.Cut(string(k), "/")
	return d
}

// IsAssert reports whether the key belongs to a re-assertion job rather than
// a planned span edge.
func (k JobKey) IsAssert() bool {
	return strings.Contains(string(k), "/assert-")
}

func (k JobKey) String() string {
	return string(k)
}

type ToggleEvent struct {
	Day   pricetable.Day
	At    time.Time
	State state.State
	Key   JobKey
	Kind  Kind
}

func NewEvent(day pricetable.Day, at time.Time, s state.State, kind Kind) ToggleEvent {
	key := NewJobKey(day, at, s)
	if kind == KindAssert {
		key = newAssertKey(day, at, s)
	}
	return ToggleEvent{
		Day:   day,
		At:    at,
		State: s,
		Key:   key,
		Kind:  kind,
	}
}

// AssertEvent re-asserts s at the given time. Timestamps are truncated to the
// minute since that is the resolution of the at daemon.
func AssertEvent(day pricetable.Day, at time.Time, s state.State) ToggleEvent {
	return NewEvent(day, at.Truncate(time.Minute), s, KindAssert)
}

func (e ToggleEvent) String() string {
	return fmt.Sprintf("%s@%s", e.State, e.At.Format(time.RFC3339))
}
