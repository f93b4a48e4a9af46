// Package scheduler implements the daily event scheduler (spec §6.4,
// SPEC_FULL §10.6): a sorted list of {time, action} events persisted as
// events.json and loaded at startup, plus a small policy file (quiet
// hours, retry backoff) read once via github.com/pelletier/go-toml/v2 —
// the pack's TOML library, exercised here since the events themselves are
// JSON per spec §6.4 but the station's operational policy is more
// naturally an edited-by-hand TOML file. Grounded on the original's
// scheduler/mod.rs load-sort-arm loop.
package scheduler

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/rand12345/beaglebone-v2h/errcode"
)

// Action is one of the five recognized event actions (spec §6.4).
type Action string

const (
	ActionCharge    Action = "Charge"
	ActionDischarge Action = "Discharge"
	ActionSleep     Action = "Sleep"
	ActionV2h       Action = "V2h"
	ActionEco       Action = "Eco"
)

func validAction(a Action) bool {
	switch a {
	case ActionCharge, ActionDischarge, ActionSleep, ActionV2h, ActionEco:
		return true
	default:
		return false
	}
}

// Event is one scheduled action.
type Event struct {
	Time   string `json:"time"`
	Action Action `json:"action"`
}

// Policy is the operational policy file (quiet_hours, retry backoff),
// stored separately from events.json in TOML.
type Policy struct {
	QuietHoursStart string        `toml:"quiet_hours_start"`
	QuietHoursEnd   string        `toml:"quiet_hours_end"`
	RetryBackoff    time.Duration `toml:"retry_backoff"`
}

// Scheduler holds the loaded events and policy, sorted by time.
type Scheduler struct {
	mu         sync.Mutex
	eventsPath string
	events     []Event
	policy     Policy
}

// Load reads events.json (sorting by time) and an optional policy.toml.
func Load(eventsPath, policyPath string) (*Scheduler, error) {
	s := &Scheduler{eventsPath: eventsPath}

	if data, err := os.ReadFile(eventsPath); err == nil {
		var evs []Event
		if err := json.Unmarshal(data, &evs); err != nil {
			return nil, &errcode.E{C: errcode.ConfigParse, Op: "events.json", Err: err}
		}
		s.events = sortedEvents(evs)
	} else if !os.IsNotExist(err) {
		return nil, &errcode.E{C: errcode.FileAccess, Op: "events.json", Err: err}
	}

	if policyPath != "" {
		if data, err := os.ReadFile(policyPath); err == nil {
			if err := toml.Unmarshal(data, &s.policy); err != nil {
				return nil, &errcode.E{C: errcode.ConfigParse, Op: "policy.toml", Err: err}
			}
		} else if !os.IsNotExist(err) {
			return nil, &errcode.E{C: errcode.FileAccess, Op: "policy.toml", Err: err}
		}
	}

	return s, nil
}

func sortedEvents(evs []Event) []Event {
	out := make([]Event, len(evs))
	copy(out, evs)
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// Events returns a copy of the currently loaded, sorted events.
func (s *Scheduler) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// SetEvents validates, sorts, stores, and persists a new event list.
func (s *Scheduler) SetEvents(evs []Event) error {
	for _, e := range evs {
		if !validAction(e.Action) {
			return &errcode.E{C: errcode.ConfigParse, Op: "SetEvents", Msg: "unrecognized action " + string(e.Action)}
		}
		if _, err := time.Parse("15:04:05", e.Time); err != nil {
			return &errcode.E{C: errcode.ConfigParse, Op: "SetEvents", Err: err}
		}
	}

	sorted := sortedEvents(evs)

	data, err := json.Marshal(sorted)
	if err != nil {
		return &errcode.E{C: errcode.ConfigParse, Op: "SetEvents", Err: err}
	}
	if err := os.WriteFile(s.eventsPath, data, 0o644); err != nil {
		return &errcode.E{C: errcode.FileAccess, Op: "SetEvents", Err: err}
	}

	s.mu.Lock()
	s.events = sorted
	s.mu.Unlock()
	return nil
}

// Policy returns the loaded operational policy.
func (s *Scheduler) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Next finds the soonest event strictly after `now` (wrapping to the
// first event of the next day if none remain today), and the duration to
// sleep until it fires — the "next-event" cadence from spec §5's
// concurrency table.
func (s *Scheduler) Next(now time.Time) (Event, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return Event{}, 0, false
	}

	cur := now.Format("15:04:05")
	for _, e := range s.events {
		if e.Time > cur {
			t, _ := time.ParseInLocation("15:04:05", e.Time, now.Location())
			target := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location())
			return e, target.Sub(now), true
		}
	}

	first := s.events[0]
	t, _ := time.ParseInLocation("15:04:05", first.Time, now.Location())
	target := time.Date(now.Year(), now.Month(), now.Day()+1, t.Hour(), t.Minute(), t.Second(), 0, now.Location())
	return first, target.Sub(now), true
}
