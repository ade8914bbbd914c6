// Package simulator serves generated patient vitals through a ThingSpeak
// compatible channel API for local development.
package simulator

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"procodus.dev/health-dashboard/pkg/generator"
	"procodus.dev/health-dashboard/pkg/vitals"
)

// Channel holds the rolling history of one simulated device.
type Channel struct {
	ID      string
	ReadKey string
	Name    string

	mu        sync.RWMutex
	vitals    *generator.Vitals
	readings  []vitals.Reading
	capacity  int
	lastEntry int64
	createdAt time.Time
}

func newChannel(id, readKey, name string, gen *generator.Vitals, capacity int, createdAt time.Time) *Channel {
	return &Channel{
		ID:        id,
		ReadKey:   readKey,
		Name:      name,
		vitals:    gen,
		readings:  make([]vitals.Reading, 0, capacity),
		capacity:  capacity,
		createdAt: createdAt,
	}
}

// Append generates the reading taken at t and drops the oldest one when the
// history is full.
func (c *Channel) Append(t time.Time) vitals.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastEntry++
	r := c.vitals.Reading(c.lastEntry, t)
	if len(c.readings) == c.capacity {
		copy(c.readings, c.readings[1:])
		c.readings = c.readings[:len(c.readings)-1]
	}
	c.readings = append(c.readings, r)
	return r
}

// Query selects readings oldest first. With both bounds set the window is
// [start, end]; results > 0 then keeps only the newest results readings.
func (c *Channel) Query(start, end time.Time, results int) []vitals.Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lo, hi := 0, len(c.readings)
	if !start.IsZero() {
		lo = sort.Search(len(c.readings), func(i int) bool {
			return !c.readings[i].CreatedAt.Before(start)
		})
	}
	if !end.IsZero() {
		hi = sort.Search(len(c.readings), func(i int) bool {
			return c.readings[i].CreatedAt.After(end)
		})
	}
	if lo >= hi {
		return []vitals.Reading{}
	}

	out := c.readings[lo:hi]
	if results > 0 && len(out) > results {
		out = out[len(out)-results:]
	}
	return append([]vitals.Reading(nil), out...)
}

// LastEntryID returns the id of the newest reading.
func (c *Channel) LastEntryID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastEntry
}

// channelInfo is the "channel" object of a feeds.json response.
type channelInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	LastEntryID int64  `json:"last_entry_id"`
	Field1      string `json:"field1"`
	Field2      string `json:"field2"`
	Field3      string `json:"field3"`
	Field4      string `json:"field4"`
	Field5      string `json:"field5"`
	Field6      string `json:"field6"`
}

func (c *Channel) info(now time.Time) channelInfo {
	id, _ := strconv.ParseInt(c.ID, 10, 64)
	names := make([]string, len(vitals.Schema))
	for i, spec := range vitals.Schema {
		names[i] = spec.Name
	}
	return channelInfo{
		ID:          id,
		Name:        c.Name,
		CreatedAt:   c.createdAt.UTC().Format(time.RFC3339),
		UpdatedAt:   now.UTC().Format(time.RFC3339),
		LastEntryID: c.LastEntryID(),
		Field1:      names[0],
		Field2:      names[1],
		Field3:      names[2],
		Field4:      names[3],
		Field5:      names[4],
		Field6:      names[5],
	}
}

// feedEntry renders a reading the way ThingSpeak does, field values as strings.
func feedEntry(r vitals.Reading) map[string]any {
	entry := map[string]any{
		"created_at": r.CreatedAt.UTC().Format(time.RFC3339),
		"entry_id":   r.EntryID,
	}
	for _, spec := range vitals.Schema {
		if v, ok := r.Value(spec.Field); ok {
			entry[spec.FeedKey] = strconv.FormatFloat(v, 'f', -1, 64)
		} else {
			entry[spec.FeedKey] = nil
		}
	}
	return entry
}
