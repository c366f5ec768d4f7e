// Package library maintains the track collections of the host application:
// records grouped into crates, populated by scanning media paths with an
// external helper executable. Everything here is ordinary, blocking,
// non-realtime code and is guarded accordingly.
package library

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/slipmat/deckd/internal/observability/telemetry"
)

// AllRecords is the fixed crate holding every imported record.
const AllRecords = "All records"

// Record is one track entry.
type Record struct {
	Pathname string
	Artist   string
	Title    string
}

// Crate is a named, ordered listing of records. Fixed crates are built-in
// and sort ahead of user crates.
type Crate struct {
	name    string
	fixed   bool
	records []*Record
}

// Name returns the crate name.
func (c *Crate) Name() string {
	return c.name
}

// IsFixed reports whether the crate is built-in.
func (c *Crate) IsFixed() bool {
	return c.fixed
}

// Len returns the number of records in the crate.
func (c *Crate) Len() int {
	return len(c.records)
}

// Records returns a copy of the crate listing.
func (c *Crate) Records() []Record {
	out := make([]Record, len(c.records))
	for i, r := range c.records {
		out[i] = *r
	}
	return out
}

func (c *Crate) add(records ...*Record) {
	c.records = append(c.records, records...)
}

func (c *Crate) sortListing() {
	sort.SliceStable(c.records, func(i, j int) bool {
		a, b := c.records[i], c.records[j]
		if a.Artist != b.Artist {
			return a.Artist < b.Artist
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.Pathname < b.Pathname
	})
}

// Library owns all crates and the records behind them.
type Library struct {
	mu      sync.Mutex
	crates  []*Crate
	all     *Crate
	emitter telemetry.Emitter
}

// New returns a library holding only the fixed all-records crate.
func New(emitter telemetry.Emitter) *Library {
	if emitter == nil {
		emitter = telemetry.DefaultEmitter()
	}
	all := &Crate{name: AllRecords, fixed: true}
	return &Library{
		crates:  []*Crate{all},
		all:     all,
		emitter: emitter,
	}
}

// Crates returns the crates in display order: fixed first, then by name.
func (l *Library) Crates() []*Crate {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Crate, len(l.crates))
	copy(out, l.crates)
	return out
}

// Crate looks a crate up by name.
func (l *Library) Crate(name string) (*Crate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.findCrate(name)
}

func (l *Library) findCrate(name string) (*Crate, bool) {
	for _, c := range l.crates {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// useCrate returns the named crate, creating it if necessary.
func (l *Library) useCrate(name string, fixed bool) (*Crate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("crate name is required")
	}
	if c, ok := l.findCrate(name); ok {
		return c, nil
	}
	c := &Crate{name: name, fixed: fixed}
	l.crates = append(l.crates, c)
	l.sortCrates()
	return c, nil
}

func (l *Library) sortCrates() {
	sort.SliceStable(l.crates, func(i, j int) bool {
		a, b := l.crates[i], l.crates[j]
		if a.fixed != b.fixed {
			return a.fixed
		}
		return a.name < b.name
	})
}
