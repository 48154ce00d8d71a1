// Package iorace detects commands that access the same object location in overlapping
// time windows with conflicting intent.
package iorace

import (
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

type access struct {
	cmd      command.Command
	interval Interval
	hash     objectid.ContentHash
}

type locationRecord struct {
	reads  []*access
	writes []*access
}

func (r *locationRecord) endedBefore(t time.Time) bool {
	for _, a := range r.reads {
		if !a.interval.EndedBefore(t) {
			return false
		}
	}
	for _, a := range r.writes {
		if !a.interval.EndedBefore(t) {
			return false
		}
	}
	return true
}

type running struct {
	start time.Time
	reads map[objectid.Location]*access
}

type reportKey struct {
	kind     Kind
	location objectid.Location
	a, b     command.Command
}

// Monitor records, per location, when commands read and wrote it.
type Monitor struct {
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	locations map[objectid.Location]*locationRecord
	running   map[command.Command]*running
	reported  map[reportKey]struct{}
	watermark time.Time
}

// NewMonitor returns an empty monitor using the wall clock.
func NewMonitor() *Monitor {
	return &Monitor{
		logger:    slog.Default(),
		now:       time.Now,
		locations: make(map[objectid.Location]*locationRecord),
		running:   make(map[command.Command]*running),
		reported:  make(map[reportKey]struct{}),
	}
}

// WithLogger sets the logger races are reported to.
func (m *Monitor) WithLogger(logger *slog.Logger) *Monitor {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithClock replaces the time source.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	if now != nil {
		m.now = now
	}
	return m
}

// CommandStarted opens a read window for every distinct declared input of cmd.
// A location declared twice is reported as DuplicatedInput.
func (m *Monitor) CommandStarted(cmd command.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	run := &running{start: now, reads: make(map[objectid.Location]*access)}
	m.running[cmd] = run

	var violations Violations
	for _, loc := range cmd.InputFiles() {
		if _, dup := run.reads[loc]; dup {
			violations = m.report(violations, DuplicatedInput, loc, cmd, nil)
			continue
		}
		a := &access{cmd: cmd, interval: Interval{Start: now}}
		rec := m.record(loc)
		rec.reads = append(rec.reads, a)
		run.reads[loc] = a
	}
	return violations.orNil()
}

// CommandEnded closes the read windows of cmd and checks the writes and reads declared
// by result against other commands' windows.
func (m *Monitor) CommandEnded(cmd command.Command, result *command.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	run, ok := m.running[cmd]
	if !ok {
		run = &running{start: now}
	}
	delete(m.running, cmd)
	for _, a := range run.reads {
		a.interval.End = now
	}
	window := Interval{Start: run.start, End: now}

	var violations Violations
	if result != nil {
		for _, loc := range result.SortedOutputs() {
			violations = m.checkWrite(violations, cmd, loc, result.OutputObjects[loc], window)
		}
		for _, loc := range result.SortedInputDependencies() {
			violations = m.checkRead(violations, cmd, loc, run, window)
		}
	}

	m.collect()
	return violations.orNil()
}

func (m *Monitor) checkWrite(v Violations, cmd command.Command, loc objectid.Location, h objectid.ContentHash, window Interval) Violations {
	rec := m.record(loc)
	for _, r := range rec.reads {
		if r.cmd == cmd || !r.interval.Overlaps(window) {
			continue
		}
		kind := WriteDuringRead
		if r.interval.Start.After(window.Start) {
			kind = ReadDuringWrite
		}
		v = m.report(v, kind, loc, cmd, r.cmd)
	}
	for _, w := range rec.writes {
		if w.cmd == cmd || w.hash == h || !w.interval.Overlaps(window) {
			continue
		}
		v = m.report(v, ConflictingOutput, loc, cmd, w.cmd)
	}
	rec.writes = append(rec.writes, &access{cmd: cmd, interval: window, hash: h})
	return v
}

func (m *Monitor) checkRead(v Violations, cmd command.Command, loc objectid.Location, run *running, window Interval) Violations {
	rec := m.record(loc)
	for _, w := range rec.writes {
		if w.cmd == cmd || !w.interval.Overlaps(window) {
			continue
		}
		v = m.report(v, ReadDuringWrite, loc, w.cmd, cmd)
	}
	if _, declared := run.reads[loc]; !declared {
		rec.reads = append(rec.reads, &access{cmd: cmd, interval: window})
	}
	return v
}

// report records a race unless the same kind, location and command pair was already
// reported. Read/write races are keyed by writer and reader regardless of which side
// detected them; conflicting outputs by the unordered pair.
func (m *Monitor) report(v Violations, kind Kind, loc objectid.Location, cmd, other command.Command) Violations {
	key := reportKey{kind: kind, location: loc, a: cmd, b: other}
	switch kind {
	case WriteDuringRead, ReadDuringWrite:
		key.kind = ReadDuringWrite
	case ConflictingOutput:
		if _, dup := m.reported[reportKey{kind: kind, location: loc, a: other, b: cmd}]; dup {
			return v
		}
	}
	if _, dup := m.reported[key]; dup {
		return v
	}
	m.reported[key] = struct{}{}

	race := &RaceError{Kind: kind, Location: loc, Command: cmd, Other: other}
	attrs := []any{
		logfields.RaceKind(kind.String()),
		logfields.Location(loc.String()),
		logfields.Command(cmd.Title()),
	}
	if other != nil {
		attrs = append(attrs, logfields.OtherCommand(other.Title()))
	}
	m.logger.Error("I/O race detected", attrs...)
	return append(v, race)
}

func (m *Monitor) record(loc objectid.Location) *locationRecord {
	rec, ok := m.locations[loc]
	if !ok {
		rec = &locationRecord{}
		m.locations[loc] = rec
	}
	return rec
}

// collect drops locations no running command can overlap with any more.
func (m *Monitor) collect() {
	var earliest time.Time
	for _, run := range m.running {
		if earliest.IsZero() || run.start.Before(earliest) {
			earliest = run.start
		}
	}
	if earliest.IsZero() {
		earliest = m.now().Add(time.Nanosecond)
	}
	if !earliest.After(m.watermark) {
		return
	}
	m.watermark = earliest

	for loc, rec := range m.locations {
		if rec.endedBefore(earliest) {
			delete(m.locations, loc)
		}
	}
	for key := range m.reported {
		if _, ok := m.locations[key.location]; !ok {
			delete(m.reported, key)
		}
	}
}

// TrackedLocations returns the number of locations with retained windows.
func (m *Monitor) TrackedLocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locations)
}
