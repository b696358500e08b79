/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package booking runs reservation commands and waiting-list promotion.
// Every command touching a resource executes inside that resource's
// critical section; different resources never share a lock.
package booking

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/clock"
	"github.com/friendsincode/grimnir_reserve/internal/conflict"
	"github.com/friendsincode/grimnir_reserve/internal/ledger"
	"github.com/friendsincode/grimnir_reserve/internal/models"
	"github.com/friendsincode/grimnir_reserve/internal/waitlist"
)

// Ledger is the TimeSlotLedger the engine mutates.
type Ledger interface {
	conflict.Ledger
	IsFree(resourceID string, start, end time.Time, buffer time.Duration) bool
	Release(resourceID, reservationID string) (models.Reservation, ledger.FreedInterval, error)
	Archive(r models.Reservation)
	Get(reservationID string) (models.Reservation, bool)
	Active(resourceID string) []models.Reservation
}

// Queue is the WaitingQueue the engine mutates.
type Queue interface {
	Enqueue(e models.WaitingEntry) error
	Update(e models.WaitingEntry) error
	Get(entryID string) (models.WaitingEntry, bool)
	Active(resourceID string) []models.WaitingEntry
	Resources() []string
	Rank(resourceID string) []models.QueuedEntry
	Position(entryID string) (int, bool)
	PeekEligible(resourceID string, freed models.Interval, now time.Time, opts waitlist.Eligibility) (waitlist.Candidate, []models.WaitingEntry, bool)
}

// Timers is the ConfirmationTimer.
type Timers interface {
	Schedule(entryID string, deadline time.Time, onExpire func()) error
	Cancel(entryID string) bool
}

// Journal records state changes for persistence. Implementations must not block.
type Journal interface {
	SaveReservation(r models.Reservation)
	SaveEntry(e models.WaitingEntry)
}

type nopJournal struct{}

func (nopJournal) SaveReservation(models.Reservation) {}
func (nopJournal) SaveEntry(models.WaitingEntry)      {}

// Config holds engine policy.
type Config struct {
	// DefaultConfirmationMinutes applies when a join request leaves the limit unset.
	DefaultConfirmationMinutes int
	// AlternativeMinOverlap is the freed/requested duration ratio a
	// time-flexible entry needs to be eligible.
	AlternativeMinOverlap float64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{DefaultConfirmationMinutes: 30, AlternativeMinOverlap: 1.0}
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Ledger    Ledger
	Queue     Queue
	Timers    Timers
	Detector  *conflict.Detector
	Publisher conflict.Publisher
	Journal   Journal
	Clock     clock.Clock
	Logger    zerolog.Logger
}

// Engine is the conflict detector and promotion engine behind the commands.
type Engine struct {
	cfg       Config
	ledger    Ledger
	queue     Queue
	timers    Timers
	detector  *conflict.Detector
	publisher conflict.Publisher
	journal   Journal
	clock     clock.Clock
	logger    zerolog.Logger
	locks     *LockMap
}

// New builds an engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.DefaultConfirmationMinutes <= 0 {
		cfg.DefaultConfirmationMinutes = DefaultConfig().DefaultConfirmationMinutes
	}
	if cfg.AlternativeMinOverlap <= 0 {
		cfg.AlternativeMinOverlap = DefaultConfig().AlternativeMinOverlap
	}
	journal := deps.Journal
	if journal == nil {
		journal = nopJournal{}
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Engine{
		cfg:       cfg,
		ledger:    deps.Ledger,
		queue:     deps.Queue,
		timers:    deps.Timers,
		detector:  deps.Detector,
		publisher: deps.Publisher,
		journal:   journal,
		clock:     clk,
		logger:    deps.Logger.With().Str("component", "booking_engine").Logger(),
		locks:     NewLockMap(),
	}
}

// Locks exposes the per-resource lock map for inspection.
func (e *Engine) Locks() *LockMap {
	return e.locks
}

// vacancy is one freed interval being offered to waiting entries.
type vacancy struct {
	freed         models.Interval
	reservationID string
	queuedAt      time.Time
	tried         map[string]struct{}
}

func (v *vacancy) skip(entryID string) bool {
	_, ok := v.tried[entryID]
	return ok
}

func (v *vacancy) markTried(entryID string) {
	v.tried[entryID] = struct{}{}
}

// resourceState is what the lock of one resource guards besides the ledger
// book and queue: the vacancy currently on offer and the ones behind it.
type resourceState struct {
	mu      sync.Mutex
	id      string
	current *vacancy
	offered string
	pending []*vacancy
}

// LockMap maps resource ids to their critical section. Entries are created on
// first use and never removed.
type LockMap struct {
	mu        sync.Mutex
	resources map[string]*resourceState
}

// NewLockMap creates an empty lock map.
func NewLockMap() *LockMap {
	return &LockMap{resources: make(map[string]*resourceState)}
}

func (l *LockMap) state(resourceID string) *resourceState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.resources[resourceID]
	if !ok {
		st = &resourceState{id: resourceID}
		l.resources[resourceID] = st
	}
	return st
}

// ResourceStatus is a point-in-time view of one resource's promotion state.
type ResourceStatus struct {
	ResourceID       string           `json:"resource_id"`
	OfferedEntryID   string           `json:"offered_entry_id,omitempty"`
	CurrentVacancy   *models.Interval `json:"current_vacancy,omitempty"`
	PendingVacancies int              `json:"pending_vacancies"`
}

// Status reports the promotion state of a resource.
func (l *LockMap) Status(resourceID string) ResourceStatus {
	st := l.state(resourceID)
	st.mu.Lock()
	defer st.mu.Unlock()
	status := ResourceStatus{
		ResourceID:       resourceID,
		OfferedEntryID:   st.offered,
		PendingVacancies: len(st.pending),
	}
	if st.current != nil {
		freed := st.current.freed
		status.CurrentVacancy = &freed
	}
	return status
}

// Resources lists resource ids that have been locked at least once.
func (l *LockMap) Resources() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.resources))
	for id := range l.resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// with runs fn inside the critical section of resourceID.
func (e *Engine) with(resourceID string, fn func(st *resourceState) error) error {
	st := e.locks.state(resourceID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return fn(st)
}

// GetReservation returns a reservation in any status.
func (e *Engine) GetReservation(reservationID string) (models.Reservation, error) {
	r, ok := e.ledger.Get(reservationID)
	if !ok {
		return models.Reservation{}, models.ErrReservationNotFound
	}
	return r, nil
}

// Reservations returns the confirmed reservations of a resource in start order.
func (e *Engine) Reservations(resourceID string) []models.Reservation {
	return e.ledger.Active(resourceID)
}

// GetEntry returns a waiting entry with its current display position. The
// position is zero for entries no longer queued.
func (e *Engine) GetEntry(entryID string) (models.QueuedEntry, error) {
	entry, ok := e.queue.Get(entryID)
	if !ok {
		return models.QueuedEntry{}, models.ErrEntryNotFound
	}
	pos, _ := e.queue.Position(entryID)
	return models.QueuedEntry{WaitingEntry: entry, Position: pos}, nil
}

// Rank returns the display ranking of a resource's queue from the last snapshot.
func (e *Engine) Rank(resourceID string) []models.QueuedEntry {
	return e.queue.Rank(resourceID)
}

// Availability is the answer to a free-slot query.
type Availability struct {
	ResourceID string               `json:"resource_id"`
	Start      time.Time            `json:"start"`
	End        time.Time            `json:"end"`
	Free       bool                 `json:"free"`
	Conflicts  []models.Reservation `json:"conflicts"`
}

// Availability reports whether [start,end) is bookable on a resource.
func (e *Engine) Availability(resourceID string, start, end time.Time) (Availability, error) {
	if resourceID == "" {
		return Availability{}, models.Invalid("resource id required")
	}
	if !end.After(start) {
		return Availability{}, models.Invalid("end must be after start")
	}
	buffer := e.detector.Rules(resourceID).Buffer
	blocking := e.ledger.Conflicts(resourceID, start, end, buffer)
	if blocking == nil {
		blocking = []models.Reservation{}
	}
	return Availability{
		ResourceID: resourceID,
		Start:      start,
		End:        end,
		Free:       len(blocking) == 0,
		Conflicts:  blocking,
	}, nil
}
