package correlate

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"computemesh/internal/domain"
	"computemesh/internal/infra/telemetry"
)

type entry struct {
	owner     domain.Identity
	slot      *Slot
	createdAt time.Time
}

// Table maps broker-generated command ids to pending result slots.
type Table struct {
	logger  *zap.Logger
	metrics domain.Metrics
	newID   func() string

	mu      sync.Mutex
	entries map[string]entry
}

type TableOptions struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
	// NewID overrides id generation; tests use it to force collisions.
	NewID func() string
}

func NewTable(opts TableOptions) *Table {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Table{
		logger:  logger.Named("correlate"),
		metrics: opts.Metrics,
		newID:   newID,
		entries: make(map[string]entry),
	}
}

// Allocate creates an unresolved slot owned by owner and returns its command id.
func (t *Table) Allocate(owner domain.Identity) (string, *Slot) {
	slot := newSlot()
	t.mu.Lock()
	id := t.newID()
	for {
		if _, exists := t.entries[id]; !exists {
			break
		}
		id = t.newID()
	}
	t.entries[id] = entry{owner: owner, slot: slot, createdAt: time.Now()}
	pending := len(t.entries)
	t.mu.Unlock()

	t.observePending(pending)
	return id, slot
}

// Resolve completes the command with a reply. It reports false when the id is
// unknown, already resolved, or was cancelled.
func (t *Table) Resolve(commandID string, reply domain.Reply) bool {
	e, ok, pending := t.take(commandID)
	if !ok {
		t.logger.Warn("reply for unknown or already resolved command",
			telemetry.EventField(telemetry.EventUnknownReply),
			telemetry.CommandIDField(commandID),
			telemetry.IdentityField(reply.From),
		)
		return false
	}
	t.observePending(pending)
	if !e.slot.resolve(Outcome{Reply: reply}) {
		t.logger.Warn("command already resolved", telemetry.CommandIDField(commandID))
		return false
	}
	return true
}

// Cancel resolves the command with err.
func (t *Table) Cancel(commandID string, err error) bool {
	e, ok, pending := t.take(commandID)
	if !ok {
		return false
	}
	t.observePending(pending)
	return e.slot.resolve(Outcome{Err: err})
}

// CancelAllForOwner cancels every pending command owned by owner and returns
// how many were cancelled.
func (t *Table) CancelAllForOwner(owner domain.Identity, err error) int {
	t.mu.Lock()
	var slots []*Slot
	for id, e := range t.entries {
		if e.owner != owner {
			continue
		}
		delete(t.entries, id)
		slots = append(slots, e.slot)
	}
	pending := len(t.entries)
	t.mu.Unlock()

	if len(slots) == 0 {
		return 0
	}
	t.observePending(pending)
	cancelled := 0
	for _, slot := range slots {
		if slot.resolve(Outcome{Err: err}) {
			cancelled++
		}
	}
	t.logger.Info("cancelled pending commands",
		telemetry.EventField(telemetry.EventOwnerCancel),
		telemetry.IdentityField(owner),
		zap.Int("count", cancelled),
	)
	return cancelled
}

// Len returns the number of pending commands.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Has reports whether commandID is still pending.
func (t *Table) Has(commandID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[commandID]
	return ok
}

func (t *Table) take(commandID string) (entry, bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[commandID]
	if ok {
		delete(t.entries, commandID)
	}
	return e, ok, len(t.entries)
}

func (t *Table) observePending(count int) {
	if t.metrics == nil {
		return
	}
	t.metrics.SetPendingCommands(count)
}
