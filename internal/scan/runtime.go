package scan

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/longshot/internal/allocator"
	"github.com/atmx/longshot/internal/model"
)

// Runtime holds what the last cycle learned that is not persisted: the live
// account total and the sizing it implied. The dashboard reads it.
type Runtime struct {
	mu       sync.RWMutex
	snapshot RuntimeSnapshot
}

// RuntimeSnapshot is a copy of Runtime's state.
type RuntimeSnapshot struct {
	LastScan        *model.ScanReport
	PerOrderUSD     decimal.Decimal
	AccountTotalUSD *decimal.Decimal // nil until a live balance is known
	LastError       string
	LastErrorAt     time.Time
}

// NewRuntime creates an empty runtime view.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// Snapshot returns a copy safe to read without locking.
func (r *Runtime) Snapshot() RuntimeSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.snapshot
	if s.LastScan != nil {
		ls := *s.LastScan
		s.LastScan = &ls
	}
	if s.AccountTotalUSD != nil {
		v := *s.AccountTotalUSD
		s.AccountTotalUSD = &v
	}
	return s
}

func (r *Runtime) recordScan(report model.ScanReport, capital allocator.CapitalParams) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := capital.AccountTotalUSD
	r.snapshot.LastScan = &report
	r.snapshot.PerOrderUSD = capital.PerOrderUSD()
	r.snapshot.AccountTotalUSD = &total
	r.snapshot.LastError = ""
	r.snapshot.LastErrorAt = time.Time{}
}

func (r *Runtime) recordError(err error, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshot.LastError = err.Error()
	r.snapshot.LastErrorAt = at
}
