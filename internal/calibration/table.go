package calibration

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Table is a gas-keyed set of calibrations.
//
// Lookups are case-insensitive ("ch4" finds "CH4"). Each gas maps to a single
// shared *Calibration, so devices flowing the same gas use the same instance.
type Table struct {
	mu   sync.RWMutex
	cals map[string]*Calibration
}

// NewTable creates a table holding the given calibrations.
func NewTable(cals ...*Calibration) *Table {
	t := &Table{cals: make(map[string]*Calibration, len(cals))}
	for _, c := range cals {
		t.Set(c)
	}
	return t
}

// Set adds or replaces the calibration for c.Gas().
func (t *Table) Set(c *Calibration) {
	if c == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cals[key(c.Gas())] = c
}

// Get returns the calibration for gas.
func (t *Table) Get(gas string) (*Calibration, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.cals[key(gas)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, gas)
	}
	return c, nil
}

// Lookup returns the calibration for gas, or nil if none is registered.
func (t *Table) Lookup(gas string) *Calibration {
	c, err := t.Get(gas)
	if err != nil {
		return nil
	}
	return c
}

// Delete removes the calibration for gas. Missing gases are ignored.
func (t *Table) Delete(gas string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cals, key(gas))
}

// Gases returns the registered gas names in sorted order.
func (t *Table) Gases() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.cals))
	for _, c := range t.cals {
		out = append(out, c.Gas())
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered calibrations.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cals)
}

func key(gas string) string {
	return strings.ToUpper(strings.TrimSpace(gas))
}
