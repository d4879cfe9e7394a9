// Package layout resolves a partition plan against a device's capacity,
// turning symbolic sizes into concrete byte counts while keeping the two
// independent orderings (physical creation order and table-slot index)
// each entry carries.
package layout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jnoliv/mkusb-part/constants"
	"github.com/jnoliv/mkusb-part/plan"
	"github.com/jnoliv/mkusb-part/types"
)

// Entry binds one plan spec to its concrete size and physical creation
// position (1-based).
type Entry struct {
	plan.Spec
	SizeBytes        uint64
	PhysicalPosition int
}

// FromRemaining reports whether this entry's size was resolved from the
// REMAINING sentinel rather than taken verbatim from the plan.
func (e Entry) FromRemaining() bool {
	return e.Spec.WantsRemaining()
}

// Resolved is the read-only result of resolving a plan: entries in
// physical creation order, all sizes concrete, capacity fully accounted
// for. It is never mutated; a resize starts a fresh resolution.
type Resolved struct {
	Entries  []Entry
	Capacity uint64
	Overhead uint64
}

// ReservedOverhead is the capacity set aside for the partition table and
// alignment padding: one mebibyte each for the primary and backup GPT
// areas plus one per partition of alignment slack.
func ReservedOverhead(partitions int) uint64 {
	return uint64(partitions+2) * constants.MiB
}

// Resolve computes concrete sizes for every plan entry. Non-REMAINING
// sizes are taken verbatim; the single REMAINING entry, if present,
// receives whatever capacity the fixed entries and the reserved overhead
// leave over.
func Resolve(p *plan.Plan, capacity uint64) (*Resolved, error) {
	n := len(p.Specs)
	if n == 0 {
		return nil, &types.InvalidPlanError{Reason: "plan has no entries"}
	}

	// Slot indices must be a permutation of 1..N.
	seen := make(map[int]bool, n)
	for _, s := range p.Specs {
		if s.SlotIndex < 1 || s.SlotIndex > n {
			return nil, &types.InvalidPlanError{
				Reason: fmt.Sprintf("slot index %d outside 1..%d", s.SlotIndex, n),
			}
		}
		if seen[s.SlotIndex] {
			return nil, &types.InvalidPlanError{
				Reason: fmt.Sprintf("duplicate slot index %d", s.SlotIndex),
			}
		}
		seen[s.SlotIndex] = true
	}

	overhead := ReservedOverhead(n)
	if overhead > capacity {
		return nil, &types.InvalidPlanError{
			Reason: fmt.Sprintf("device holds %d bytes, below the %d reserved for the table", capacity, overhead),
		}
	}

	remaining := -1
	var fixed uint64
	for i, s := range p.Specs {
		if s.WantsRemaining() {
			if remaining >= 0 {
				return nil, &types.InvalidPlanError{
					Reason: "more than one entry requests the remaining space",
				}
			}
			remaining = i
			continue
		}
		// Checked against the budget one entry at a time so the running
		// sum can never wrap around.
		if s.Size > capacity-overhead-fixed {
			return nil, &types.InvalidPlanError{
				Reason: fmt.Sprintf("entry %q pushes the plan past the %d bytes the device holds (%d reserved)",
					s.Name, capacity, overhead),
			}
		}
		fixed += s.Size
	}

	r := &Resolved{Capacity: capacity, Overhead: overhead}
	for i, s := range p.Specs {
		size := s.Size
		if i == remaining {
			size = capacity - fixed - overhead
			if size == 0 {
				return nil, &types.InvalidPlanError{
					Reason: "no capacity left for the remaining-space entry",
				}
			}
		}
		r.Entries = append(r.Entries, Entry{
			Spec:             s,
			SizeBytes:        size,
			PhysicalPosition: i + 1,
		})
	}
	return r, nil
}

// BySlot returns the entry holding the given table slot, or nil.
func (r *Resolved) BySlot(slot int) *Entry {
	for i := range r.Entries {
		if r.Entries[i].SlotIndex == slot {
			return &r.Entries[i]
		}
	}
	return nil
}

// ByName returns the first entry with the given name, or nil.
func (r *Resolved) ByName(name string) *Entry {
	for i := range r.Entries {
		if r.Entries[i].Name == name {
			return &r.Entries[i]
		}
	}
	return nil
}

// SlotOrder returns the entries sorted by slot index. Filesystem creation
// iterates in this order, the table writer in physical order.
func (r *Resolved) SlotOrder() []Entry {
	out := make([]Entry, len(r.Entries))
	copy(out, r.Entries)
	sort.Slice(out, func(i, j int) bool { return out[i].SlotIndex < out[j].SlotIndex })
	return out
}

// PlanText serializes the resolved layout back to plan-text form with all
// sizes concrete. Re-parsing it yields an equivalent plan.
func (r *Resolved) PlanText() string {
	var b strings.Builder
	for _, e := range r.Entries {
		s := e.Spec
		s.Size = e.SizeBytes
		b.WriteString(s.Line())
		b.WriteString("\n")
	}
	return b.String()
}
