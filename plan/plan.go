// Package plan models the declarative partition plan: one entry per
// partition, carrying both the table-slot index and, through the order of
// appearance, the physical creation order on the device.
package plan

import (
	"fmt"
	"sort"
)

type Filesystem string

const (
	FSNone  Filesystem = "none"
	FSFat12 Filesystem = "fat12"
	FSFat16 Filesystem = "fat16"
	FSFat32 Filesystem = "fat32"
	FSNtfs  Filesystem = "ntfs"
	FSExt2  Filesystem = "ext2"
	FSExt3  Filesystem = "ext3"
	FSExt4  Filesystem = "ext4"
)

// Filesystems is the closed set of supported filesystem tokens.
var Filesystems = []Filesystem{FSNone, FSFat12, FSFat16, FSFat32, FSNtfs, FSExt2, FSExt3, FSExt4}

func ParseFilesystem(s string) (Filesystem, error) {
	for _, fs := range Filesystems {
		if s == string(fs) {
			return fs, nil
		}
	}
	return "", fmt.Errorf("unknown filesystem %q", s)
}

// FlagSet holds GPT attribute bits to set on a partition, one bit per
// flag value in [0,63].
type FlagSet uint64

func (f *FlagSet) Add(bit int) error {
	if bit < 0 || bit > 63 {
		return fmt.Errorf("flag %d out of range [0,63]", bit)
	}
	*f |= 1 << uint(bit)
	return nil
}

func (f FlagSet) Has(bit int) bool {
	if bit < 0 || bit > 63 {
		return false
	}
	return f&(1<<uint(bit)) != 0
}

// Bits returns the set flag values in ascending order.
func (f FlagSet) Bits() []int {
	var bits []int
	for i := 0; i < 64; i++ {
		if f.Has(i) {
			bits = append(bits, i)
		}
	}
	return bits
}

// Spec is one plan entry. Size is a concrete byte count, or zero meaning
// "consume all space not claimed by other entries".
type Spec struct {
	SlotIndex  int
	Name       string
	TypeID     string
	Filesystem Filesystem
	Size       uint64
	Flags      FlagSet
}

// WantsRemaining reports whether this entry's size is the REMAINING
// sentinel, resolved only after all other sizes are fixed.
func (s Spec) WantsRemaining() bool {
	return s.Size == Remaining
}

// Plan is an ordered sequence of specs. The order of the slice is the
// physical creation order, intentionally decoupled from SlotIndex.
type Plan struct {
	Specs []Spec
}

// BySlot returns the spec holding the given table slot, or nil.
func (p *Plan) BySlot(slot int) *Spec {
	for i := range p.Specs {
		if p.Specs[i].SlotIndex == slot {
			return &p.Specs[i]
		}
	}
	return nil
}

// SlotOrder returns the specs sorted by slot index, leaving the plan's
// physical order untouched.
func (p *Plan) SlotOrder() []Spec {
	out := make([]Spec, len(p.Specs))
	copy(out, p.Specs)
	sort.Slice(out, func(i, j int) bool { return out[i].SlotIndex < out[j].SlotIndex })
	return out
}
