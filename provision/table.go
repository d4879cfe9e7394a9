// Package provision sequences the privileged, order-dependent operations
// that turn a resolved layout into a bootable device: table write,
// filesystem creation, content staging, bootloader installation. Every
// stage runs to completion before the next; nothing here rolls back.
package provision

import (
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go"

	"github.com/jnoliv/mkusb-part/block"
	"github.com/jnoliv/mkusb-part/layout"
	"github.com/jnoliv/mkusb-part/types"
)

const sectorSize = 512

// Table writes the partition table described by the resolved layout.
type Table struct {
	Device string
	Layout *layout.Resolved
	Paths  *block.Paths
	Runner types.Runner
	Logger *types.MkusbLogger
}

// Wipe destroys the device's existing partition table. Irreversible; the
// mounted-partitions precondition must have been checked already.
func (t *Table) Wipe() error {
	t.Logger.Logger.Info().Str("device", t.Device).Msg("Wiping partition table")
	if _, err := t.Runner.Run("sgdisk", "--zap-all", t.Device); err != nil {
		return fmt.Errorf("wiping table on %s: %w", t.Device, err)
	}
	return nil
}

// Create issues one table-writer operation per entry, in physical creation
// order, each starting at the next available offset. The entry resolved
// from REMAINING consumes the rest of the device when it is physically
// last; anywhere else its resolved concrete size is written instead.
func (t *Table) Create() error {
	for i, e := range t.Layout.Entries {
		sizeArg := fmt.Sprintf("+%d", e.SizeBytes/sectorSize)
		if e.FromRemaining() && i == len(t.Layout.Entries)-1 {
			sizeArg = "0"
		}
		args := []string{
			fmt.Sprintf("--new=%d:0:%s", e.SlotIndex, sizeArg),
			fmt.Sprintf("--typecode=%d:%s", e.SlotIndex, e.TypeID),
			fmt.Sprintf("--change-name=%d:%s", e.SlotIndex, e.Name),
		}
		for _, bit := range e.Flags.Bits() {
			args = append(args, fmt.Sprintf("--attributes=%d:set:%d", e.SlotIndex, bit))
		}
		args = append(args, t.Device)

		t.Logger.Logger.Info().
			Str("device", t.Device).
			Int("slot", e.SlotIndex).
			Int("position", e.PhysicalPosition).
			Str("name", e.Name).
			Uint64("size", e.SizeBytes).
			Msg("Creating partition")
		if _, err := t.Runner.Run("sgdisk", args...); err != nil {
			return fmt.Errorf("creating partition %q (slot %d): %w", e.Name, e.SlotIndex, err)
		}
	}
	return nil
}

// WaitForPartitions reloads the kernel's view of the table and waits until
// every partition device node exists.
func (t *Table) WaitForPartitions() error {
	paths := t.Paths
	if paths == nil {
		paths = block.NewPaths("")
	}
	if _, err := t.Runner.Run("partprobe", t.Device); err != nil {
		t.Logger.Logger.Warn().Err(err).Str("device", t.Device).Msg("partprobe failed, relying on udev")
	}
	for _, e := range t.Layout.Entries {
		path := block.PartitionPath(t.Device, e.SlotIndex)
		node := paths.HostPath(path)
		err := retry.Do(
			func() error {
				_, err := os.Stat(node)
				return err
			},
			retry.Attempts(30),
			retry.Delay(200*time.Millisecond),
			retry.DelayType(retry.FixedDelay),
		)
		if err != nil {
			return fmt.Errorf("partition %s did not appear: %w", path, err)
		}
	}
	return nil
}
