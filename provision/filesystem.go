package provision

import (
	"fmt"
	"strconv"

	"github.com/jnoliv/mkusb-part/block"
	"github.com/jnoliv/mkusb-part/layout"
	"github.com/jnoliv/mkusb-part/plan"
	"github.com/jnoliv/mkusb-part/types"
)

// Filesystems creates the requested filesystem in each table slot,
// iterating in slot-index order. The table must already exist; entries are
// addressed via the partition naming convention, not creation order.
type Filesystems struct {
	Device    string
	Layout    *layout.Resolved
	BlockSize uint64
	Runner    types.Runner
	Logger    *types.MkusbLogger
}

func (f *Filesystems) Create() error {
	for _, e := range f.Layout.SlotOrder() {
		path := block.PartitionPath(f.Device, e.SlotIndex)
		f.Logger.Logger.Info().
			Str("partition", path).
			Str("filesystem", string(e.Filesystem)).
			Str("label", e.Name).
			Msg("Creating filesystem")
		if err := f.mkfs(e, path); err != nil {
			return err
		}
	}
	return nil
}

func (f *Filesystems) mkfs(e layout.Entry, path string) error {
	switch e.Filesystem {
	case plan.FSNone:
		return nil
	case plan.FSFat12, plan.FSFat16, plan.FSFat32:
		// The numeric suffix is the FAT bit width.
		bits := string(e.Filesystem)[len("fat"):]
		_, err := f.Runner.Run("mkfs.fat",
			"-F", bits,
			"-S", strconv.FormatUint(f.blockSize(), 10),
			path)
		if err != nil {
			return fmt.Errorf("formatting %s as %s: %w", path, e.Filesystem, err)
		}
		return nil
	case plan.FSNtfs:
		// Zeroed geometry defers head/sector counts to the kernel.
		_, err := f.Runner.Run("mkntfs",
			"--quick",
			"--label", e.Name,
			"--heads", "0",
			"--sectors-per-track", "0",
			path)
		if err != nil {
			return fmt.Errorf("formatting %s as ntfs: %w", path, err)
		}
		return nil
	case plan.FSExt2, plan.FSExt3, plan.FSExt4:
		_, err := f.Runner.Run(fmt.Sprintf("mkfs.%s", e.Filesystem),
			"-q",
			"-L", e.Name,
			path)
		if err != nil {
			return fmt.Errorf("formatting %s as %s: %w", path, e.Filesystem, err)
		}
		return nil
	default:
		return &types.UnsupportedFilesystemError{Filesystem: string(e.Filesystem)}
	}
}

func (f *Filesystems) blockSize() uint64 {
	if f.BlockSize != 0 {
		return f.BlockSize
	}
	return sectorSize
}
