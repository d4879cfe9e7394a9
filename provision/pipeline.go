package provision

import (
	"fmt"

	"k8s.io/mount-utils"

	"github.com/jnoliv/mkusb-part/block"
	"github.com/jnoliv/mkusb-part/constants"
	"github.com/jnoliv/mkusb-part/layout"
	"github.com/jnoliv/mkusb-part/types"
)

// Pipeline runs the full provisioning sequence against one device:
// precondition check, table write, filesystem creation, content staging,
// bootloader installation. Strictly sequential; an interrupted run leaves
// the device inconsistent and is recovered by re-running from the top,
// which starts by wiping the table again.
type Pipeline struct {
	Device       string
	Image        string
	Layout       *layout.Resolved
	ForceUnmount bool
	Resolution   string
	Paths        *block.Paths
	Runner       types.Runner
	Mounter      mount.Interface
	Logger       *types.MkusbLogger
}

// entriesForStaging locates the partitions the staging and bootloader
// stages need by their well-known names. Plans that rename them cannot be
// driven through the full pipeline.
func (p *Pipeline) entriesForStaging() (root, boot, grubTarget *layout.Entry, err error) {
	root = p.Layout.ByName(constants.RootPartName)
	boot = p.Layout.ByName(constants.EFIPartName)
	grubTarget = p.Layout.ByName(constants.BootPartName)
	switch {
	case root == nil:
		return nil, nil, nil, fmt.Errorf("layout has no %q partition", constants.RootPartName)
	case boot == nil:
		return nil, nil, nil, fmt.Errorf("layout has no %q partition", constants.EFIPartName)
	case grubTarget == nil:
		return nil, nil, nil, fmt.Errorf("layout has no %q partition", constants.BootPartName)
	}
	return root, boot, grubTarget, nil
}

func (p *Pipeline) Run() error {
	root, boot, grubTarget, err := p.entriesForStaging()
	if err != nil {
		return err
	}

	// Precondition: no mounted partitions. Checked before any mutation.
	if err := block.EnsureUnmounted(p.Paths, p.Device, p.ForceUnmount, p.Mounter, p.Logger); err != nil {
		return err
	}

	table := &Table{Device: p.Device, Layout: p.Layout, Paths: p.Paths, Runner: p.Runner, Logger: p.Logger}
	if err := table.Wipe(); err != nil {
		return err
	}
	if err := table.Create(); err != nil {
		return err
	}
	if err := table.WaitForPartitions(); err != nil {
		return err
	}

	fs := &Filesystems{
		Device:    p.Device,
		Layout:    p.Layout,
		BlockSize: block.PhysicalBlockSize(p.Paths, p.Device, p.Logger),
		Runner:    p.Runner,
		Logger:    p.Logger,
	}
	if err := fs.Create(); err != nil {
		return err
	}

	if err := block.VerifyTable(p.Paths, p.Device, p.Layout); err != nil {
		return fmt.Errorf("verifying partition table on %s: %w", p.Device, err)
	}

	stager := &Stager{
		Image:    p.Image,
		RootPath: block.PartitionPath(p.Device, root.SlotIndex),
		BootPath: block.PartitionPath(p.Device, boot.SlotIndex),
		Mounter:  p.Mounter,
		Runner:   p.Runner,
		Logger:   p.Logger,
	}
	if err := stager.Stage(); err != nil {
		return err
	}

	bootloader := &Bootloader{
		TargetPath:   block.PartitionPath(p.Device, grubTarget.SlotIndex),
		BootPath:     block.PartitionPath(p.Device, boot.SlotIndex),
		RootPosition: root.PhysicalPosition,
		Resolution:   p.Resolution,
		Persistence:  p.Layout.ByName(constants.PersistencePartName) != nil,
		Mounter:      p.Mounter,
		Runner:       p.Runner,
		Logger:       p.Logger,
	}
	if err := bootloader.Install(); err != nil {
		return err
	}

	p.Logger.Logger.Info().Str("device", p.Device).Msg("Provisioning finished")
	return nil
}
