package layout

import (
	"github.com/jnoliv/mkusb-part/constants"
	"github.com/jnoliv/mkusb-part/plan"
	"github.com/jnoliv/mkusb-part/types"
)

// Policy is a builtin partition layout: a fixed assignment of slot indices
// and physical order for the standard live-USB partition set. The default
// layout puts the Windows-compatible storage partition physically first,
// for firmware that only reads the first extent, while keeping it in table
// slot 1 and the bootable set in the following slots.
type Policy string

const (
	PolicyDefault       Policy = "default"
	PolicyNoStorage     Policy = "no-storage"
	PolicyNoPersistence Policy = "no-persistence"
)

// SelectPolicy chooses the builtin layout from the two independent inputs.
// Requesting no storage partition together with a zero persistence size
// would strand the remaining capacity unassigned, so that combination is
// rejected as a usage error rather than silently ignored.
func SelectPolicy(storageRequested bool, persistenceSize uint64) (Policy, error) {
	switch {
	case storageRequested && persistenceSize > 0:
		return PolicyDefault, nil
	case !storageRequested && persistenceSize > 0:
		return PolicyNoStorage, nil
	case storageRequested && persistenceSize == 0:
		return PolicyNoPersistence, nil
	default:
		return "", &types.InvalidPlanError{
			Reason: "no storage partition and zero persistence size leave the remaining capacity unassigned",
		}
	}
}

// PolicyOptions carries the concrete sizes a policy plan needs. RootSize
// must already be resolved (explicit override or derived from the image
// size with RootSizeForImage).
type PolicyOptions struct {
	RootSize        uint64
	PersistenceSize uint64
}

// RootSizeForImage derives the default root partition size from the OS
// image size: 105% of the image, rounded down to whole mebibytes, to
// absorb filesystem metadata overhead.
func RootSizeForImage(imageSize uint64) uint64 {
	return imageSize * constants.RootOverheadPercent / 100 / constants.MiB * constants.MiB
}

func bootSpec(slot int) plan.Spec {
	var flags plan.FlagSet
	_ = flags.Add(constants.LegacyBIOSBootableFlag)
	return plan.Spec{
		SlotIndex:  slot,
		Name:       constants.BootPartName,
		TypeID:     constants.BIOSBootTypeID,
		Filesystem: plan.FSNone,
		Size:       constants.DefaultBootSize,
		Flags:      flags,
	}
}

func efiSpec(slot int) plan.Spec {
	return plan.Spec{
		SlotIndex:  slot,
		Name:       constants.EFIPartName,
		TypeID:     constants.EFISystemTypeID,
		Filesystem: plan.FSFat32,
		Size:       constants.DefaultEFISize,
	}
}

func rootSpec(slot int, size uint64) plan.Spec {
	return plan.Spec{
		SlotIndex:  slot,
		Name:       constants.RootPartName,
		TypeID:     constants.LinuxFilesystemTypeID,
		Filesystem: plan.FSExt4,
		Size:       size,
	}
}

func persistenceSpec(slot int, size uint64) plan.Spec {
	return plan.Spec{
		SlotIndex:  slot,
		Name:       constants.PersistencePartName,
		TypeID:     constants.LinuxFilesystemTypeID,
		Filesystem: plan.FSExt4,
		Size:       size,
	}
}

func storageSpec(slot int) plan.Spec {
	return plan.Spec{
		SlotIndex:  slot,
		Name:       constants.StoragePartName,
		TypeID:     constants.MicrosoftBasicDataTypeID,
		Filesystem: plan.FSNtfs,
		Size:       plan.Remaining,
	}
}

// Plan builds the partition plan for the policy. Slice order is the
// physical creation order; the slot index on each spec is the logical
// table position.
func (p Policy) Plan(opts PolicyOptions) *plan.Plan {
	switch p {
	case PolicyNoStorage:
		// Persistence absorbs all leftover space, no Windows partition.
		return &plan.Plan{Specs: []plan.Spec{
			bootSpec(1),
			efiSpec(2),
			rootSpec(3, opts.RootSize),
			persistenceSpec(4, plan.Remaining),
		}}
	case PolicyNoPersistence:
		// Storage absorbs all leftover space, no persistence partition.
		return &plan.Plan{Specs: []plan.Spec{
			storageSpec(1),
			bootSpec(2),
			efiSpec(3),
			rootSpec(4, opts.RootSize),
		}}
	default:
		return &plan.Plan{Specs: []plan.Spec{
			storageSpec(1),
			bootSpec(2),
			efiSpec(3),
			rootSpec(4, opts.RootSize),
			persistenceSpec(5, opts.PersistenceSize),
		}}
	}
}

// ForPolicy selects a builtin policy from the caller's storage/persistence
// request, builds its plan, and resolves it against the device capacity.
func ForPolicy(storageRequested bool, opts PolicyOptions, capacity uint64) (*Resolved, error) {
	policy, err := SelectPolicy(storageRequested, opts.PersistenceSize)
	if err != nil {
		return nil, err
	}
	return Resolve(policy.Plan(opts), capacity)
}
