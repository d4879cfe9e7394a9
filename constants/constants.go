// Package constants This file contains all the constants that can be reused across the project
package constants

// Byte units, IEC.
const (
	KiB = uint64(1024)
	MiB = 1024 * KiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB
	PiB = 1024 * TiB

	FilePerm = 0644
	DirPerm  = 0755
)

// Well-known GPT partition type identifiers used by the builtin layouts.
const (
	BIOSBootTypeID           = "21686148-6449-6E6F-744E-656564454649"
	EFISystemTypeID          = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	LinuxFilesystemTypeID    = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	MicrosoftBasicDataTypeID = "EBD0A0A2-B9E5-4433-87C0-68B6B72699C7"
)

// Partition names of the builtin layouts. The name doubles as the
// filesystem label for the ntfs and ext partitions.
const (
	BootPartName        = "boot"
	EFIPartName         = "EFI"
	RootPartName        = "root"
	PersistencePartName = "persistence"
	StoragePartName     = "storage"
)

// GPT attribute bit 2 marks a partition legacy-BIOS bootable.
const LegacyBIOSBootableFlag = 2

const (
	DefaultBootSize        = 8 * MiB
	DefaultEFISize         = 300 * MiB
	DefaultPersistenceSize = 4 * GiB

	// Root partition defaults to 105% of the OS image, rounded down to
	// whole mebibytes, to absorb filesystem metadata overhead.
	RootOverheadPercent = 105

	// Kernel command line flag the live system uses to enable its
	// persistence partition.
	PersistenceKernelFlag = "persistence"

	DefaultResolution = "auto"
)

// Exit codes surfaced by the CLI. Usage and data errors follow sysexits.h.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitMounted  = 3
	ExitUsage    = 64
	ExitDataErr  = 65
)
