// Package block talks to the target block device through sysfs and
// /proc/mounts: capacity and block-size lookups, the partition device
// naming convention, and the mounted-partitions precondition the pipeline
// checks before any destructive work.
package block

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"k8s.io/mount-utils"

	"github.com/jnoliv/mkusb-part/types"
)

const sectorSize = 512

type Paths struct {
	Prefix     string
	SysBlock   string
	ProcMounts string
}

func NewPaths(withOptionalPrefix string) *Paths {
	p := &Paths{
		SysBlock:   "/sys/block/",
		ProcMounts: "/proc/mounts",
	}

	// Allow overriding the paths via env var. It has precedence over anything
	val, exists := os.LookupEnv("MKUSB_CHROOT")
	if exists {
		withOptionalPrefix = val
	}

	if withOptionalPrefix != "" {
		withOptionalPrefix = strings.TrimSuffix(withOptionalPrefix, "/")
		p.Prefix = withOptionalPrefix
		p.SysBlock = fmt.Sprintf("%s%s", withOptionalPrefix, p.SysBlock)
		p.ProcMounts = fmt.Sprintf("%s%s", withOptionalPrefix, p.ProcMounts)
	}
	return p
}

// HostPath maps an absolute device path into the optional chroot the
// Paths were built with.
func (p *Paths) HostPath(path string) string {
	return p.Prefix + path
}

// PartitionPath maps a device path and a 1-based slot index to the
// partition's device path: devices named with a trailing digit get a "p"
// separator, the rest get the index appended directly.
func PartitionPath(device string, slot int) string {
	if device == "" {
		return ""
	}
	last := device[len(device)-1]
	if last >= '0' && last <= '9' {
		return fmt.Sprintf("%sp%d", device, slot)
	}
	return fmt.Sprintf("%s%d", device, slot)
}

// DeviceSizeBytes reads the device capacity from the 512-byte sector count
// in /sys/block/$DEVICE/size.
func DeviceSizeBytes(paths *Paths, device string, logger *types.MkusbLogger) (uint64, error) {
	name := filepath.Base(device)
	path := filepath.Join(paths.SysBlock, name, "size")
	logger.Logger.Debug().Str("path", path).Msg("Reading device size")
	contents, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading size of %s: %w", device, err)
	}
	size, err := strconv.ParseUint(strings.TrimSpace(string(contents)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing size of %s: %w", device, err)
	}
	logger.Logger.Trace().Uint64("size", size*sectorSize).Msg("Got device size")
	return size * sectorSize, nil
}

// PhysicalBlockSize reads the device's physical block size from sysfs,
// defaulting to 512 when the attribute is missing.
func PhysicalBlockSize(paths *Paths, device string, logger *types.MkusbLogger) uint64 {
	name := filepath.Base(device)
	path := filepath.Join(paths.SysBlock, name, "queue", "physical_block_size")
	contents, err := os.ReadFile(path)
	if err != nil {
		logger.Logger.Debug().Str("path", path).Err(err).Msg("No physical block size, assuming 512")
		return sectorSize
	}
	size, err := strconv.ParseUint(strings.TrimSpace(string(contents)), 10, 64)
	if err != nil || size == 0 {
		logger.Logger.Debug().Str("contents", string(contents)).Msg("Bad physical block size, assuming 512")
		return sectorSize
	}
	return size
}

type mountEntry struct {
	Partition      string
	Mountpoint     string
	FilesystemType string
}

func parseMountEntry(line string, logger *types.MkusbLogger) *mountEntry {
	// mount entries for mounted partitions look like this:
	// /dev/sda6 / ext4 rw,relatime,errors=remount-ro,data=ordered 0 0
	if len(line) == 0 || line[0] != '/' {
		return nil
	}
	fields := strings.Fields(line)

	if len(fields) < 4 {
		logger.Logger.Trace().Interface("fields", fields).Msg("Mount line has less than 4 fields")
		return nil
	}

	// Mountpoints may contain space, tab and newline characters encoded
	// as their octal-to-string representations, per the GNU mtab format.
	mp := fields[1]
	r := strings.NewReplacer(
		"\\011", "\t", "\\012", "\n", "\\040", " ", "\\\\", "\\",
	)
	mp = r.Replace(mp)

	return &mountEntry{
		Partition:      fields[0],
		Mountpoint:     mp,
		FilesystemType: fields[2],
	}
}

func mountEntries(paths *Paths, device string, logger *types.MkusbLogger) ([]mountEntry, error) {
	logger.Logger.Trace().Str("file", paths.ProcMounts).Msg("Reading mounts file")
	f, err := os.Open(paths.ProcMounts)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", paths.ProcMounts, err)
	}
	defer f.Close()

	var entries []mountEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entry := parseMountEntry(scanner.Text(), logger)
		if entry == nil {
			continue
		}
		if isPartitionOf(device, entry.Partition) {
			entries = append(entries, *entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", paths.ProcMounts, err)
	}
	return entries, nil
}

// MountedPartitions lists the mounted partitions of the given device, in
// /proc/mounts order. A partition mounted at several targets appears once
// per target.
func MountedPartitions(paths *Paths, device string, logger *types.MkusbLogger) ([]string, error) {
	entries, err := mountEntries(paths, device, logger)
	if err != nil {
		return nil, err
	}
	var mounted []string
	for _, e := range entries {
		mounted = append(mounted, e.Partition)
	}
	return mounted, nil
}

func isPartitionOf(device, partition string) bool {
	if !strings.HasPrefix(partition, device) {
		return false
	}
	rest := strings.TrimPrefix(partition, device)
	rest = strings.TrimPrefix(rest, "p")
	if rest == "" {
		return true
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

// EnsureUnmounted enforces the pipeline precondition that the target has
// no mounted partitions. With force it unmounts each one instead of
// failing; without, mounted partitions are a DeviceStateError the caller
// recovers from with an explicit unmount.
func EnsureUnmounted(paths *Paths, device string, force bool, mounter mount.Interface, logger *types.MkusbLogger) error {
	entries, err := mountEntries(paths, device, logger)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if !force {
		mounted := make([]string, 0, len(entries))
		for _, e := range entries {
			mounted = append(mounted, e.Partition)
		}
		return &types.DeviceStateError{Device: device, Mounted: mounted}
	}

	// Unmount by mountpoint, in reverse mount order so nested mounts
	// release cleanly. A partition mounted at several targets gets one
	// unmount per target.
	var result *multierror.Error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		logger.Logger.Info().Str("partition", e.Partition).Str("mountpoint", e.Mountpoint).Msg("Force unmounting")
		if err := mounter.Unmount(e.Mountpoint); err != nil {
			result = multierror.Append(result, fmt.Errorf("unmounting %s: %w", e.Mountpoint, err))
		}
	}
	return result.ErrorOrNil()
}
