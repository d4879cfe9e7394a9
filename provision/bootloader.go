package provision

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/mount-utils"

	"github.com/jnoliv/mkusb-part/constants"
	"github.com/jnoliv/mkusb-part/types"
)

// GrubRootDevice renders the bootloader's root-device reference for a
// partition at the given physical boot-order position (1-based). Callers
// whose bootloader addresses partitions by table slot pass the slot index
// instead.
func GrubRootDevice(position int) string {
	return fmt.Sprintf("hd0,%d", position)
}

// Bootloader rewrites the boot partition's GRUB configuration and installs
// the bootloader binary on the grub-target partition.
type Bootloader struct {
	// TargetPath is the BIOS-boot partition the bootloader binary is
	// installed to.
	TargetPath string
	// BootPath is the partition holding the boot and EFI directories.
	BootPath string
	// RootPosition is the root partition's physical creation position.
	RootPosition int
	Resolution   string
	Persistence  bool
	Mounter      mount.Interface
	Runner       types.Runner
	Logger       *types.MkusbLogger
}

func (b *Bootloader) Install() (err error) {
	mnt, err := os.MkdirTemp("", "mkusb-boot-")
	if err != nil {
		return &types.BootloaderInstallError{Step: "mkdir", Err: err}
	}
	defer func() {
		if rmErr := os.RemoveAll(mnt); rmErr != nil {
			b.Logger.Logger.Warn().Err(rmErr).Str("dir", mnt).Msg("Could not remove boot mount point")
		}
	}()

	if err := b.Mounter.Mount(b.BootPath, mnt, "", nil); err != nil {
		return &types.BootloaderInstallError{Step: "mount boot", Err: err}
	}
	defer func() {
		if umErr := b.Mounter.Unmount(mnt); umErr != nil {
			if err == nil {
				err = &types.BootloaderInstallError{Step: "unmount boot", Err: umErr}
			} else {
				b.Logger.Logger.Error().Err(umErr).Str("dir", mnt).Msg("Unmount error after bootloader failure")
			}
		}
	}()

	cfgPath := filepath.Join(mnt, "boot", "grub", "grub.cfg")
	if err := b.rewriteConfigFile(cfgPath); err != nil {
		return &types.BootloaderInstallError{Step: "rewrite config", Err: err}
	}

	args := []string{"--removable"}
	if b.secureBootSupported() {
		args = append(args, "--uefi-secure-boot")
	}
	args = append(args,
		fmt.Sprintf("--boot-directory=%s", filepath.Join(mnt, "boot")),
		fmt.Sprintf("--efi-directory=%s", filepath.Join(mnt, "EFI")),
		b.TargetPath,
	)
	b.Logger.Logger.Info().Str("target", b.TargetPath).Msg("Installing bootloader")
	if _, err := b.Runner.Run("grub-install", args...); err != nil {
		return &types.BootloaderInstallError{Step: "grub-install", Err: err}
	}

	if _, err := b.Runner.Run("sync"); err != nil {
		return &types.BootloaderInstallError{Step: "sync", Err: err}
	}
	return nil
}

// Not every grub-install build carries the secure-boot patch, so the flag
// is only passed when the help text advertises it.
func (b *Bootloader) secureBootSupported() bool {
	out, err := b.Runner.Run("grub-install", "--help")
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "--uefi-secure-boot")
}

func (b *Bootloader) rewriteConfigFile(cfgPath string) error {
	cfg, err := os.ReadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", cfgPath, err)
	}
	rewritten := b.RewriteConfig(string(cfg))
	if err := os.WriteFile(cfgPath, []byte(rewritten), constants.FilePerm); err != nil {
		return fmt.Errorf("writing %s: %w", cfgPath, err)
	}
	return nil
}

// RewriteConfig prepends the root-device and console-resolution directives
// and, unless persistence is disabled, appends the persistence kernel flag
// to every kernel command line.
func (b *Bootloader) RewriteConfig(cfg string) string {
	resolution := b.Resolution
	if resolution == "" {
		resolution = constants.DefaultResolution
	}

	var out strings.Builder
	fmt.Fprintf(&out, "set root=%s\n", GrubRootDevice(b.RootPosition))
	fmt.Fprintf(&out, "set gfxpayload=%s\n", resolution)

	lines := strings.Split(cfg, "\n")
	for i, line := range lines {
		if b.Persistence && isKernelLine(line) {
			line = line + " " + constants.PersistenceKernelFlag
		}
		out.WriteString(line)
		if i < len(lines)-1 {
			out.WriteString("\n")
		}
	}
	return out.String()
}

func isKernelLine(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "linux", "linux16", "linuxefi":
		return true
	}
	return false
}
