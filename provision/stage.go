package provision

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"k8s.io/mount-utils"

	"github.com/jnoliv/mkusb-part/types"
)

// Stager copies the OS payload from the image into the freshly formatted
// root partition and the boot/EFI subtrees into the boot partition. All
// three mounts are scoped to the stage: acquired up front, released on
// every exit path.
type Stager struct {
	Image    string
	RootPath string
	BootPath string
	Mounter  mount.Interface
	Runner   types.Runner
	Logger   *types.MkusbLogger
}

func (s *Stager) Stage() (err error) {
	base, err := os.MkdirTemp("", "mkusb-stage-")
	if err != nil {
		return &types.StagingError{Step: "mkdir", Err: err}
	}
	defer func() {
		if rmErr := os.RemoveAll(base); rmErr != nil {
			s.Logger.Logger.Warn().Err(rmErr).Str("dir", base).Msg("Could not remove staging dir")
		}
	}()

	imageDir := filepath.Join(base, "image")
	rootDir := filepath.Join(base, "root")
	bootDir := filepath.Join(base, "boot")
	for _, d := range []string{imageDir, rootDir, bootDir} {
		if err := os.Mkdir(d, 0755); err != nil {
			return &types.StagingError{Step: "mkdir", Err: err}
		}
	}

	var mounted []string
	defer func() {
		// Unmount in reverse mount order, even on failure. Mount-point
		// release is the only cleanup guarantee this stage makes.
		var result *multierror.Error
		for i := len(mounted) - 1; i >= 0; i-- {
			if umErr := s.Mounter.Unmount(mounted[i]); umErr != nil {
				result = multierror.Append(result, fmt.Errorf("unmounting %s: %w", mounted[i], umErr))
			}
		}
		if result != nil {
			if err == nil {
				err = &types.StagingError{Step: "unmount", Err: result.ErrorOrNil()}
			} else {
				s.Logger.Logger.Error().Err(result.ErrorOrNil()).Msg("Unmount errors after staging failure")
			}
		}
	}()

	s.Logger.Logger.Info().Str("image", s.Image).Msg("Mounting OS image read-only")
	if err := s.Mounter.Mount(s.Image, imageDir, "", []string{"loop", "ro"}); err != nil {
		return &types.StagingError{Step: "mount image", Err: err}
	}
	mounted = append(mounted, imageDir)

	if err := s.Mounter.Mount(s.RootPath, rootDir, "", nil); err != nil {
		return &types.StagingError{Step: "mount root", Err: err}
	}
	mounted = append(mounted, rootDir)

	if err := s.Mounter.Mount(s.BootPath, bootDir, "", nil); err != nil {
		return &types.StagingError{Step: "mount boot", Err: err}
	}
	mounted = append(mounted, bootDir)

	s.Logger.Logger.Info().Str("root", s.RootPath).Msg("Copying OS payload into root partition")
	if _, err := s.Runner.Run("cp", "-a", imageDir+"/.", rootDir); err != nil {
		return &types.StagingError{Step: "copy root", Err: err}
	}

	for _, sub := range []string{"boot", "EFI"} {
		src := filepath.Join(imageDir, sub)
		s.Logger.Logger.Info().Str("subtree", sub).Str("boot", s.BootPath).Msg("Copying subtree into boot partition")
		if _, err := s.Runner.Run("cp", "-a", src, bootDir); err != nil {
			return &types.StagingError{Step: fmt.Sprintf("copy %s", sub), Err: err}
		}
	}

	if _, err := s.Runner.Run("sync"); err != nil {
		return &types.StagingError{Step: "sync", Err: err}
	}
	return nil
}
