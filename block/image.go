package block

import (
	"fmt"
	"os"

	"github.com/diskfs/go-diskfs"

	"github.com/jnoliv/mkusb-part/types"
)

// ImageSizeBytes returns the size of the OS image file. The image is
// opened read-only through diskfs so an unreadable or empty file is
// rejected before the resolver derives the root partition size from it.
func ImageSizeBytes(image string, logger *types.MkusbLogger) (uint64, error) {
	if _, err := os.Stat(image); err != nil {
		return 0, fmt.Errorf("checking image %s: %w", image, err)
	}
	d, err := diskfs.Open(image, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return 0, fmt.Errorf("opening image %s: %w", image, err)
	}
	defer d.Close()
	if d.Size <= 0 {
		return 0, fmt.Errorf("image %s has no size", image)
	}
	logger.Logger.Debug().Str("image", image).Int64("size", d.Size).Msg("Got image size")
	return uint64(d.Size), nil
}
