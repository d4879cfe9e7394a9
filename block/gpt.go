package block

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/jnoliv/mkusb-part/layout"
)

// GPTEntry is one populated slot of an on-disk GPT, as read back from the
// device after provisioning.
type GPTEntry struct {
	Slot       int
	Name       string
	FirstLBA   uint64
	LastLBA    uint64
	NumSectors uint64
}

// ReadGPT reads the populated partition entries from the device's GPT.
func ReadGPT(devicePath string) ([]GPTEntry, error) {
	f, err := os.Open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devicePath, err)
	}
	defer f.Close()

	// GPT header lives at sector 1
	hdrBuf := make([]byte, sectorSize)
	if _, err := f.ReadAt(hdrBuf, sectorSize); err != nil {
		return nil, fmt.Errorf("reading GPT header: %w", err)
	}

	partitionEntryLBA := binary.LittleEndian.Uint64(hdrBuf[72:80])
	numPartitionEntries := binary.LittleEndian.Uint32(hdrBuf[80:84])
	sizeOfPartitionEntry := binary.LittleEndian.Uint32(hdrBuf[84:88])

	entries := []GPTEntry{}
	entryBuf := make([]byte, sizeOfPartitionEntry)

	for i := uint32(0); i < numPartitionEntries; i++ {
		offset := int64(partitionEntryLBA*sectorSize) + int64(i*sizeOfPartitionEntry)
		if _, err := f.ReadAt(entryBuf, offset); err != nil {
			return nil, fmt.Errorf("reading partition entry %d: %w", i+1, err)
		}

		firstLBA := binary.LittleEndian.Uint64(entryBuf[32:40])
		lastLBA := binary.LittleEndian.Uint64(entryBuf[40:48])

		if firstLBA == 0 && lastLBA == 0 {
			continue // Empty partition entry
		}

		entries = append(entries, GPTEntry{
			Slot:       int(i + 1),
			Name:       decodeUTF16String(entryBuf[56 : 56+72]),
			FirstLBA:   firstLBA,
			LastLBA:    lastLBA,
			NumSectors: lastLBA - firstLBA + 1,
		})
	}

	return entries, nil
}

// VerifyTable reads the table back from the device and checks slot count,
// slot set and names against the resolved layout. Sizes are not compared
// sector-exact since the table writer aligns starting offsets.
func VerifyTable(paths *Paths, devicePath string, resolved *layout.Resolved) error {
	entries, err := ReadGPT(paths.HostPath(devicePath))
	if err != nil {
		return err
	}
	if len(entries) != len(resolved.Entries) {
		return fmt.Errorf("device has %d partitions, layout has %d", len(entries), len(resolved.Entries))
	}
	for _, e := range entries {
		want := resolved.BySlot(e.Slot)
		if want == nil {
			return fmt.Errorf("device slot %d not present in layout", e.Slot)
		}
		if e.Name != want.Name {
			return fmt.Errorf("slot %d named %q, layout wants %q", e.Slot, e.Name, want.Name)
		}
	}
	return nil
}

// Helper to decode UTF-16LE partition names
func decodeUTF16String(b []byte) string {
	u16 := make([]uint16, 0, len(b)/2)
	for i := 0; i < len(b); i += 2 {
		ch := binary.LittleEndian.Uint16(b[i : i+2])
		if ch == 0x0000 {
			break
		}
		u16 = append(u16, ch)
	}
	r := make([]rune, len(u16))
	for i, u := range u16 {
		r[i] = rune(u)
	}
	return string(r)
}
