package block_test

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/mount-utils"

	"github.com/jnoliv/mkusb-part/block"
	"github.com/jnoliv/mkusb-part/constants"
	"github.com/jnoliv/mkusb-part/types"
)

var _ = Describe("PartitionPath", func() {
	DescribeTable("maps device and slot to the partition path",
		func(device string, slot int, want string) {
			Expect(block.PartitionPath(device, slot)).To(Equal(want))
		},
		Entry("plain disk", "/dev/sda", 3, "/dev/sda3"),
		Entry("nvme disk", "/dev/nvme0n1", 3, "/dev/nvme0n1p3"),
		Entry("mmc disk", "/dev/mmcblk0", 1, "/dev/mmcblk0p1"),
		Entry("loop device", "/dev/loop7", 2, "/dev/loop7p2"),
		Entry("virtio disk", "/dev/vdb", 5, "/dev/vdb5"),
	)
})

var _ = Describe("Device metadata", func() {
	var chroot string
	var paths *block.Paths
	var logger types.MkusbLogger

	writeFile := func(path, content string) {
		ExpectWithOffset(1, os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
		ExpectWithOffset(1, os.WriteFile(path, []byte(content), 0644)).To(Succeed())
	}

	BeforeEach(func() {
		chroot = GinkgoT().TempDir()
		paths = block.NewPaths(chroot)
		logger = types.NewNullLogger()
	})

	It("reads the device size from sysfs sectors", func() {
		writeFile(filepath.Join(paths.SysBlock, "sdb", "size"), "2097152\n")
		size, err := block.DeviceSizeBytes(paths, "/dev/sdb", &logger)
		Expect(err).ToNot(HaveOccurred())
		Expect(size).To(Equal(1 * constants.GiB))
	})

	It("fails for an unknown device", func() {
		_, err := block.DeviceSizeBytes(paths, "/dev/sdz", &logger)
		Expect(err).To(HaveOccurred())
	})

	It("reads the physical block size, defaulting to 512", func() {
		writeFile(filepath.Join(paths.SysBlock, "sdb", "queue", "physical_block_size"), "4096\n")
		Expect(block.PhysicalBlockSize(paths, "/dev/sdb", &logger)).To(Equal(uint64(4096)))
		Expect(block.PhysicalBlockSize(paths, "/dev/sdc", &logger)).To(Equal(uint64(512)))
	})

	Describe("mounted partitions", func() {
		BeforeEach(func() {
			writeFile(paths.ProcMounts,
				"/dev/sdb1 /mnt/key ext4 rw,relatime 0 0\n"+
					"/dev/sdb2 /mnt/with\\040space ext4 rw 0 0\n"+
					"/dev/sda1 / ext4 rw 0 0\n"+
					"proc /proc proc rw 0 0\n")
		})

		It("lists only the target's partitions", func() {
			mounted, err := block.MountedPartitions(paths, "/dev/sdb", &logger)
			Expect(err).ToNot(HaveOccurred())
			Expect(mounted).To(Equal([]string{"/dev/sdb1", "/dev/sdb2"}))
		})

		It("returns a DeviceStateError without force", func() {
			err := block.EnsureUnmounted(paths, "/dev/sdb", false, mount.NewFakeMounter(nil), &logger)
			var devErr *types.DeviceStateError
			Expect(errors.As(err, &devErr)).To(BeTrue(), "got %v", err)
			Expect(devErr.Device).To(Equal("/dev/sdb"))
			Expect(devErr.Mounted).To(ConsistOf("/dev/sdb1", "/dev/sdb2"))
		})

		It("force-unmounts by mountpoint, unescaped, in reverse mount order", func() {
			mounter := mount.NewFakeMounter([]mount.MountPoint{
				{Device: "/dev/sdb1", Path: "/mnt/key"},
				{Device: "/dev/sdb2", Path: "/mnt/with space"},
			})
			Expect(block.EnsureUnmounted(paths, "/dev/sdb", true, mounter, &logger)).To(Succeed())

			var unmounts []string
			for _, action := range mounter.GetLog() {
				if action.Action == mount.FakeActionUnmount {
					unmounts = append(unmounts, action.Target)
				}
			}
			Expect(unmounts).To(Equal([]string{"/mnt/with space", "/mnt/key"}))
		})

		It("force-unmounts every target of a partition mounted twice", func() {
			writeFile(paths.ProcMounts,
				"/dev/sdb1 /mnt/a ext4 rw 0 0\n"+
					"/dev/sdb1 /mnt/b ext4 ro 0 0\n")
			mounter := mount.NewFakeMounter([]mount.MountPoint{
				{Device: "/dev/sdb1", Path: "/mnt/a"},
				{Device: "/dev/sdb1", Path: "/mnt/b"},
			})
			Expect(block.EnsureUnmounted(paths, "/dev/sdb", true, mounter, &logger)).To(Succeed())

			var unmounts []string
			for _, action := range mounter.GetLog() {
				if action.Action == mount.FakeActionUnmount {
					unmounts = append(unmounts, action.Target)
				}
			}
			Expect(unmounts).To(ConsistOf("/mnt/a", "/mnt/b"))
		})

		It("passes a device with nothing mounted", func() {
			Expect(block.EnsureUnmounted(paths, "/dev/sdc", false, mount.NewFakeMounter(nil), &logger)).To(Succeed())
		})

		It("does not confuse /dev/sdb with /dev/sdb1-style names of other disks", func() {
			mounted, err := block.MountedPartitions(paths, "/dev/sd", &logger)
			Expect(err).ToNot(HaveOccurred())
			Expect(mounted).To(BeEmpty())
		})
	})
})
