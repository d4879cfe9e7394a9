package config_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/jnoliv/mkusb-part/config"
	"github.com/jnoliv/mkusb-part/constants"
)

var _ = Describe("Config", func() {
	newFS := func(files map[string]interface{}) (*vfst.TestFS, func()) {
		fs, cleanup, err := vfst.NewTestFS(files)
		ExpectWithOffset(1, err).ToNot(HaveOccurred())
		return fs, cleanup
	}

	It("falls back to defaults when no files exist", func() {
		fs, cleanup := newFS(map[string]interface{}{})
		defer cleanup()

		c, err := config.Load(fs, "", "")
		Expect(err).ToNot(HaveOccurred())
		Expect(c.PersistenceSize).To(Equal("4GiB"))
		Expect(c.Resolution).To(Equal("auto"))
		Expect(c.LogLevel).To(Equal("info"))
		Expect(c.NoStorage).To(BeFalse())
	})

	It("reads the YAML config file", func() {
		fs, cleanup := newFS(map[string]interface{}{
			"/etc/mkusb-part.yaml": "device: /dev/sdb\npersistence-size: 8GiB\nno-storage: true\n",
		})
		defer cleanup()

		c, err := config.Load(fs, "", "")
		Expect(err).ToNot(HaveOccurred())
		Expect(c.Device).To(Equal("/dev/sdb"))
		Expect(c.PersistenceSize).To(Equal("8GiB"))
		Expect(c.NoStorage).To(BeTrue())
	})

	It("lets the environment file override the YAML file", func() {
		fs, cleanup := newFS(map[string]interface{}{
			"/etc/mkusb-part.yaml":    "resolution: 800x600\n",
			"/etc/default/mkusb-part": "MKUSB_RESOLUTION=1024x768\nMKUSB_FORCE_UNMOUNT=true\n",
		})
		defer cleanup()

		c, err := config.Load(fs, "", "")
		Expect(err).ToNot(HaveOccurred())
		Expect(c.Resolution).To(Equal("1024x768"))
		Expect(c.ForceUnmount).To(BeTrue())
	})

	It("rejects unparseable YAML", func() {
		fs, cleanup := newFS(map[string]interface{}{
			"/etc/mkusb-part.yaml": ": not yaml\n",
		})
		defer cleanup()

		_, err := config.Load(fs, "", "")
		Expect(err).To(HaveOccurred())
	})

	Describe("size accessors", func() {
		It("parses the persistence size, zero disabling it", func() {
			c := config.Default()
			size, err := c.PersistenceSizeBytes()
			Expect(err).ToNot(HaveOccurred())
			Expect(size).To(Equal(4 * constants.GiB))

			c.PersistenceSize = "0"
			size, err = c.PersistenceSizeBytes()
			Expect(err).ToNot(HaveOccurred())
			Expect(size).To(BeZero())
		})

		It("treats an empty root size as no override", func() {
			c := config.Default()
			_, ok, err := c.RootSizeBytes()
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			c.RootSize = "2GiB"
			size, ok, err := c.RootSizeBytes()
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(size).To(Equal(2 * constants.GiB))
		})

		It("surfaces bad size strings", func() {
			c := config.Default()
			c.RootSize = "2GB"
			_, _, err := c.RootSizeBytes()
			Expect(err).To(HaveOccurred())
		})
	})
})
