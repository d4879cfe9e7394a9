package plan_test

import (
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jnoliv/mkusb-part/constants"
	"github.com/jnoliv/mkusb-part/plan"
	"github.com/jnoliv/mkusb-part/types"
)

const goodPlan = `
1 storage EBD0A0A2-B9E5-4433-87C0-68B6B72699C7 ntfs 0
2 boot 21686148-6449-6E6F-744E-656564454649 none 8MiB 2
3 EFI C12A7328-F81F-11D2-BA4B-00A0C93EC93B fat32 300MiB
4 root 0FC63DAF-8483-4772-8E79-3D69D8477DE4 ext4 4GiB
`

var _ = Describe("Plan parser", func() {
	It("parses a plan, keeping appearance order", func() {
		p, err := plan.Parse(strings.NewReader(goodPlan))
		Expect(err).ToNot(HaveOccurred())
		Expect(p.Specs).To(HaveLen(4))

		Expect(p.Specs[0].SlotIndex).To(Equal(1))
		Expect(p.Specs[0].Name).To(Equal("storage"))
		Expect(p.Specs[0].Filesystem).To(Equal(plan.FSNtfs))
		Expect(p.Specs[0].WantsRemaining()).To(BeTrue())

		Expect(p.Specs[1].Size).To(Equal(8 * constants.MiB))
		Expect(p.Specs[1].Flags.Has(2)).To(BeTrue())
		Expect(p.Specs[1].Flags.Bits()).To(Equal([]int{2}))

		Expect(p.Specs[2].Size).To(Equal(300 * constants.MiB))
		Expect(p.Specs[3].Size).To(Equal(4 * constants.GiB))
	})

	It("accepts backslash-escaped spaces in names", func() {
		line := `1 my\ data EBD0A0A2-B9E5-4433-87C0-68B6B72699C7 ntfs 0`
		p, err := plan.Parse(strings.NewReader(line))
		Expect(err).ToNot(HaveOccurred())
		Expect(p.Specs[0].Name).To(Equal("my data"))
	})

	It("skips blank lines and comments", func() {
		text := "# default layout\n\n1 root 0FC63DAF-8483-4772-8E79-3D69D8477DE4 ext4 1GiB\n"
		p, err := plan.Parse(strings.NewReader(text))
		Expect(err).ToNot(HaveOccurred())
		Expect(p.Specs).To(HaveLen(1))
	})

	DescribeTable("rejects malformed lines",
		func(line, field string) {
			_, err := plan.Parse(strings.NewReader(line))
			var malformed *types.MalformedPlanError
			Expect(errors.As(err, &malformed)).To(BeTrue(), "got %v", err)
			Expect(malformed.Field).To(Equal(field))
			Expect(malformed.Line).To(Equal(1))
		},
		Entry("too few fields", "1 root ext4 1GiB", "line"),
		Entry("bad slot index", "x root 0FC63DAF-8483-4772-8E79-3D69D8477DE4 ext4 1GiB", "slot index"),
		Entry("zero slot index", "0 root 0FC63DAF-8483-4772-8E79-3D69D8477DE4 ext4 1GiB", "slot index"),
		Entry("bad type id", "1 root not-a-guid ext4 1GiB", "type id"),
		Entry("unknown filesystem", "1 root 0FC63DAF-8483-4772-8E79-3D69D8477DE4 zfs 1GiB", "filesystem"),
		Entry("size without unit", "1 root 0FC63DAF-8483-4772-8E79-3D69D8477DE4 ext4 1024", "size"),
		Entry("size with SI unit", "1 root 0FC63DAF-8483-4772-8E79-3D69D8477DE4 ext4 1GB", "size"),
		Entry("flag out of range", "1 root 0FC63DAF-8483-4772-8E79-3D69D8477DE4 ext4 1GiB 64", "flags"),
		Entry("negative flag", "1 root 0FC63DAF-8483-4772-8E79-3D69D8477DE4 ext4 1GiB -1", "flags"),
		Entry("non-integer flag", "1 root 0FC63DAF-8483-4772-8E79-3D69D8477DE4 ext4 1GiB x", "flags"),
	)

	It("reports the offending line number", func() {
		text := "1 root 0FC63DAF-8483-4772-8E79-3D69D8477DE4 ext4 1GiB\n2 boot bad-guid none 8MiB\n"
		_, err := plan.Parse(strings.NewReader(text))
		var malformed *types.MalformedPlanError
		Expect(errors.As(err, &malformed)).To(BeTrue())
		Expect(malformed.Line).To(Equal(2))
	})

	It("round-trips specs through plan text", func() {
		p, err := plan.Parse(strings.NewReader(goodPlan))
		Expect(err).ToNot(HaveOccurred())
		again, err := plan.Parse(strings.NewReader(p.String()))
		Expect(err).ToNot(HaveOccurred())
		Expect(again.Specs).To(Equal(p.Specs))
	})

	It("round-trips escaped names", func() {
		s := plan.Spec{
			SlotIndex:  1,
			Name:       "my data",
			TypeID:     "EBD0A0A2-B9E5-4433-87C0-68B6B72699C7",
			Filesystem: plan.FSNtfs,
			Size:       plan.Remaining,
		}
		p, err := plan.Parse(strings.NewReader(s.Line()))
		Expect(err).ToNot(HaveOccurred())
		Expect(p.Specs[0]).To(Equal(s))
	})
})

var _ = Describe("Size parsing", func() {
	DescribeTable("parses valid sizes",
		func(in string, want uint64) {
			got, err := plan.ParseSize(in)
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("remaining", "0", plan.Remaining),
		Entry("bytes", "512B", uint64(512)),
		Entry("kibibytes", "4KiB", 4*constants.KiB),
		Entry("mebibytes", "300MiB", 300*constants.MiB),
		Entry("gibibytes", "4GiB", 4*constants.GiB),
		Entry("tebibytes", "2TiB", 2*constants.TiB),
	)

	DescribeTable("rejects invalid sizes",
		func(in string) {
			_, err := plan.ParseSize(in)
			Expect(err).To(HaveOccurred())
		},
		Entry("empty", ""),
		Entry("bare integer", "300"),
		Entry("SI unit", "300MB"),
		Entry("negative", "-1MiB"),
		Entry("zero with unit", "0MiB"),
		Entry("fractional", "1.5GiB"),
		Entry("unit only", "MiB"),
	)

	DescribeTable("formats sizes so ParseSize round-trips them",
		func(size uint64, want string) {
			Expect(plan.FormatSize(size)).To(Equal(want))
			got, err := plan.ParseSize(want)
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(Equal(size))
		},
		Entry("remaining", plan.Remaining, "0"),
		Entry("whole mebibytes", 1050*constants.MiB, "1050MiB"),
		Entry("whole gibibytes", 4*constants.GiB, "4GiB"),
		Entry("odd bytes", uint64(1234567), "1234567B"),
	)
})

var _ = Describe("FlagSet", func() {
	It("holds bits 0 through 63", func() {
		var f plan.FlagSet
		Expect(f.Add(0)).To(Succeed())
		Expect(f.Add(63)).To(Succeed())
		Expect(f.Bits()).To(Equal([]int{0, 63}))
	})

	It("rejects bits outside the range", func() {
		var f plan.FlagSet
		Expect(f.Add(64)).ToNot(Succeed())
		Expect(f.Add(-1)).ToNot(Succeed())
	})
})
