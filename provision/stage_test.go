package provision_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/mount-utils"

	"github.com/jnoliv/mkusb-part/provision"
	"github.com/jnoliv/mkusb-part/types"
)

func actionsOf(mounter *mount.FakeMounter, action mount.FakeAction) []mount.FakeAction {
	var out []mount.FakeAction
	for _, a := range mounter.GetLog() {
		if a.Action == action.Action {
			out = append(out, a)
		}
	}
	return out
}

var _ = Describe("Content stager", func() {
	var runner *fakeRunner
	var mounter *mount.FakeMounter
	var logger types.MkusbLogger
	var stager *provision.Stager

	BeforeEach(func() {
		runner = &fakeRunner{}
		mounter = mount.NewFakeMounter(nil)
		logger = types.NewNullLogger()
		stager = &provision.Stager{
			Image:    "/tmp/os.img",
			RootPath: "/dev/sdb4",
			BootPath: "/dev/sdb3",
			Mounter:  mounter,
			Runner:   runner,
			Logger:   &logger,
		}
	})

	It("mounts image, root and boot, copies payload and subtrees, then unmounts", func() {
		Expect(stager.Stage()).To(Succeed())

		mounts := actionsOf(mounter, mount.FakeAction{Action: mount.FakeActionMount})
		Expect(mounts).To(HaveLen(3))
		Expect(mounts[0].Source).To(Equal("/tmp/os.img"))
		Expect(mounts[1].Source).To(Equal("/dev/sdb4"))
		Expect(mounts[2].Source).To(Equal("/dev/sdb3"))

		unmounts := actionsOf(mounter, mount.FakeAction{Action: mount.FakeActionUnmount})
		Expect(unmounts).To(HaveLen(3))
		// Reverse mount order.
		Expect(unmounts[0].Target).To(Equal(mounts[2].Target))
		Expect(unmounts[2].Target).To(Equal(mounts[0].Target))

		cmds := runner.commands()
		Expect(cmds).To(HaveLen(4))
		Expect(cmds[0]).To(Equal("cp -a " + mounts[0].Target + "/. " + mounts[1].Target))
		Expect(cmds[1]).To(Equal("cp -a " + mounts[0].Target + "/boot " + mounts[2].Target))
		Expect(cmds[2]).To(Equal("cp -a " + mounts[0].Target + "/EFI " + mounts[2].Target))
		Expect(cmds[3]).To(Equal("sync"))
	})

	It("releases every mount when a copy fails", func() {
		runner.failOn = "cp"
		err := stager.Stage()

		var staging *types.StagingError
		Expect(errors.As(err, &staging)).To(BeTrue(), "got %v", err)
		Expect(staging.Step).To(Equal("copy root"))

		Expect(actionsOf(mounter, mount.FakeAction{Action: mount.FakeActionUnmount})).To(HaveLen(3))
	})

	It("copies nothing after a sync failure is reported", func() {
		runner.failOn = "sync"
		err := stager.Stage()
		var staging *types.StagingError
		Expect(errors.As(err, &staging)).To(BeTrue())
		Expect(staging.Step).To(Equal("sync"))
	})
})
