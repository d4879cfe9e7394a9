package main

import (
	"fmt"
	"os"

	"github.com/jaypipes/ghw"
	"github.com/pterm/pterm"
	vfs "github.com/twpayne/go-vfs/v4"
	"github.com/urfave/cli/v2"
	"k8s.io/mount-utils"

	"github.com/jnoliv/mkusb-part/block"
	"github.com/jnoliv/mkusb-part/config"
	"github.com/jnoliv/mkusb-part/layout"
	"github.com/jnoliv/mkusb-part/plan"
	"github.com/jnoliv/mkusb-part/provision"
	"github.com/jnoliv/mkusb-part/types"
)

var (
	deviceFlag = &cli.StringFlag{
		Name:  "device",
		Usage: "target block device (e.g. /dev/sdb)",
	}

	imageFlag = &cli.StringFlag{
		Name:  "image",
		Usage: "OS image to stage onto the device",
	}

	planFlag = &cli.StringFlag{
		Name:  "plan",
		Usage: "partition plan file (overrides the builtin layouts)",
	}

	rootSizeFlag = &cli.StringFlag{
		Name:  "root-size",
		Usage: "root partition size (e.g. 4GiB); default is 105% of the image",
	}

	persistenceSizeFlag = &cli.StringFlag{
		Name:  "persistence-size",
		Usage: "persistence partition size; 0 disables persistence",
	}

	noStorageFlag = &cli.BoolFlag{
		Name:  "no-storage",
		Usage: "skip the Windows-compatible storage partition",
	}

	forceUnmountFlag = &cli.BoolFlag{
		Name:  "force-unmount",
		Usage: "unmount any mounted partitions of the device before writing",
	}

	resolutionFlag = &cli.StringFlag{
		Name:  "resolution",
		Usage: "console resolution written to the bootloader configuration",
	}

	yesFlag = &cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "skip the destructive-write confirmation",
	}

	planTextFlag = &cli.BoolFlag{
		Name:  "plan-text",
		Usage: "print the resolved layout in plan-text form",
	}

	configFlag = &cli.StringFlag{
		Name:  "config",
		Value: config.DefaultConfigFile,
		Usage: "configuration file",
	}

	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "enable debug logging",
	}

	quietFlag = &cli.BoolFlag{
		Name:  "quiet",
		Usage: "do not log to the console",
	}
)

func loadConfig(cCtx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(vfs.OSFS, cCtx.String("config"), "")
	if err != nil {
		return cfg, err
	}
	if cCtx.IsSet("device") {
		cfg.Device = cCtx.String("device")
	}
	if cCtx.IsSet("image") {
		cfg.Image = cCtx.String("image")
	}
	if cCtx.IsSet("plan") {
		cfg.PlanFile = cCtx.String("plan")
	}
	if cCtx.IsSet("root-size") {
		cfg.RootSize = cCtx.String("root-size")
	}
	if cCtx.IsSet("persistence-size") {
		cfg.PersistenceSize = cCtx.String("persistence-size")
	}
	if cCtx.IsSet("no-storage") {
		cfg.NoStorage = cCtx.Bool("no-storage")
	}
	if cCtx.IsSet("force-unmount") {
		cfg.ForceUnmount = cCtx.Bool("force-unmount")
	}
	if cCtx.IsSet("resolution") {
		cfg.Resolution = cCtx.String("resolution")
	}
	if cCtx.Bool("debug") {
		cfg.LogLevel = "debug"
	}
	if cCtx.Bool("quiet") {
		cfg.Quiet = true
	}
	return cfg, nil
}

func newLogger(cfg config.Config) types.MkusbLogger {
	return types.NewMkusbLogger("mkusb", cfg.LogLevel, cfg.Quiet)
}

// resolveLayout builds the resolved layout for the run: a user-supplied
// plan file when given, else the builtin policy selected by the
// storage/persistence inputs.
func resolveLayout(cfg config.Config, paths *block.Paths, logger *types.MkusbLogger) (*layout.Resolved, error) {
	if cfg.Device == "" {
		return nil, &types.UsageError{Reason: "no target device given"}
	}
	capacity, err := block.DeviceSizeBytes(paths, cfg.Device, logger)
	if err != nil {
		return nil, err
	}

	if cfg.PlanFile != "" {
		f, err := os.Open(cfg.PlanFile)
		if err != nil {
			return nil, fmt.Errorf("opening plan %s: %w", cfg.PlanFile, err)
		}
		defer f.Close()
		p, err := plan.Parse(f)
		if err != nil {
			return nil, err
		}
		return layout.Resolve(p, capacity)
	}

	rootSize, ok, err := cfg.RootSizeBytes()
	if err != nil {
		return nil, err
	}
	if !ok {
		if cfg.Image == "" {
			return nil, &types.UsageError{Reason: "no image and no root size override given"}
		}
		imageSize, err := block.ImageSizeBytes(cfg.Image, logger)
		if err != nil {
			return nil, err
		}
		rootSize = layout.RootSizeForImage(imageSize)
	}
	persistenceSize, err := cfg.PersistenceSizeBytes()
	if err != nil {
		return nil, err
	}

	opts := layout.PolicyOptions{RootSize: rootSize, PersistenceSize: persistenceSize}
	return layout.ForPolicy(!cfg.NoStorage, opts, capacity)
}

func layoutTable(device string, resolved *layout.Resolved) pterm.TableData {
	data := pterm.TableData{{"Slot", "Position", "Path", "Name", "Filesystem", "Size"}}
	for _, e := range resolved.Entries {
		data = append(data, []string{
			fmt.Sprintf("%d", e.SlotIndex),
			fmt.Sprintf("%d", e.PhysicalPosition),
			block.PartitionPath(device, e.SlotIndex),
			e.Name,
			string(e.Filesystem),
			plan.FormatSize(e.SizeBytes),
		})
	}
	return data
}

func writeCommand() *cli.Command {
	return &cli.Command{
		Name:  "write",
		Usage: "provision the device: partition table, filesystems, OS content, bootloader",
		Flags: []cli.Flag{
			deviceFlag, imageFlag, planFlag, rootSizeFlag, persistenceSizeFlag,
			noStorageFlag, forceUnmountFlag, resolutionFlag, yesFlag,
		},
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx)
			if err != nil {
				return err
			}
			if cfg.Image == "" {
				return &types.UsageError{Reason: "no OS image given"}
			}
			logger := newLogger(cfg)
			paths := block.NewPaths("")

			resolved, err := resolveLayout(cfg, paths, &logger)
			if err != nil {
				return err
			}

			if !cfg.Quiet {
				_ = pterm.DefaultTable.WithHasHeader().WithData(layoutTable(cfg.Device, resolved)).Render()
			}
			if !cCtx.Bool("yes") {
				ok, _ := pterm.DefaultInteractiveConfirm.
					Show(fmt.Sprintf("This will destroy all data on %s. Continue?", cfg.Device))
				if !ok {
					return fmt.Errorf("aborted")
				}
			}

			pipeline := &provision.Pipeline{
				Device:       cfg.Device,
				Image:        cfg.Image,
				Layout:       resolved,
				ForceUnmount: cfg.ForceUnmount,
				Resolution:   cfg.Resolution,
				Paths:        paths,
				Runner:       types.NewExecRunner(&logger),
				Mounter:      mount.New(""),
				Logger:       &logger,
			}
			return pipeline.Run()
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "resolve the partition layout and print it without touching the device",
		Flags: []cli.Flag{
			deviceFlag, imageFlag, planFlag, rootSizeFlag, persistenceSizeFlag,
			noStorageFlag, planTextFlag,
		},
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			paths := block.NewPaths("")

			resolved, err := resolveLayout(cfg, paths, &logger)
			if err != nil {
				return err
			}
			if cCtx.Bool("plan-text") {
				fmt.Print(resolved.PlanText())
				return nil
			}
			return pterm.DefaultTable.WithHasHeader().WithData(layoutTable(cfg.Device, resolved)).Render()
		},
	}
}

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "list candidate target disks",
		Action: func(cCtx *cli.Context) error {
			info, err := ghw.Block()
			if err != nil {
				return fmt.Errorf("scanning block devices: %w", err)
			}
			data := pterm.TableData{{"Device", "Size", "Removable", "Model"}}
			for _, d := range info.Disks {
				data = append(data, []string{
					"/dev/" + d.Name,
					plan.FormatSize(d.SizeBytes),
					fmt.Sprintf("%v", d.IsRemovable),
					d.Model,
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}
}

func unmountCommand() *cli.Command {
	return &cli.Command{
		Name:  "unmount",
		Usage: "unmount every mounted partition of the device",
		Flags: []cli.Flag{deviceFlag},
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx)
			if err != nil {
				return err
			}
			if cfg.Device == "" {
				return &types.UsageError{Reason: "no target device given"}
			}
			logger := newLogger(cfg)
			return block.EnsureUnmounted(block.NewPaths(""), cfg.Device, true, mount.New(""), &logger)
		},
	}
}

func main() {
	app := &cli.App{
		Name:  "mkusb-part",
		Usage: "provision a block device into a bootable live-USB layout",
		Flags: []cli.Flag{configFlag, debugFlag, quietFlag},
		Commands: []*cli.Command{
			writeCommand(),
			resolveCommand(),
			devicesCommand(),
			unmountCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err)
		os.Exit(types.ExitCode(err))
	}
}
