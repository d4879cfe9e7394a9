// Package config holds the immutable run configuration. Precedence, low
// to high: builtin defaults, the YAML config file, the environment file,
// then CLI flags applied by the caller. The result is threaded explicitly
// into each component entry point; nothing reads ambient globals mid-run.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	vfs "github.com/twpayne/go-vfs/v4"
	"gopkg.in/yaml.v3"

	"github.com/jnoliv/mkusb-part/plan"
)

const (
	DefaultConfigFile = "/etc/mkusb-part.yaml"
	DefaultEnvFile    = "/etc/default/mkusb-part"
)

type Config struct {
	Device          string `yaml:"device"`
	Image           string `yaml:"image"`
	PlanFile        string `yaml:"plan"`
	RootSize        string `yaml:"root-size"`
	PersistenceSize string `yaml:"persistence-size"`
	NoStorage       bool   `yaml:"no-storage"`
	ForceUnmount    bool   `yaml:"force-unmount"`
	Resolution      string `yaml:"resolution"`
	LogLevel        string `yaml:"log-level"`
	Quiet           bool   `yaml:"quiet"`
}

func Default() Config {
	return Config{
		PersistenceSize: "4GiB",
		Resolution:      "auto",
		LogLevel:        "info",
	}
}

// Load builds the configuration from the YAML file and environment file,
// both optional. The filesystem is injected so tests run against a fake
// tree.
func Load(fsys vfs.FS, configFile, envFile string) (Config, error) {
	c := Default()

	if configFile == "" {
		configFile = DefaultConfigFile
	}
	if envFile == "" {
		envFile = DefaultEnvFile
	}

	data, err := fsys.ReadFile(configFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("parsing %s: %w", configFile, err)
		}
	case !os.IsNotExist(err):
		return c, fmt.Errorf("reading %s: %w", configFile, err)
	}

	envData, err := fsys.ReadFile(envFile)
	switch {
	case err == nil:
		env, err := godotenv.Unmarshal(string(envData))
		if err != nil {
			return c, fmt.Errorf("parsing %s: %w", envFile, err)
		}
		c.applyEnv(env)
	case !os.IsNotExist(err):
		return c, fmt.Errorf("reading %s: %w", envFile, err)
	}

	return c, nil
}

func (c *Config) applyEnv(env map[string]string) {
	if v, ok := env["MKUSB_DEVICE"]; ok {
		c.Device = v
	}
	if v, ok := env["MKUSB_IMAGE"]; ok {
		c.Image = v
	}
	if v, ok := env["MKUSB_PLAN"]; ok {
		c.PlanFile = v
	}
	if v, ok := env["MKUSB_ROOT_SIZE"]; ok {
		c.RootSize = v
	}
	if v, ok := env["MKUSB_PERSISTENCE_SIZE"]; ok {
		c.PersistenceSize = v
	}
	if v, ok := env["MKUSB_RESOLUTION"]; ok {
		c.Resolution = v
	}
	if v, ok := env["MKUSB_LOG_LEVEL"]; ok {
		c.LogLevel = v
	}
	if v, ok := env["MKUSB_NO_STORAGE"]; ok {
		c.NoStorage = parseBool(v)
	}
	if v, ok := env["MKUSB_FORCE_UNMOUNT"]; ok {
		c.ForceUnmount = parseBool(v)
	}
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

// RootSizeBytes parses the root size override. ok is false when no
// override is set and the size should be derived from the image.
func (c Config) RootSizeBytes() (size uint64, ok bool, err error) {
	if c.RootSize == "" {
		return 0, false, nil
	}
	size, err = plan.ParseSize(c.RootSize)
	if err != nil {
		return 0, false, fmt.Errorf("root size: %w", err)
	}
	return size, true, nil
}

// PersistenceSizeBytes parses the persistence size. Zero disables the
// persistence partition.
func (c Config) PersistenceSizeBytes() (uint64, error) {
	if c.PersistenceSize == "" {
		return 0, nil
	}
	size, err := plan.ParseSize(c.PersistenceSize)
	if err != nil {
		return 0, fmt.Errorf("persistence size: %w", err)
	}
	return size, nil
}
