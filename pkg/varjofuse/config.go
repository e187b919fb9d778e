package varjofuse

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/function61/gokit/jsonfile"
	"github.com/function61/varjo/pkg/pathnamepool"
	"github.com/robfig/cron/v3"
)

const (
	ConfigFilename = "varjo-config.json"

	defaultControlAddr  = ":8690"
	defaultReapSchedule = "@every 10s"
	defaultAttrCacheTtl = 1 * time.Second
)

type Config struct {
	LowerDir       string `json:"lower_dir"`  // the mirrored directory
	MountPath      string `json:"mount_path"` // where the mirror appears
	ControlAddr    string `json:"control_addr"`
	BlockDb        string `json:"block_db"` // "" = blocks don't survive restarts
	ReapSchedule   string `json:"reap_schedule"`
	MaxNodes       int    `json:"max_nodes"` // 0 = unlimited
	MaxPathLen     int    `json:"max_path_len"`
	AttrCacheTtlMs int    `json:"attr_cache_ttl_ms"` // -1 = no caching
	AllowOther     bool   `json:"allow_other"`
}

func ReadConfig(path string) (*Config, error) {
	conf := &Config{}
	if err := jsonfile.Read(path, conf, true); err != nil {
		return nil, err
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return conf, nil
}

// fills in defaults and makes the paths absolute
func (c *Config) Validate() error {
	if c.LowerDir == "" {
		return errors.New("lower_dir not set")
	}

	if c.MountPath == "" {
		return errors.New("mount_path not set")
	}

	var err error
	if c.LowerDir, err = filepath.Abs(c.LowerDir); err != nil {
		return err
	}
	if c.MountPath, err = filepath.Abs(c.MountPath); err != nil {
		return err
	}

	lowerInfo, err := os.Stat(c.LowerDir)
	if err != nil {
		return fmt.Errorf("lower_dir: %w", err)
	}
	if !lowerInfo.IsDir() {
		return fmt.Errorf("lower_dir %s is not a directory", c.LowerDir)
	}

	// we'd end up looking up our own mount
	if isSameOrUnder(c.MountPath, c.LowerDir) {
		return fmt.Errorf("mount_path %s is inside lower_dir %s", c.MountPath, c.LowerDir)
	}

	if c.ControlAddr == "" {
		c.ControlAddr = defaultControlAddr
	}

	if c.ReapSchedule == "" {
		c.ReapSchedule = defaultReapSchedule
	}

	if _, err := c.reapSchedule(); err != nil {
		return fmt.Errorf("reap_schedule: %w", err)
	}

	if c.MaxNodes < 0 {
		return fmt.Errorf("max_nodes cannot be negative: %d", c.MaxNodes)
	}

	if c.MaxPathLen == 0 {
		c.MaxPathLen = pathnamepool.DefaultCapacity
	}

	// must at least fit the root's name + terminator
	if c.MaxPathLen <= len(c.LowerDir)+1 {
		return fmt.Errorf("max_path_len %d too small for lower_dir %s", c.MaxPathLen, c.LowerDir)
	}

	if c.AttrCacheTtlMs == 0 {
		c.AttrCacheTtlMs = int(defaultAttrCacheTtl / time.Millisecond)
	}

	return nil
}

func (c *Config) attrCacheTtl() time.Duration {
	if c.AttrCacheTtlMs < 0 {
		return 0
	}

	return time.Duration(c.AttrCacheTtlMs) * time.Millisecond
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func (c *Config) reapSchedule() (cron.Schedule, error) {
	return cronParser.Parse(c.ReapSchedule)
}

func WriteConfig(path string, conf *Config) error {
	return jsonfile.Write(path, conf)
}

func isSameOrUnder(path string, dir string) bool {
	return path == dir || strings.HasPrefix(path, strings.TrimSuffix(dir, "/")+"/")
}
