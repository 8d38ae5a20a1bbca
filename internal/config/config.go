// Package config implements the Config struct and its
// setDefaults/validate pair, grounded on the teacher's
// internal/conf/conf.go shape (a struct with per-call setDefaults and
// validate methods accumulating errors) adapted from YAML-file loading
// to direct Cobra-flag binding, since spec.md's External Interfaces are
// CLI flags only -- there is no persisted config file in MiniPlex's
// data model, so the teacher's goccy/go-yaml dependency has no home
// here (see DESIGN.md).
package config

import (
	"fmt"
	"net/netip"

	"miniplex/internal/flog"
)

// Mode is the configured forwarding policy, mirroring the xorAdd
// mutually-exclusive switch group in original_source/src/CmdArgs.h.
type Mode int

const (
	ModeHub Mode = iota
	ModeTrunk
	ModePrune
	ModeSwitch
)

// Config is MiniPlex's full runtime configuration, one field per
// spec.md §6 CLI flag.
type Config struct {
	Mode Mode

	LocalAddr string
	LocalPort uint16

	TrunkIP   string
	TrunkPort uint16

	BranchIPs   []string
	BranchPorts []uint16

	BytecodePath string

	SoRcvBuf    int
	TimeoutMS   int
	Concurrency int
	MaxProcessQ int

	ConsoleLevel   flog.Level
	FileLevel      flog.Level
	LogFilePath    string
	LogRotateKB    int
	LogRotateCount int

	Benchmark         bool
	BenchmarkDuration int
}

// SetDefaults fills unset fields with the defaults from spec.md §6 /
// original_source/src/CmdArgs.h.
func (c *Config) SetDefaults() {
	if c.LocalAddr == "" {
		c.LocalAddr = "0.0.0.0"
	}
	if c.SoRcvBuf == 0 {
		c.SoRcvBuf = 512 * 1024
	}
	if c.TimeoutMS == 0 {
		c.TimeoutMS = 10000
	}
	if c.MaxProcessQ == 0 {
		c.MaxProcessQ = 1024
	}
	if c.LogFilePath == "" {
		c.LogFilePath = "MiniPlex.log"
	}
	if c.LogRotateKB == 0 {
		c.LogRotateKB = 5000
	}
	if c.LogRotateCount == 0 {
		c.LogRotateCount = 3
	}
}

// Validate accumulates every configuration error rather than stopping
// at the first, matching the teacher's conf.go validate() pattern.
func (c *Config) Validate() error {
	var errs []error

	if c.LocalPort == 0 {
		errs = append(errs, fmt.Errorf("local_port is required"))
	}
	if _, err := netip.ParseAddr(c.LocalAddr); err != nil {
		errs = append(errs, fmt.Errorf("invalid local_addr %q: %w", c.LocalAddr, err))
	}

	switch c.Mode {
	case ModeTrunk, ModePrune:
		if c.TrunkIP == "" || c.TrunkPort == 0 {
			errs = append(errs, fmt.Errorf("trunk_ip and trunk_port are required in %s mode", modeName(c.Mode)))
		} else if _, err := netip.ParseAddr(c.TrunkIP); err != nil {
			errs = append(errs, fmt.Errorf("invalid trunk_ip %q: %w", c.TrunkIP, err))
		}
	}

	if c.Mode == ModePrune && len(c.BranchIPs) > 0 {
		errs = append(errs, fmt.Errorf("branch_ip/branch_port are disallowed in prune mode"))
	}

	if len(c.BranchIPs) != len(c.BranchPorts) {
		errs = append(errs, fmt.Errorf("branch_ip and branch_port must be supplied in equal numbers, got %d and %d", len(c.BranchIPs), len(c.BranchPorts)))
	}
	for i, ip := range c.BranchIPs {
		if _, err := netip.ParseAddr(ip); err != nil {
			errs = append(errs, fmt.Errorf("invalid branch_ip[%d] %q: %w", i, ip, err))
		}
	}

	if c.Mode == ModeSwitch && c.BytecodePath == "" {
		errs = append(errs, fmt.Errorf("byte_code is required in switch mode"))
	}

	if len(errs) == 0 {
		return nil
	}
	msg := "invalid configuration:"
	for _, e := range errs {
		msg += "\n  " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}

func (m Mode) String() string { return modeName(m) }

func modeName(m Mode) string {
	switch m {
	case ModeHub:
		return "hub"
	case ModeTrunk:
		return "trunk"
	case ModePrune:
		return "prune"
	case ModeSwitch:
		return "switch"
	default:
		return "unknown"
	}
}
