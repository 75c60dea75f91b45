/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config implements the daemon's static and dynamic configuration:
// YAML loading/writing, sanity checks, and the pid file helpers used by
// cmd/trdpd.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"
)

var errInsaneCycleTime = errors.New("pd cycle time is outside of sane range")

// StaticConfig is the set of options that require a daemon restart to
// take effect: interface bindings, worker topology, logging.
type StaticConfig struct {
	ConfigFile     string
	DebugAddr      string
	Interface      string
	IP             net.IP
	LogLevel       string
	MonitoringPort int
	PidFile        string
	PDWorkers      int
	MDTCPEnabled   bool
}

// DynamicConfig is the set of options a running daemon can reload
// without a restart: redundancy and scheduling tunables.
type DynamicConfig struct {
	// EtbTopoCnt is the operational train topology counter this session
	// currently expects on inbound traffic.
	EtbTopoCnt uint32
	// OpTrnTopoCnt is the operational train composition counter.
	OpTrnTopoCnt uint32
	// DefaultCycleTime is the configured PD cycle time; ReadDynamicConfig
	// rejects values outside CycleTimeSanity's range. It is not passed to
	// the session: each publication takes its own PublishParams.Interval.
	DefaultCycleTime time.Duration
	// DefaultTimeout is the configured subscriber timeout. It is not
	// passed to the session: a subscription without a timeout of its own
	// never times out.
	DefaultTimeout time.Duration
	// RedundancyLeaderIP names the subnet that leads on process start,
	// before any link-state transition has been observed.
	RedundancyLeaderIP net.IP
}

// Config is the full daemon configuration.
type Config struct {
	StaticConfig
	DynamicConfig
}

// CycleTimeSanity rejects a cycle time outside TRDP's practical range:
// sub-millisecond cycles saturate a worker, multi-minute ones defeat the
// point of a "process data" cyclic publication.
func (dc *DynamicConfig) CycleTimeSanity() error {
	if dc.DefaultCycleTime < time.Millisecond || dc.DefaultCycleTime > 10*time.Minute {
		return errInsaneCycleTime
	}
	return nil
}

// ReadDynamicConfig loads the reloadable half of the configuration from
// a YAML file and sanity-checks it before returning.
func ReadDynamicConfig(path string) (*DynamicConfig, error) {
	dc := &DynamicConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, dc); err != nil {
		return nil, err
	}
	if err := dc.CycleTimeSanity(); err != nil {
		return nil, err
	}
	return dc, nil
}

// Write serializes dc as YAML to path.
func (dc *DynamicConfig) Write(path string) error {
	d, err := yaml.Marshal(dc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, d, 0644)
}

// ReadStaticConfig loads the restart-only half of the configuration.
func ReadStaticConfig(path string) (*StaticConfig, error) {
	sc := &StaticConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// IfaceHasIP reports whether c.IP is bound to c.Interface.
func (c *Config) IfaceHasIP() (bool, error) {
	ips, err := ifaceIPs(c.Interface)
	if err != nil {
		return false, err
	}
	for _, ip := range ips {
		if c.IP.Equal(ip) {
			return true, nil
		}
	}
	return false, nil
}

// CreatePidFile writes the current process id to c.PidFile.
func (c *Config) CreatePidFile() error {
	return os.WriteFile(c.PidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// DeletePidFile removes c.PidFile.
func (c *Config) DeletePidFile() error {
	return os.Remove(c.PidFile)
}

// ReadPidFile reads a pid previously written by CreatePidFile.
func ReadPidFile(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimRight(string(content), "\n"))
}

func ifaceIPs(iface string) ([]net.IP, error) {
	i, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	addrs, err := i.Addrs()
	if err != nil {
		return nil, err
	}
	res := make([]net.IP, 0, len(addrs)+2)
	for _, addr := range addrs {
		if ipn, ok := addr.(*net.IPNet); ok {
			res = append(res, ipn.IP)
		}
	}
	res = append(res, net.IPv6zero, net.IPv4zero)
	return res, nil
}
