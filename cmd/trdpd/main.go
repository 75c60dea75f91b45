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

package main

import (
	"errors"
	"flag"
	"net"
	"net/http"
	_ "net/http/pprof"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/T12z/TCNopen-sub000/config"
	"github.com/T12z/TCNopen-sub000/session"
	"github.com/T12z/TCNopen-sub000/stats"
)

func main() {
	c := &config.Config{
		DynamicConfig: config.DynamicConfig{
			DefaultCycleTime: 100 * time.Millisecond,
			DefaultTimeout:   3 * time.Second,
		},
	}

	var ipaddr string

	flag.IntVar(&c.MonitoringPort, "monitoringport", 8888, "port to run the json stats server on")
	flag.IntVar(&c.PDWorkers, "workers", 4, "number of publisher scheduler workers")
	flag.BoolVar(&c.MDTCPEnabled, "mdtcp", false, "accept MD sessions over TCP in addition to UDP")
	flag.StringVar(&c.ConfigFile, "config", "", "path to a config file with dynamic settings")
	flag.StringVar(&c.DebugAddr, "pprofaddr", "", "host:port for the pprof endpoint to bind")
	flag.StringVar(&c.Interface, "iface", "eth0", "interface to bind on")
	flag.StringVar(&c.LogLevel, "loglevel", "warning", "log level: debug, info, warning, error")
	flag.StringVar(&c.PidFile, "pidfile", "/var/run/trdpd.pid", "pid file location")
	flag.StringVar(&ipaddr, "ip", "0.0.0.0", "IP to bind PD/MD sockets on")
	flag.Parse()

	switch c.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("unrecognized log level: %v", c.LogLevel)
	}

	if c.ConfigFile != "" {
		dc, err := config.ReadDynamicConfig(c.ConfigFile)
		if err != nil {
			log.Fatal(err)
		}
		c.DynamicConfig = *dc
	}

	c.IP = net.ParseIP(ipaddr)
	if found, err := c.IfaceHasIP(); err != nil {
		log.Fatal(err)
	} else if !found {
		log.Fatalf("IP '%s' is not found on interface '%s'", c.IP, c.Interface)
	}

	if c.DebugAddr != "" {
		log.Warningf("starting profiler on %s", c.DebugAddr)
		go func() {
			log.Println(http.ListenAndServe(c.DebugAddr, nil))
		}()
	}

	if err := c.CreatePidFile(); err != nil {
		log.Fatalf("failed to write pid file: %v", err)
	}
	defer c.DeletePidFile()

	st := stats.NewJSONStats()
	go st.Start(c.MonitoringPort)

	sess, err := session.OpenSession(session.Config{
		OwnIP:        c.IP,
		LeaderIP:     c.RedundancyLeaderIP,
		Interface:    c.Interface,
		Workers:      c.PDWorkers,
		MDTCPEnabled: c.MDTCPEnabled,
		Stats:        st,
	})
	if err != nil {
		log.Fatalf("failed to open session: %v", err)
	}
	defer sess.CloseSession()

	sess.UpdateSession()
	log.Infof("trdpd listening on %s (iface %s)", c.IP, c.Interface)

	runWorkCycle(sess)
}

// runWorkCycle is the non-blocking work cycle loop (spec.md 4.5): size a
// wait from GetInterval, poll the returned descriptors, drain whatever
// is readable, then drive the publisher/subscriber/MD due-lists. It
// never spawns a goroutine per session; a single thread is load-bearing
// to the ordering invariants.
func runWorkCycle(sess *session.Session) {
	for {
		now := time.Now()
		wait, fds := sess.GetInterval(now)
		readable := pollReadable(fds, wait)
		if len(readable) > 0 {
			sess.ProcessReceive(readable)
		}
		sess.ProcessSend(time.Now())
	}
}

// pollReadable polls fds for readability for up to wait and returns the
// subset that became readable (or none, on a plain timeout).
func pollReadable(fds []int, wait time.Duration) []int {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	for {
		_, err := unix.Poll(pfds, int(wait.Milliseconds()))
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return nil
		}
		break
	}

	readable := make([]int, 0, len(pfds))
	for _, pfd := range pfds {
		if pfd.Revents&unix.POLLIN != 0 {
			readable = append(readable, int(pfd.Fd))
		}
	}
	return readable
}
