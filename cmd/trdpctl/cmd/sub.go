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

package cmd

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/T12z/TCNopen-sub000/protocol"
)

var (
	subComID   uint32
	subTimeout time.Duration
)

func init() {
	RootCmd.AddCommand(subCmd)
	subCmd.Flags().Uint32VarP(&subComID, "comid", "c", 0, "only print telegrams matching this ComId (0 = any)")
	subCmd.Flags().DurationVarP(&subTimeout, "timeout", "t", 0, "stop after this long with no telegram received (0 = run forever)")
}

var subCmd = &cobra.Command{
	Use:   "sub",
	Short: "print PD telegrams arriving on the PD port, bypassing any subscriber table",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		addr := &net.UDPAddr{Port: protocol.PortPD}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			log.Fatalf("trdpctl sub: listen failed: %v", err)
		}
		defer conn.Close()

		buf := make([]byte, 64*1024)
		for {
			if subTimeout > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(subTimeout))
			}
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				log.Fatalf("trdpctl sub: read failed: %v", err)
			}
			pkt, err := protocol.DecodePD(buf[:n])
			if err != nil {
				log.Warnf("trdpctl sub: dropping malformed frame from %s: %v", from, err)
				continue
			}
			if subComID != 0 && pkt.Header.ComId != subComID {
				continue
			}
			fmt.Printf("comId=%d seq=%d from=%s payload=%q\n", pkt.Header.ComId, pkt.Header.SequenceCounter, from, pkt.Payload)
		}
	},
}
