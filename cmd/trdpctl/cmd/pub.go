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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/T12z/TCNopen-sub000/protocol"
)

var (
	pubDest    string
	pubComID   uint32
	pubPayload string
)

func init() {
	RootCmd.AddCommand(pubCmd)
	pubCmd.Flags().StringVarP(&pubDest, "dest", "d", "127.0.0.1", "destination IP to send the PD telegram to")
	pubCmd.Flags().Uint32VarP(&pubComID, "comid", "c", 1, "ComId of the telegram")
	pubCmd.Flags().StringVarP(&pubPayload, "payload", "p", "", "raw payload string to send")
}

var pubCmd = &cobra.Command{
	Use:   "pub",
	Short: "send a single PD telegram to an address, bypassing any scheduler",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		addr := &net.UDPAddr{IP: net.ParseIP(pubDest), Port: protocol.PortPD}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			log.Fatalf("trdpctl pub: dial failed: %v", err)
		}
		defer conn.Close()

		payload := []byte(pubPayload)
		hdr := protocol.Header{
			SequenceCounter: 1,
			ProtocolVersion: protocol.ProtocolVersion,
			MsgType:         protocol.MessagePD,
			ComId:           pubComID,
			DatasetLength:   uint32(len(payload)),
		}

		buf := make([]byte, protocol.HeaderSize+len(payload)+4)
		n, err := protocol.EncodePD(buf, hdr, payload)
		if err != nil {
			log.Fatalf("trdpctl pub: encode failed: %v", err)
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			log.Fatalf("trdpctl pub: send failed: %v", err)
		}
		fmt.Printf("sent %d bytes (comId %d) to %s\n", n, pubComID, addr)
	},
}
