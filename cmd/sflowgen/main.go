// Command sflowgen sends synthetic sFlow v5 datagrams to a collector for
// manual exercising, using internal/sflowgen to build well-formed wire
// bytes from a handful of simulated agents and randomly generated flows.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/netweaver/sflowcollector/internal/sflowgen"
)

func main() {
	target := flag.String("target", "127.0.0.1:6343", "collector address to send datagrams to")
	rate := flag.Duration("rate", 200*time.Millisecond, "interval between datagrams")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed for datagram generation")
	count := flag.Int("count", 0, "number of datagrams to send, 0 for unlimited")
	flag.Parse()

	addr, err := net.ResolveUDPAddr("udp", *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sflowgen: resolve %s: %v\n", *target, err)
		os.Exit(1)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sflowgen: dial %s: %v\n", *target, err)
		os.Exit(1)
	}
	defer conn.Close()

	gen := sflowgen.New(*seed)

	ticker := time.NewTicker(*rate)
	defer ticker.Stop()

	sent := 0
	for range ticker.C {
		agentIP, datagram := gen.NextDatagram()
		if _, err := conn.Write(datagram); err != nil {
			fmt.Fprintf(os.Stderr, "sflowgen: write: %v\n", err)
			continue
		}
		sent++
		fmt.Printf("sent datagram %d from agent %s (%d bytes)\n", sent, agentIP, len(datagram))

		if *count > 0 && sent >= *count {
			return
		}
	}
}
