// Package sflowgen synthesizes well-formed sFlow v5 datagrams for
// exercising the collector without real switch hardware. It plays the
// same role the teacher's simulator/network_simulator.go plays for the
// routing package: a randomized generator standing in for a live network,
// retargeted here to emit decodable wire bytes instead of a routing
// graph.
package sflowgen

import (
	"encoding/binary"
	"fmt"
	"math/rand"
)

// Generator produces synthetic sFlow datagrams from a small fixed set of
// agents. Each flow sample carries a freshly randomized flow, interface
// and frame length; flows are not reused across samples or agents.
type Generator struct {
	rng *rand.Rand

	AgentIPs   []string
	SamplesPer int // flow samples per generated datagram
}

// New creates a Generator seeded from seed, so output is reproducible
// across runs given the same seed.
func New(seed int64) *Generator {
	return &Generator{
		rng:        rand.New(rand.NewSource(seed)),
		AgentIPs:   []string{"192.168.1.1", "192.168.1.2", "192.168.1.3"},
		SamplesPer: 3,
	}
}

// flow describes one synthetic TCP conversation.
type flow struct {
	srcIP, dstIP     [4]byte
	srcPort, dstPort uint16
}

func (g *Generator) randomFlow() flow {
	return flow{
		srcIP:   [4]byte{10, 0, byte(g.rng.Intn(256)), byte(g.rng.Intn(256))},
		dstIP:   [4]byte{10, 0, byte(g.rng.Intn(256)), byte(g.rng.Intn(256))},
		srcPort: uint16(1024 + g.rng.Intn(60000)),
		dstPort: uint16([]int{80, 443, 22, 8080}[g.rng.Intn(4)]),
	}
}

// NextDatagram builds one datagram from one random agent, carrying
// SamplesPer random TCP flow samples with random frame lengths.
func (g *Generator) NextDatagram() (agentIP string, datagram []byte) {
	agentIP = g.AgentIPs[g.rng.Intn(len(g.AgentIPs))]

	var agentBytes [4]byte
	fmt.Sscanf(agentIP, "%d.%d.%d.%d", &agentBytes[0], &agentBytes[1], &agentBytes[2], &agentBytes[3])

	header := make([]byte, 7*4)
	putWord(header, 0, 5) // version
	putWord(header, 1, 1) // address type
	header[8], header[9], header[10], header[11] = agentBytes[0], agentBytes[1], agentBytes[2], agentBytes[3]
	putWord(header, 3, 1)
	putWord(header, 4, uint32(g.rng.Intn(1<<20)))
	putWord(header, 5, uint32(g.rng.Intn(1<<20)))
	putWord(header, 6, uint32(g.SamplesPer))

	datagram = header
	for i := 0; i < g.SamplesPer; i++ {
		fl := g.randomFlow()
		frameLength := uint32(64 + g.rng.Intn(1436))
		inputPort := uint32(1 + g.rng.Intn(48))
		datagram = append(datagram, buildFlowSample(inputPort, frameLength, 6, fl.srcIP, fl.dstIP, fl.srcPort, fl.dstPort)...)
	}
	return agentIP, datagram
}

func putWord(buf []byte, idx int, v uint32) {
	binary.BigEndian.PutUint32(buf[idx*4:idx*4+4], v)
}

// buildFlowSample constructs a wire-format sFlow flow sample (type 1)
// reproducing the split-word IP packing internal/sflow.Decode expects —
// see that package's doc comment for why the layout overlaps words 23
// and 24 between the source and destination addresses. Word indices
// here (7, 13, 21...) are counted from the sample's own sample_type
// word, matching SFlowCollector.cpp's convention, not internal/sflow's
// body-relative (header-already-stripped) convention.
func buildFlowSample(inputPort, frameLength, protocol uint32, srcIP, dstIP [4]byte, srcPort, dstPort uint16) []byte {
	sample := make([]byte, 26*4)
	binary.BigEndian.PutUint32(sample[0:4], 1) // flow sample type
	putWord(sample, 7, inputPort)
	putWord(sample, 13, frameLength)
	putWord(sample, 21, protocol&0xFF)

	word22 := uint32(srcIP[0])<<8 | uint32(srcIP[1])
	word23 := (uint32(srcIP[2])<<8|uint32(srcIP[3]))<<16 | (uint32(dstIP[0])<<8 | uint32(dstIP[1]))
	word24 := (uint32(dstIP[2])<<8|uint32(dstIP[3]))<<16 | uint32(srcPort)
	word25 := uint32(dstPort) << 16

	putWord(sample, 22, word22)
	putWord(sample, 23, word23)
	putWord(sample, 24, word24)
	putWord(sample, 25, word25)

	bodyLen := len(sample) - 8
	binary.BigEndian.PutUint32(sample[4:8], uint32(bodyLen))
	return sample
}
