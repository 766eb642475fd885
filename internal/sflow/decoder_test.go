package sflow

import (
	"encoding/binary"
	"errors"
	"testing"
)

// putWord writes v as a big-endian 32-bit word at word index idx,
// growing buf if necessary.
func putWord(buf []byte, idx int, v uint32) []byte {
	need := idx*4 + 4
	if len(buf) < need {
		grown := make([]byte, need)
		copy(grown, buf)
		buf = grown
	}
	binary.BigEndian.PutUint32(buf[idx*4:idx*4+4], v)
	return buf
}

func datagramHeader(agentIPBytes [4]byte, sampleCount uint32) []byte {
	buf := make([]byte, headerWords*4)
	buf = putWord(buf, 0, 5) // version
	buf = putWord(buf, 1, 1) // address type (unused)
	buf[8], buf[9], buf[10], buf[11] = agentIPBytes[0], agentIPBytes[1], agentIPBytes[2], agentIPBytes[3]
	buf = putWord(buf, 3, 1)           // sub-agent id
	buf = putWord(buf, 4, 42)          // sequence number
	buf = putWord(buf, 5, 123456)      // uptime
	buf = putWord(buf, 6, sampleCount) // sample count
	return buf
}

// buildFlowSample constructs a wire-format flow sample (type 1): a
// 2-word (sample_type, sample_length) header followed by a body whose
// word positions match the original exporter's layout exactly — i.e.
// word indices here are counted from sample_type itself, the same
// convention SFlowCollector.cpp uses, NOT the decoder's body-relative
// convention (which starts 2 words later). This is deliberate: the
// fixture must encode the original's true byte layout independently of
// the decoder's own offset arithmetic, or a shift bug in one would be
// invisible against the other.
//
// Word 23 is read twice by the decoder (as the tail of the source
// address and the head of the destination address) and word 24 likewise
// (tail of the destination address, head of the source port) — this
// mirrors the original exporter's overlapping layout exactly, so the
// fixture below packs both halves into the shared words rather than
// writing them independently.
func buildFlowSample(inputPort, frameLength, protocol uint32, srcIP, dstIP [4]byte, srcPort, dstPort uint16) []byte {
	sample := make([]byte, 26*4)
	binary.BigEndian.PutUint32(sample[0:4], sampleTypeFlow)
	sample = putWord(sample, 7, inputPort)
	sample = putWord(sample, 13, frameLength)
	sample = putWord(sample, 21, protocol&0xFF)

	word22 := uint32(srcIP[0])<<8 | uint32(srcIP[1])
	word23 := (uint32(srcIP[2])<<8|uint32(srcIP[3]))<<16 | (uint32(dstIP[0])<<8 | uint32(dstIP[1]))
	word24 := (uint32(dstIP[2])<<8|uint32(dstIP[3]))<<16 | uint32(srcPort)
	word25 := uint32(dstPort) << 16

	sample = putWord(sample, 22, word22)
	sample = putWord(sample, 23, word23)
	sample = putWord(sample, 24, word24)
	sample = putWord(sample, 25, word25)

	bodyLen := len(sample) - 8
	binary.BigEndian.PutUint32(sample[4:8], uint32(bodyLen))
	return sample
}

func TestVersionGateRejectsNonV5(t *testing.T) {
	buf := datagramHeader([4]byte{192, 168, 1, 1}, 0)
	buf = putWord(buf, 0, 4) // bogus version

	_, samples, err := Decode(buf)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	if samples != nil {
		t.Fatalf("expected no samples on version rejection, got %d", len(samples))
	}
}

func TestTruncatedDatagramRejected(t *testing.T) {
	_, _, err := Decode([]byte{0, 0, 0, 5})
	if !errors.Is(err, ErrTruncatedDatagram) {
		t.Fatalf("expected ErrTruncatedDatagram, got %v", err)
	}
}

// Field offsets below (4+15+3, 4+15+5, ...) are counted from
// sample_type itself, the same convention SFlowCollector.cpp uses, so
// this fixture encodes the original's true byte layout independently of
// the decoder's own (body-relative, header-already-stripped) offset
// arithmetic.
func TestCounterSampleDecoding(t *testing.T) {
	buf := datagramHeader([4]byte{192, 168, 1, 1}, 1)

	sample := make([]byte, 38*4)
	binary.BigEndian.PutUint32(sample[0:4], sampleTypeCounter)
	sample = putWord(sample, 4+15+3, 3)              // interface index
	sample = putWord(sample, 4+15+5, 0)              // speed high
	sample = putWord(sample, 4+15+6, 1_000_000_000)  // speed low
	sample = putWord(sample, 4+15+9, 0)              // input octets high
	sample = putWord(sample, 4+15+10, 1_000_000)     // input octets low
	sample = putWord(sample, 4+15+17, 0)             // output octets high
	sample = putWord(sample, 4+15+18, 2_000_000)     // output octets low

	bodyLen := len(sample) - 8
	binary.BigEndian.PutUint32(sample[4:8], uint32(bodyLen))

	buf = append(buf, sample...)

	agentIP, samples, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agentIP != "192.168.1.1" {
		t.Fatalf("agentIP = %s, want 192.168.1.1", agentIP)
	}
	if len(samples) != 1 || samples[0].Counter == nil {
		t.Fatalf("expected exactly one counter sample, got %+v", samples)
	}
	cs := samples[0].Counter
	if cs.InterfaceIndex != 3 {
		t.Errorf("InterfaceIndex = %d, want 3", cs.InterfaceIndex)
	}
	if cs.InputOctets != 1_000_000 {
		t.Errorf("InputOctets = %d, want 1000000", cs.InputOctets)
	}
	if cs.OutputOctets != 2_000_000 {
		t.Errorf("OutputOctets = %d, want 2000000", cs.OutputOctets)
	}
}

func TestFlowSampleTCPDecoding(t *testing.T) {
	buf := datagramHeader([4]byte{192, 168, 1, 1}, 1)
	sample := buildFlowSample(1, 1500, 6, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1000, 80)
	buf = append(buf, sample...)

	_, samples, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 1 || samples[0].Flow == nil {
		t.Fatalf("expected exactly one flow sample, got %+v", samples)
	}
	fs := samples[0].Flow
	if fs.Protocol != 6 {
		t.Errorf("Protocol = %d, want 6", fs.Protocol)
	}
	if fs.FrameLength != 1500 {
		t.Errorf("FrameLength = %d, want 1500", fs.FrameLength)
	}
	if fs.InputPort != 1 {
		t.Errorf("InputPort = %d, want 1", fs.InputPort)
	}
}

func TestSampleAdvanceVisitsExactCountAndUnknownTypeIsSkipped(t *testing.T) {
	buf := datagramHeader([4]byte{10, 0, 0, 9}, 2)

	flow := buildFlowSample(1, 1500, 6, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1000, 80)
	unknown := make([]byte, 8+16)
	binary.BigEndian.PutUint32(unknown[0:4], 99) // unrecognized sample type
	binary.BigEndian.PutUint32(unknown[4:8], 16)

	buf = append(buf, flow...)
	buf = append(buf, unknown...)

	_, samples, err := Decode(buf)
	if !errors.Is(err, ErrUnknownSampleType) {
		t.Fatalf("expected ErrUnknownSampleType joined into err, got %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("expected exactly 1 recognized sample out of 2 visited, got %d", len(samples))
	}
}

func TestUDPFlowSampleStillDecodesProtocol(t *testing.T) {
	// The decoder itself does not filter by protocol — that gate lives
	// at the collector dispatch site — so a UDP (protocol 17) sample
	// still decodes; only the protocol field distinguishes it.
	buf := datagramHeader([4]byte{192, 168, 1, 1}, 1)
	sample := buildFlowSample(1, 512, 17, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 2000, 53)
	buf = append(buf, sample...)

	_, samples, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 1 || samples[0].Flow.Protocol != 17 {
		t.Fatalf("expected a decoded UDP flow sample, got %+v", samples)
	}
}
