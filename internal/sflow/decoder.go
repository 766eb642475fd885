// Package sflow decodes sFlow v5 datagrams into typed counter and flow
// samples.
//
// The word-offset arithmetic below is reproduced from the exporter this
// core was built against rather than derived from a fresh reading of
// RFC 3176: several offsets (notably the split-word IP reconstruction in
// parseFlowSampleBody) do not line up with a strict interpretation of the
// standard sample formats. This is deliberate — see SPEC_FULL.md §4.1 —
// and any correctness fix must be verified against real exporter traces
// before the offsets below are touched.
package sflow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"go.uber.org/multierr"
)

// Recognized sample types (sFlow v5, word 0 of each sample).
const (
	sampleTypeFlow    = 1
	sampleTypeCounter = 2
)

const (
	headerWords = 7 // version, addr type, agent ip, sub-agent, seq, uptime, sample count
	wordSize    = 4
)

// Sentinel errors. ErrUnsupportedVersion, and ErrTruncatedDatagram for a
// datagram too short to hold its header, abort decoding with no samples.
// ErrTruncatedDatagram for a sample that overruns the datagram is joined
// into the returned error and stops decoding, keeping the samples already
// decoded. ErrTruncatedDatagram for a recognized sample whose body is too
// short, and ErrUnknownSampleType, are non-fatal: they are joined into the
// returned error via multierr, and decoding continues with the next
// sample.
var (
	ErrUnsupportedVersion = errors.New("sflow: unsupported version")
	ErrTruncatedDatagram  = errors.New("sflow: truncated datagram")
	ErrUnknownSampleType  = errors.New("sflow: unknown sample type")
)

// FlowSample is a decoded packet flow sample.
type FlowSample struct {
	InputPort   uint32
	FrameLength uint32
	Protocol    uint8
	SrcIP       string
	DstIP       string
	SrcPort     uint16
	DstPort     uint16
}

// CounterSample is a decoded interface counter sample.
type CounterSample struct {
	InterfaceIndex uint32
	InterfaceSpeed uint64
	InputOctets    uint64
	OutputOctets   uint64
}

// Sample is a decoded sample of either kind. Exactly one of Flow or
// Counter is non-nil.
type Sample struct {
	Flow    *FlowSample
	Counter *CounterSample
}

// Decode parses one sFlow v5 datagram. On success it returns the
// exporter's agent IP and every recognized sample found in wire order.
// Per-sample problems (an unrecognized sample type, or a recognized
// sample whose body is too short for its fields) are non-fatal: the
// sample is skipped, its error is joined into the returned error, and
// decoding resumes at the next sample boundary. A sample whose header or
// declared length doesn't fit the remaining buffer ends decoding: its
// error is joined in and the samples decoded before it are returned. A
// bad datagram header (wrong version, too short to hold one) is fatal and
// returns no samples.
func Decode(datagram []byte) (agentIP string, samples []Sample, err error) {
	if len(datagram) < headerWords*wordSize {
		return "", nil, fmt.Errorf("%w: %d bytes", ErrTruncatedDatagram, len(datagram))
	}

	version, _ := readWord(datagram, 0)
	if version != 5 {
		return "", nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	// Word 1 (IP address type) is unused by this core.
	agentIP = net.IPv4(datagram[8], datagram[9], datagram[10], datagram[11]).String()
	sampleCount, _ := readWord(datagram, 6)

	offset := headerWords
	var errs error
	for i := uint32(0); i < sampleCount; i++ {
		sampleType, ok := readWord(datagram, offset)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: sample %d header", ErrTruncatedDatagram, i))
			break
		}
		sampleLength, ok := readWord(datagram, offset+1)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: sample %d length", ErrTruncatedDatagram, i))
			break
		}

		body := datagram[offsetBytes(offset+2):]
		bodyLen := int(sampleLength)
		if bodyLen < 0 || bodyLen > len(body) {
			errs = multierr.Append(errs, fmt.Errorf("%w: sample %d length %d exceeds datagram", ErrTruncatedDatagram, i, sampleLength))
			break
		}
		body = body[:bodyLen]

		switch sampleType {
		case sampleTypeCounter:
			if cs, ok := parseCounterSampleBody(body); ok {
				samples = append(samples, Sample{Counter: cs})
			} else {
				errs = multierr.Append(errs, fmt.Errorf("%w: truncated counter sample %d", ErrTruncatedDatagram, i))
			}
		case sampleTypeFlow:
			if fs, ok := parseFlowSampleBody(body); ok {
				samples = append(samples, Sample{Flow: fs})
			} else {
				errs = multierr.Append(errs, fmt.Errorf("%w: truncated flow sample %d", ErrTruncatedDatagram, i))
			}
		default:
			errs = multierr.Append(errs, fmt.Errorf("%w: %d", ErrUnknownSampleType, sampleType))
		}

		// Advance by sample_length/4 + 2 words regardless of whether the
		// type was recognized, per spec.md §4.1.
		offset += int(sampleLength)/wordSize + 2
	}

	return agentIP, samples, errs
}

// readWord reads the 32-bit big-endian word at the given word index,
// relative to the start of the datagram. ok is false if the word would
// read past the end of the buffer.
func readWord(datagram []byte, wordIndex int) (uint32, bool) {
	start := offsetBytes(wordIndex)
	if wordIndex < 0 || start+wordSize > len(datagram) {
		return 0, false
	}
	return binary.BigEndian.Uint32(datagram[start : start+wordSize]), true
}

func offsetBytes(wordIndex int) int {
	return wordIndex * wordSize
}

// parseCounterSampleBody extracts the fields this core cares about from a
// counter sample body. Offsets are word indices relative to the start of
// the sample body — i.e. relative to the word immediately after the
// sample's own (sample_type, sample_length) header, which Decode has
// already stripped off before calling this. The original exporter's
// offsets (SFlowCollector.cpp) are counted from sample_type itself, two
// words earlier, so each magic constant here is the original's minus 2.
func parseCounterSampleBody(body []byte) (*CounterSample, bool) {
	interfaceIndex, ok := readWord(body, 4+15+1)
	if !ok {
		return nil, false
	}
	speedHigh, ok1 := readWord(body, 4+15+3)
	speedLow, ok2 := readWord(body, 4+15+4)
	inHigh, ok3 := readWord(body, 4+15+7)
	inLow, ok4 := readWord(body, 4+15+8)
	outHigh, ok5 := readWord(body, 4+15+15)
	outLow, ok6 := readWord(body, 4+15+16)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return nil, false
	}

	return &CounterSample{
		InterfaceIndex: interfaceIndex,
		InterfaceSpeed: concat64(speedHigh, speedLow),
		InputOctets:    concat64(inHigh, inLow),
		OutputOctets:   concat64(outHigh, outLow),
	}, true
}

// parseFlowSampleBody extracts the fields this core cares about from a
// flow sample body. Offsets are word indices relative to the start of
// the sample body, the same two-words-stripped convention documented on
// parseCounterSampleBody above (the original's offsets, counted from
// sample_type, minus 2). The source/destination IPv4 reconstruction
// packs bytes from two overlapping words rather than one aligned word —
// this mirrors the exporter's own (non-standard) layout; see the
// package doc comment.
func parseFlowSampleBody(body []byte) (*FlowSample, bool) {
	inputPort, ok1 := readWord(body, 5)
	frameLength, ok2 := readWord(body, 11)
	protocolWord, ok3 := readWord(body, 19)
	srcFront, ok4 := readWord(body, 20)
	srcBack, ok5 := readWord(body, 21)
	dstFront, ok6 := readWord(body, 21)
	dstBack, ok7 := readWord(body, 22)
	srcPortWord, ok8 := readWord(body, 22)
	dstPortWord, ok9 := readWord(body, 23)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8 && ok9) {
		return nil, false
	}

	return &FlowSample{
		InputPort:   inputPort,
		FrameLength: frameLength,
		Protocol:    uint8(protocolWord & 0xFF),
		SrcIP:       splitWordIP(srcFront, srcBack),
		DstIP:       splitWordIP(dstFront, dstBack),
		SrcPort:     uint16(srcPortWord & 0xFFFF),
		DstPort:     uint16(dstPortWord >> 16),
	}, true
}

// splitWordIP reconstructs a dotted-quad IPv4 address from two 32-bit
// words that straddle the actual address by one byte, reproducing the
// original exporter's packing exactly.
func splitWordIP(front, back uint32) string {
	o1 := (front & 0xFFFF) >> 8
	o2 := front & 0xFF
	o3 := back >> 24
	o4 := (back >> 16) & 0xFF
	return net.IPv4(byte(o1), byte(o2), byte(o3), byte(o4)).String()
}

func concat64(high, low uint32) uint64 {
	return uint64(high)<<32 | uint64(low)
}
