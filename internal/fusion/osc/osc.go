// Package osc decodes and encodes Open Sound Control 1.0 packets, the wire
// format the headband streams its sensor channels over.
package osc

import (
	"encoding/binary"
	"fmt"
	"math"
)

/*
OSC 1.0 wire format, as emitted by the headband bridge:

	MESSAGE  = padded address ("/eeg") + padded type tags (",ffff") + arguments
	BUNDLE   = "#bundle\0" + 8-byte time tag + { int32 size + element }...

All strings are NUL-terminated and padded to a 4-byte boundary; all numbers
are big-endian. Bundles nest, so parsing recurses with a depth cap. Time
tags are ignored: samples are stamped on arrival, not on the sender's
schedule.
*/

const (
	bundleMarker = "#bundle"

	// alignment is the OSC atom size; every field is padded to it.
	alignment = 4

	// maxBundleDepth caps recursion so a hostile packet cannot stack
	// nested bundles.
	maxBundleDepth = 8
)

// Message is one decoded OSC message: an address pattern plus its arguments
// in wire order. Argument values are int32, float32, float64, string,
// []byte, bool or nil depending on the type tag.
type Message struct {
	Address string
	Args    []any
}

// Floats converts the arguments to float64, which is what every sensor
// channel carries. It reports false when any argument is non-numeric.
func (m Message) Floats() ([]float64, bool) {
	out := make([]float64, len(m.Args))
	for i, a := range m.Args {
		switch v := a.(type) {
		case float32:
			out[i] = float64(v)
		case float64:
			out[i] = v
		case int32:
			out[i] = float64(v)
		default:
			return nil, false
		}
	}
	return out, true
}

// Parse decodes one UDP payload into its messages. A plain message yields
// one element; a bundle yields its flattened contents in wire order.
func Parse(data []byte) ([]Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("osc: empty packet")
	}
	if isBundle(data) {
		return parseBundle(data, 0)
	}
	m, err := parseMessage(data)
	if err != nil {
		return nil, err
	}
	return []Message{m}, nil
}

func isBundle(data []byte) bool {
	return len(data) >= alignment*2 && string(data[:len(bundleMarker)]) == bundleMarker && data[len(bundleMarker)] == 0
}

func parseBundle(data []byte, depth int) ([]Message, error) {
	if depth >= maxBundleDepth {
		return nil, fmt.Errorf("osc: bundle nesting exceeds %d", maxBundleDepth)
	}
	// Marker (8 bytes) plus time tag (8 bytes).
	off := 16
	if len(data) < off {
		return nil, fmt.Errorf("osc: bundle truncated at %d bytes", len(data))
	}

	var msgs []Message
	for off < len(data) {
		if off+4 > len(data) {
			return nil, fmt.Errorf("osc: bundle element size truncated at offset %d", off)
		}
		size := int(int32(binary.BigEndian.Uint32(data[off:])))
		off += 4
		if size < 0 || off+size > len(data) {
			return nil, fmt.Errorf("osc: bundle element size %d exceeds packet", size)
		}
		element := data[off : off+size]
		off += size

		if isBundle(element) {
			inner, err := parseBundle(element, depth+1)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, inner...)
			continue
		}
		m, err := parseMessage(element)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func parseMessage(data []byte) (Message, error) {
	addr, off, err := readPaddedString(data, 0)
	if err != nil {
		return Message{}, fmt.Errorf("osc: address: %w", err)
	}
	if len(addr) == 0 || addr[0] != '/' {
		return Message{}, fmt.Errorf("osc: address %q does not start with /", addr)
	}

	tags, off, err := readPaddedString(data, off)
	if err != nil {
		return Message{}, fmt.Errorf("osc: type tags for %s: %w", addr, err)
	}
	if len(tags) == 0 || tags[0] != ',' {
		return Message{}, fmt.Errorf("osc: %s: type tag string %q does not start with ,", addr, tags)
	}

	m := Message{Address: addr}
	for _, tag := range tags[1:] {
		switch tag {
		case 'i':
			if off+4 > len(data) {
				return Message{}, truncated(addr, tag, off)
			}
			m.Args = append(m.Args, int32(binary.BigEndian.Uint32(data[off:])))
			off += 4
		case 'f':
			if off+4 > len(data) {
				return Message{}, truncated(addr, tag, off)
			}
			m.Args = append(m.Args, math.Float32frombits(binary.BigEndian.Uint32(data[off:])))
			off += 4
		case 'd':
			if off+8 > len(data) {
				return Message{}, truncated(addr, tag, off)
			}
			m.Args = append(m.Args, math.Float64frombits(binary.BigEndian.Uint64(data[off:])))
			off += 8
		case 's':
			s, next, err := readPaddedString(data, off)
			if err != nil {
				return Message{}, fmt.Errorf("osc: %s: string argument: %w", addr, err)
			}
			m.Args = append(m.Args, s)
			off = next
		case 'b':
			b, next, err := readBlob(data, off)
			if err != nil {
				return Message{}, fmt.Errorf("osc: %s: blob argument: %w", addr, err)
			}
			m.Args = append(m.Args, b)
			off = next
		case 'T':
			m.Args = append(m.Args, true)
		case 'F':
			m.Args = append(m.Args, false)
		case 'N':
			m.Args = append(m.Args, nil)
		default:
			return Message{}, fmt.Errorf("osc: %s: unsupported type tag %q", addr, tag)
		}
	}
	return m, nil
}

func truncated(addr string, tag rune, off int) error {
	return fmt.Errorf("osc: %s: argument %q truncated at offset %d", addr, tag, off)
}

// readPaddedString reads a NUL-terminated string at off and returns the
// offset past its padding.
func readPaddedString(data []byte, off int) (string, int, error) {
	if off >= len(data) {
		return "", 0, fmt.Errorf("string expected at offset %d past end", off)
	}
	end := off
	for end < len(data) && data[end] != 0 {
		end++
	}
	if end == len(data) {
		return "", 0, fmt.Errorf("string at offset %d is not terminated", off)
	}
	s := string(data[off:end])
	next := off + padded(end-off+1)
	if next > len(data) {
		return "", 0, fmt.Errorf("string padding at offset %d past end", end)
	}
	return s, next, nil
}

func readBlob(data []byte, off int) ([]byte, int, error) {
	if off+4 > len(data) {
		return nil, 0, fmt.Errorf("blob size at offset %d past end", off)
	}
	size := int(int32(binary.BigEndian.Uint32(data[off:])))
	off += 4
	if size < 0 || off+size > len(data) {
		return nil, 0, fmt.Errorf("blob size %d exceeds packet", size)
	}
	b := append([]byte(nil), data[off:off+size]...)
	next := off + padded(size)
	if next > len(data) {
		next = len(data)
	}
	return b, next, nil
}

// padded rounds n up to the OSC alignment.
func padded(n int) int {
	if r := n % alignment; r != 0 {
		return n + alignment - r
	}
	return n
}

// EncodeMessage builds the wire form of one message. Supported argument
// types are int32, int, float32, float64, string, []byte and bool.
func EncodeMessage(addr string, args ...any) ([]byte, error) {
	if len(addr) == 0 || addr[0] != '/' {
		return nil, fmt.Errorf("osc: address %q does not start with /", addr)
	}

	tags := make([]byte, 0, len(args)+1)
	tags = append(tags, ',')
	var payload []byte
	for _, a := range args {
		switch v := a.(type) {
		case int32:
			tags = append(tags, 'i')
			payload = binary.BigEndian.AppendUint32(payload, uint32(v))
		case int:
			tags = append(tags, 'i')
			payload = binary.BigEndian.AppendUint32(payload, uint32(int32(v)))
		case float32:
			tags = append(tags, 'f')
			payload = binary.BigEndian.AppendUint32(payload, math.Float32bits(v))
		case float64:
			tags = append(tags, 'd')
			payload = binary.BigEndian.AppendUint64(payload, math.Float64bits(v))
		case string:
			tags = append(tags, 's')
			payload = appendPaddedString(payload, v)
		case []byte:
			tags = append(tags, 'b')
			payload = binary.BigEndian.AppendUint32(payload, uint32(len(v)))
			payload = append(payload, v...)
			for len(payload)%alignment != 0 {
				payload = append(payload, 0)
			}
		case bool:
			if v {
				tags = append(tags, 'T')
			} else {
				tags = append(tags, 'F')
			}
		default:
			return nil, fmt.Errorf("osc: unsupported argument type %T", a)
		}
	}

	out := appendPaddedString(nil, addr)
	out = appendPaddedString(out, string(tags))
	return append(out, payload...), nil
}

// EncodeBundle wraps already encoded elements in an immediate-dispatch
// bundle.
func EncodeBundle(elements ...[]byte) []byte {
	out := appendPaddedString(nil, bundleMarker)
	out = binary.BigEndian.AppendUint64(out, 1) // immediate time tag
	for _, el := range elements {
		out = binary.BigEndian.AppendUint32(out, uint32(len(el)))
		out = append(out, el...)
	}
	return out
}

func appendPaddedString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	dst = append(dst, 0)
	for len(dst)%alignment != 0 {
		dst = append(dst, 0)
	}
	return dst
}
