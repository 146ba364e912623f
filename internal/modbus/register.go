// Package modbus reads declared holding registers from a Modbus-TCP
// device on a tiered scan cadence and decodes them into scaled values.
package modbus

import (
	"fmt"
	"math"
)

// Encoding describes how a register's words turn into an integer.
// 32-bit forms are little-endian by word order: the low word first.
type Encoding int

const (
	Signed16 Encoding = iota
	Unsigned16
	Signed32LSWFirst
	Unsigned32LSWFirst
)

// WordCount returns how many 16-bit registers the encoding spans.
func (e Encoding) WordCount() uint16 {
	switch e {
	case Signed32LSWFirst, Unsigned32LSWFirst:
		return 2
	default:
		return 1
	}
}

// Decode turns raw register words into the encoded integer.
func (e Encoding) Decode(words []uint16) (int64, error) {
	if int(e.WordCount()) > len(words) {
		return 0, fmt.Errorf("encoding needs %d words, got %d", e.WordCount(), len(words))
	}
	switch e {
	case Signed16:
		return int64(int16(words[0])), nil
	case Unsigned16:
		return int64(words[0]), nil
	case Signed32LSWFirst:
		return int64(int32(uint32(words[0]) | uint32(words[1])<<16)), nil
	case Unsigned32LSWFirst:
		return int64(uint32(words[0]) | uint32(words[1])<<16), nil
	}
	return 0, fmt.Errorf("unknown encoding %d", e)
}

// Register declares one holding register to scan.
type Register struct {
	Address  uint16
	Name     string
	Encoding Encoding
	Scale    float64
	Offset   float64
	// Group is the scan cadence class, one of the discovery group tags.
	Group string
}

// Value scales the decoded words to engineering units, rounded to three
// decimals so repeated reads of a steady register compare stable.
func (r Register) Value(words []uint16) (float64, error) {
	raw, err := r.Encoding.Decode(words)
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", r.Name, err)
	}
	scale := r.Scale
	if scale == 0 {
		scale = 1
	}
	return math.Round((float64(raw)*scale+r.Offset)*1000) / 1000, nil
}
