// Package pylontech implements the ASCII-framed Pylontech RS485 battery
// protocol: request/response framing with the nested length checksum,
// plus decoders for the analog-value and alarm-info replies.
package pylontech

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	protocolVersion = "20"
	batteryCID1     = "46"
)

// Command identifiers (CID2).
const (
	CmdAnalog          = 0x42
	CmdAlarm           = 0x44
	CmdSystemParams    = 0x4F
	CmdManufacturer    = 0x61
	CmdFirmware        = 0x62
	CmdSerial          = 0x63
	CmdProtocolVersion = 0x90
)

// RTNOK is the response return code for success.
const RTNOK = 0x00

// MaxInfoLen is the largest INFO length LENID can carry.
const MaxInfoLen = 0xFFF

// Checksum computes the 16-bit frame checksum over the frame body (the
// characters between '~' and the checksum itself) as four uppercase hex
// digits.
func Checksum(body string) string {
	total := 0
	for _, c := range body {
		total += int(c)
	}
	return fmt.Sprintf("%04X", (-total)&0xFFFF)
}

// EncodeLength renders an INFO length as the 4-character LENID field:
// a 4-bit checksum nibble over the three length digits, then the length
// itself as three hex digits.
func EncodeLength(n int) (string, error) {
	if n < 0 || n > MaxInfoLen {
		return "", fmt.Errorf("INFO length %d out of range", n)
	}
	lenHex := fmt.Sprintf("%03X", n)
	sum := 0
	for _, c := range lenHex {
		d, _ := strconv.ParseUint(string(c), 16, 8)
		sum += int(d)
	}
	return fmt.Sprintf("%X%s", (-sum)&0xF, lenHex), nil
}

// DecodeLength parses a LENID field back into the INFO length, verifying
// the embedded nibble checksum.
func DecodeLength(lenid string) (int, error) {
	if len(lenid) != 4 {
		return 0, fmt.Errorf("LENID must be 4 characters, got %q", lenid)
	}
	n, err := strconv.ParseUint(lenid[1:], 16, 16)
	if err != nil {
		return 0, fmt.Errorf("bad LENID length digits %q: %w", lenid, err)
	}
	want, err := EncodeLength(int(n))
	if err != nil {
		return 0, err
	}
	if !strings.EqualFold(want, lenid) {
		return 0, fmt.Errorf("LENID checksum mismatch: got %q, want %q", lenid, want)
	}
	return int(n), nil
}

// BuildRequest assembles a command frame for the battery at addr.
// INFO is already hex-encoded by the caller.
func BuildRequest(addr int, cid2 byte, info string) ([]byte, error) {
	lenid, err := EncodeLength(len(info))
	if err != nil {
		return nil, err
	}
	body := fmt.Sprintf("%s%02X%s%02X%s%s", protocolVersion, addr, batteryCID1, cid2, lenid, info)
	return []byte("~" + body + Checksum(body) + "\r"), nil
}

// BuildResponse assembles a reply frame. The RTN byte sits where the
// request carried CID2, which is what keeps the fixed parse offsets valid.
func BuildResponse(addr int, rtn byte, info string) ([]byte, error) {
	lenid, err := EncodeLength(len(info))
	if err != nil {
		return nil, err
	}
	body := fmt.Sprintf("%s%02X%s%02X%s%s", protocolVersion, addr, batteryCID1, rtn, lenid, info)
	return []byte("~" + body + Checksum(body) + "\r"), nil
}

// Request is a parsed command frame.
type Request struct {
	Addr int
	CID2 byte
	Info string
}

// Response is a parsed reply frame. Info is the raw hex payload.
type Response struct {
	Addr int
	RTN  byte
	Info string
}

// minimum frame: ~ + VER ADR CID1 RTN/CID2 LENID + CHKSUM
const minFrameLen = 17

// ParseRequest parses a command frame received from a controller,
// verifying the frame checksum.
func ParseRequest(raw []byte) (*Request, error) {
	text, err := frameText(raw)
	if err != nil {
		return nil, err
	}
	addr, err := strconv.ParseUint(text[3:5], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("bad address field %q: %w", text[3:5], err)
	}
	cid2, err := strconv.ParseUint(text[7:9], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("bad CID2 field %q: %w", text[7:9], err)
	}
	return &Request{
		Addr: int(addr),
		CID2: byte(cid2),
		Info: text[13 : len(text)-4],
	}, nil
}

// ParseResponse parses a reply frame, verifying the frame checksum and
// the return code. Fields are extracted by fixed character offsets: the
// RTN byte at index 7, INFO from index 13 up to the trailing checksum.
func ParseResponse(raw []byte) (*Response, error) {
	text, err := frameText(raw)
	if err != nil {
		return nil, err
	}
	addr, err := strconv.ParseUint(text[3:5], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("bad address field %q: %w", text[3:5], err)
	}
	rtn, err := strconv.ParseUint(text[7:9], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("bad RTN field %q: %w", text[7:9], err)
	}
	if rtn != RTNOK {
		return nil, fmt.Errorf("battery returned error code 0x%02X", rtn)
	}
	return &Response{
		Addr: int(addr),
		RTN:  byte(rtn),
		Info: text[13 : len(text)-4],
	}, nil
}

// frameText strips the trailing CR, validates shape and checksum and
// returns the frame including the leading '~'.
func frameText(raw []byte) (string, error) {
	text := strings.TrimRight(string(raw), "\r\n \t")
	if len(text) < minFrameLen {
		return "", fmt.Errorf("frame too short: %d characters", len(text))
	}
	if text[0] != '~' {
		return "", fmt.Errorf("frame does not start with '~'")
	}
	body := text[1 : len(text)-4]
	got := text[len(text)-4:]
	if want := Checksum(body); !strings.EqualFold(got, want) {
		return "", fmt.Errorf("frame checksum mismatch: got %s, want %s", got, want)
	}
	return text, nil
}
