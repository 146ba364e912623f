package pylontech

import (
	"testing"
)

// Known-good vector: analog request to stack address 2 with empty INFO.
func TestBuildRequestKnownVector(t *testing.T) {
	frame, err := BuildRequest(2, CmdAnalog, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := string(frame); got != "~200246420000FDAC\r" {
		t.Errorf("frame = %q", got)
	}
}

func TestLenidRoundTrip(t *testing.T) {
	for n := 0; n <= MaxInfoLen; n++ {
		lenid, err := EncodeLength(n)
		if err != nil {
			t.Fatalf("EncodeLength(%d): %v", n, err)
		}
		if len(lenid) != 4 {
			t.Fatalf("EncodeLength(%d) = %q, want 4 chars", n, lenid)
		}
		got, err := DecodeLength(lenid)
		if err != nil {
			t.Fatalf("DecodeLength(%q): %v", lenid, err)
		}
		if got != n {
			t.Fatalf("length %d round-tripped to %d", n, got)
		}
	}
}

func TestEncodeLengthRejectsOutOfRange(t *testing.T) {
	if _, err := EncodeLength(MaxInfoLen + 1); err == nil {
		t.Error("length over 0xFFF must be rejected")
	}
	if _, err := EncodeLength(-1); err == nil {
		t.Error("negative length must be rejected")
	}
}

func TestDecodeLengthRejectsBadChecksum(t *testing.T) {
	lenid, _ := EncodeLength(0x42)
	// flip the checksum nibble
	bad := "F" + lenid[1:]
	if bad == lenid {
		bad = "0" + lenid[1:]
	}
	if _, err := DecodeLength(bad); err == nil {
		t.Error("corrupted LENID checksum must be rejected")
	}
}

func TestRequestRoundTrip(t *testing.T) {
	frame, err := BuildRequest(2, CmdAlarm, "01")
	if err != nil {
		t.Fatal(err)
	}
	req, err := ParseRequest(frame)
	if err != nil {
		t.Fatal(err)
	}
	if req.Addr != 2 || req.CID2 != CmdAlarm || req.Info != "01" {
		t.Errorf("round trip lost fields: %+v", req)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	info := "00001034D034D034D0"
	frame, err := BuildResponse(2, RTNOK, info)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ParseResponse(frame)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Addr != 2 || resp.Info != info {
		t.Errorf("round trip lost fields: %+v", resp)
	}
}

func TestParseResponseRejectsErrorRTN(t *testing.T) {
	frame, err := BuildResponse(2, 0x04, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseResponse(frame); err == nil {
		t.Error("non-zero RTN must be rejected")
	}
}

func TestParseResponseRejectsBadChecksum(t *testing.T) {
	frame, err := BuildResponse(2, RTNOK, "0000")
	if err != nil {
		t.Fatal(err)
	}
	// corrupt one INFO character
	frame[14] = 'F'
	if _, err := ParseResponse(frame); err == nil {
		t.Error("corrupted frame must fail checksum validation")
	}
}

func TestParseResponseRejectsShortFrame(t *testing.T) {
	if _, err := ParseResponse([]byte("~2002\r")); err == nil {
		t.Error("short frame must be rejected")
	}
	if _, err := ParseResponse([]byte("200246000000FDAC\r")); err == nil {
		t.Error("frame without '~' must be rejected")
	}
}

func TestDecodeASCIIInfo(t *testing.T) {
	// "PYLONTECH" hex-encoded
	if got := DecodeASCIIInfo("50594C4F4E54454348"); got != "PYLONTECH" {
		t.Errorf("DecodeASCIIInfo = %q", got)
	}
	// NUL padding stripped
	if got := DecodeASCIIInfo("56312E3000000000"); got != "V1.0" {
		t.Errorf("DecodeASCIIInfo = %q", got)
	}
	if got := DecodeASCIIInfo("ZZ"); got != "" {
		t.Errorf("invalid hex should yield empty, got %q", got)
	}
}
