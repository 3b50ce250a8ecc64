package header

import "testing"

func TestParseSynOptionsRoundTrip(t *testing.T) {
	encoded := EncodeSynOptions(1460, 7)
	got, ok := ParseSynOptions(encoded, 536)
	if !ok {
		t.Fatalf("ParseSynOptions failed on its own encoding")
	}
	if got.MSS != 1460 {
		t.Errorf("MSS = %d, want 1460", got.MSS)
	}
	if got.WindowScale != 7 {
		t.Errorf("WindowScale = %d, want 7", got.WindowScale)
	}
}

func TestParseSynOptionsNoWindowScale(t *testing.T) {
	encoded := EncodeSynOptions(1460, -1)
	got, ok := ParseSynOptions(encoded, 536)
	if !ok {
		t.Fatalf("ParseSynOptions failed")
	}
	if got.WindowScale != -1 {
		t.Errorf("WindowScale = %d, want -1 (disabled)", got.WindowScale)
	}
}

func TestParseSynOptionsDefaultsMSS(t *testing.T) {
	got, ok := ParseSynOptions(nil, 536)
	if !ok {
		t.Fatalf("ParseSynOptions failed on empty options")
	}
	if got.MSS != 536 {
		t.Errorf("MSS = %d, want default 536", got.MSS)
	}
}

func TestParseSynOptionsRejectsTruncatedMSS(t *testing.T) {
	_, ok := ParseSynOptions([]byte{optionMSS, 4, 0x05}, 536)
	if ok {
		t.Fatalf("expected truncated MSS option to be rejected")
	}
}

func TestParseSynOptionsSkipsNOPAndEOL(t *testing.T) {
	opts := []byte{optionNOP, optionNOP, optionMSS, 4, 0x05, 0xb4, optionEOL, 0xff}
	got, ok := ParseSynOptions(opts, 0)
	if !ok {
		t.Fatalf("ParseSynOptions failed")
	}
	if got.MSS != 0x05b4 {
		t.Errorf("MSS = %#x, want 0x05b4", got.MSS)
	}
}
