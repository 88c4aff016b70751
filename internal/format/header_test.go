package format

import "testing"

func TestHeaderEncode(t *testing.T) {
	h := NewHeader(MagicChunkIndex, 1)
	buf := h.Encode()

	if string(buf[0:4]) != MagicChunkIndex {
		t.Errorf("expected magic %s, got %s", MagicChunkIndex, buf[0:4])
	}
	if buf[4] != 1 {
		t.Errorf("expected version 1, got %d", buf[4])
	}
}

func TestHeaderEncodeInto(t *testing.T) {
	h := NewHeader(MagicJournal, 2)
	buf := make([]byte, 10)
	n := h.EncodeInto(buf)

	if n != HeaderSize {
		t.Errorf("expected %d bytes written, got %d", HeaderSize, n)
	}
	if string(buf[0:4]) != MagicJournal {
		t.Errorf("expected magic %s, got %s", MagicJournal, buf[0:4])
	}
	if buf[4] != 2 {
		t.Errorf("expected version 2, got %d", buf[4])
	}
}

func TestDecode(t *testing.T) {
	buf := []byte(MagicBitmap + string(rune(3)))
	h, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(h.Magic[:]) != MagicBitmap {
		t.Errorf("expected magic %s, got %s", MagicBitmap, h.Magic[:])
	}
	if h.Version != 3 {
		t.Errorf("expected version 3, got %d", h.Version)
	}
}

func TestDecodeHeaderTooSmall(t *testing.T) {
	buf := []byte{'C', 'I', 'D'} // only 3 bytes
	_, err := Decode(buf)
	if err != ErrHeaderTooSmall {
		t.Errorf("expected ErrHeaderTooSmall, got %v", err)
	}
}

func TestDecodeAndValidateMagicMismatch(t *testing.T) {
	h := NewHeader(MagicJournal, 1)
	buf := h.Encode()
	_, err := DecodeAndValidate(buf[:], MagicBitmap, 1)
	if err != ErrMagicMismatch {
		t.Errorf("expected ErrMagicMismatch, got %v", err)
	}
}

func TestDecodeAndValidateVersionMismatch(t *testing.T) {
	h := NewHeader(MagicJournal, 1)
	buf := h.Encode()
	_, err := DecodeAndValidate(buf[:], MagicJournal, 2)
	if err != ErrVersionMismatch {
		t.Errorf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	original := NewHeader(MagicChunkIndex, 5)
	buf := original.Encode()
	decoded, err := Decode(buf[:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip failed: expected %+v, got %+v", original, decoded)
	}
}
