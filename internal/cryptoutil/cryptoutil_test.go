package cryptoutil

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"io"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestParseKeyForms(t *testing.T) {
	raw := testKey()
	forms := []string{
		base64.StdEncoding.EncodeToString(raw),
		"base64:" + base64.StdEncoding.EncodeToString(raw),
		hex.EncodeToString(raw),
		"hex:" + hex.EncodeToString(raw),
	}
	for _, form := range forms {
		key, err := ParseKey(form)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", form, err)
		}
		if !bytes.Equal(key, raw) {
			t.Fatalf("ParseKey(%q) returned wrong key", form)
		}
	}
}

func TestParseKeyRejectsBadInput(t *testing.T) {
	for _, form := range []string{"", "not-a-key!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := ParseKey(form); err == nil {
			t.Fatalf("ParseKey(%q) should fail", form)
		}
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	plain := []byte("manifest:\n  path: Your_apps.json\n")
	sealed, err := Seal(plain, testKey())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, plain) {
		t.Fatalf("plaintext leaked into sealed payload")
	}
	out, err := Open(sealed, testKey())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Fatalf("round trip mismatch: %q", out)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	sealed, err := Seal([]byte("secret"), testKey())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := Open(sealed, testKey()); err == nil {
		t.Fatalf("tampered payload must not open")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealed, err := Seal([]byte("secret"), testKey())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	other := bytes.Repeat([]byte{0x24}, 32)
	if _, err := Open(sealed, other); err == nil {
		t.Fatalf("wrong key must not open")
	}
}

func TestOpenRejectsBadHeader(t *testing.T) {
	if _, err := Open([]byte("tiny"), testKey()); err == nil {
		t.Fatalf("short payload must be rejected")
	}
	if _, err := Open(append([]byte("XXXX"), make([]byte, 20)...), testKey()); err == nil {
		t.Fatalf("bad magic must be rejected")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	plain := bytes.Repeat([]byte("stream-data "), 1024)

	var buf bytes.Buffer
	w, err := EncryptWriter(&buf, testKey())
	if err != nil {
		t.Fatalf("encrypt writer: %v", err)
	}
	if _, err := w.Write(plain); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if bytes.Contains(buf.Bytes(), []byte("stream-data")) {
		t.Fatalf("plaintext leaked into stream")
	}

	r, err := DecryptReader(&buf, testKey())
	if err != nil {
		t.Fatalf("decrypt reader: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Fatalf("stream round trip mismatch")
	}
}
