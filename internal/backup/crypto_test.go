package backup

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpen(t *testing.T) {
	plain := []byte("SQLite format 3\x00 famevents")

	var buf bytes.Buffer
	if err := Seal(&buf, plain, "correct horse"); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(buf.Bytes(), plain) {
		t.Error("ciphertext contains plaintext")
	}
	if buf.Len() != saltSize+nonceSize+len(plain)+16 {
		t.Errorf("sealed size = %d, want %d", buf.Len(), saltSize+nonceSize+len(plain)+16)
	}

	got, err := Open(buf.Bytes(), "correct horse")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Open = %q, want %q", got, plain)
	}
}

func TestSealUsesFreshSalt(t *testing.T) {
	var a, b bytes.Buffer
	Seal(&a, []byte("x"), "pw")
	Seal(&b, []byte("x"), "pw")
	if bytes.Equal(a.Bytes()[:saltSize], b.Bytes()[:saltSize]) {
		t.Error("two snapshots share a salt")
	}
}

func TestOpenRejects(t *testing.T) {
	var buf bytes.Buffer
	if err := Seal(&buf, []byte("data"), "right"); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Open(buf.Bytes(), "wrong"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("wrong passphrase: err = %v, want ErrDecrypt", err)
	}
	if _, err := Open([]byte("short"), "right"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("short input: err = %v, want ErrDecrypt", err)
	}

	tampered := append([]byte(nil), buf.Bytes()...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := Open(tampered, "right"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("tampered: err = %v, want ErrDecrypt", err)
	}
}

func TestSealEmptyPassphrase(t *testing.T) {
	if err := Seal(&bytes.Buffer{}, []byte("x"), ""); err == nil {
		t.Error("expected error for empty passphrase")
	}
}
