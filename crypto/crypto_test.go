package crypto

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESEncryptor(t *testing.T) {
	if _, err := NewAESEncryptor(""); err == nil {
		t.Error("empty key should error")
	}
	if _, err := NewAESEncryptor("not-base64!!!"); err == nil {
		t.Error("invalid base64 key should error")
	}
	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := NewAESEncryptor(short); err == nil {
		t.Error("non-32-byte key should error")
	}
	if _, err := NewAESEncryptor(testKey(t)); err != nil {
		t.Errorf("NewAESEncryptor() error = %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}

	plaintext := []byte("refresh-token-value")
	blob, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Contains(blob, plaintext) {
		t.Error("ciphertext contains plaintext")
	}
	got, err := enc.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestEncryptNonceUnique(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	a, err := enc.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	b, err := enc.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext must differ")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	blob, err := enc.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	blob[len(blob)-1] ^= 0x01
	if _, err := enc.Decrypt(blob); err == nil {
		t.Error("tampered ciphertext should fail authentication")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	otherKey := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x24}, 32))
	other, _ := NewAESEncryptor(otherKey)

	blob, err := enc.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := other.Decrypt(blob); err == nil {
		t.Error("wrong key should fail authentication")
	}
}

func TestDecryptTooShort(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	if _, err := enc.Decrypt([]byte{0x01, 0x02}); err == nil {
		t.Error("short ciphertext should error")
	}
}

func TestStringHelpers(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	encoded, err := EncryptString(enc, "refresh-token")
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
		t.Errorf("EncryptString() result is not base64: %v", err)
	}
	got, err := DecryptString(enc, encoded)
	if err != nil {
		t.Fatalf("DecryptString() error = %v", err)
	}
	if got != "refresh-token" {
		t.Errorf("DecryptString() = %q", got)
	}
	if _, err := DecryptString(enc, "%%%not-base64"); err == nil {
		t.Error("DecryptString() with bad encoding should error")
	}
}
