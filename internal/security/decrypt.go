package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"

	"locket-relay/internal/domain"
)

var saltedPrefix = []byte("Salted__")

// Decrypter opens values produced by CryptoJS.AES.encrypt(text, passphrase):
// base64("Salted__" | salt[8] | AES-256-CBC ciphertext), key and IV derived
// with OpenSSL's EVP_BytesToKey over MD5.
type Decrypter struct {
	passphrase []byte
}

// NewDecrypter returns a Decrypter for passphrase. An empty passphrase
// disables decryption and values are returned unchanged.
func NewDecrypter(passphrase string) *Decrypter {
	return &Decrypter{passphrase: []byte(passphrase)}
}

// Enabled reports whether a passphrase is configured.
func (d *Decrypter) Enabled() bool {
	return len(d.passphrase) > 0
}

// DecryptLoginData decrypts an email/password pair.
func (d *Decrypter) DecryptLoginData(email, password string) (string, string, error) {
	plainEmail, err := d.Decrypt(email)
	if err != nil {
		return "", "", fmt.Errorf("email: %w", err)
	}
	plainPassword, err := d.Decrypt(password)
	if err != nil {
		return "", "", fmt.Errorf("password: %w", err)
	}
	return plainEmail, plainPassword, nil
}

// Decrypt opens a single value. Malformed input yields
// domain.ErrInvalidCredentials.
func (d *Decrypter) Decrypt(value string) (string, error) {
	if !d.Enabled() {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", errors.Join(domain.ErrInvalidCredentials, err)
	}
	if len(raw) < 16 || !bytes.Equal(raw[:8], saltedPrefix) {
		return "", errors.Join(domain.ErrInvalidCredentials, errors.New("missing salt header"))
	}
	salt, ct := raw[8:16], raw[16:]
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", errors.Join(domain.ErrInvalidCredentials, errors.New("ciphertext is not a whole number of blocks"))
	}

	key, iv := deriveKeyIV(d.passphrase, salt, 32, aes.BlockSize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)

	plain, err := unpad(out)
	if err != nil {
		return "", errors.Join(domain.ErrInvalidCredentials, err)
	}
	return string(plain), nil
}

// deriveKeyIV implements EVP_BytesToKey with MD5 and a single iteration.
func deriveKeyIV(passphrase, salt []byte, keyLen, ivLen int) ([]byte, []byte) {
	var derived, prev []byte
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errors.New("bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
