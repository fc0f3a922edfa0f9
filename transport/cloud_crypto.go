// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// newSessionKey returns a fresh AES-256 key in the cloud's format: the
// 32 hex characters of a random UUID, used as raw key bytes.
func newSessionKey() []byte {
	return []byte(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// parsePublicKey accepts the cloud's key: base64 DER, with or without
// PEM armour.
func parsePublicKey(text string) (*rsa.PublicKey, error) {
	var der []byte
	if block, _ := pem.Decode([]byte(text)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("decoding public key: %w", err)
		}
		der = decoded
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		if key, pkcs1Err := x509.ParsePKCS1PublicKey(der); pkcs1Err == nil {
			return key, nil
		}
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", parsed)
	}
	return key, nil
}

// rsaEncrypt encrypts plaintext with PKCS#1 v1.5 in key-sized chunks
// and base64-encodes the concatenation.
func rsaEncrypt(key *rsa.PublicKey, plaintext []byte) (string, error) {
	chunkSize := key.Size() - 11
	var out bytes.Buffer
	for start := 0; start < len(plaintext); start += chunkSize {
		end := min(start+chunkSize, len(plaintext))
		chunk, err := rsa.EncryptPKCS1v15(rand.Reader, key, plaintext[start:end])
		if err != nil {
			return "", fmt.Errorf("rsa encrypt: %w", err)
		}
		out.Write(chunk)
	}
	return base64.StdEncoding.EncodeToString(out.Bytes()), nil
}

// aesEncrypt is AES-ECB with PKCS#7 padding, base64-encoded.
func aesEncrypt(key, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes key: %w", err)
	}
	size := block.BlockSize()
	padding := size - len(plaintext)%size
	padded := make([]byte, len(plaintext)+padding)
	copy(padded, plaintext)
	for index := len(plaintext); index < len(padded); index++ {
		padded[index] = byte(padding)
	}
	for offset := 0; offset < len(padded); offset += size {
		block.Encrypt(padded[offset:offset+size], padded[offset:offset+size])
	}
	return base64.StdEncoding.EncodeToString(padded), nil
}

// aesDecrypt reverses aesEncrypt.
func aesDecrypt(key []byte, encoded string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}
	size := block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%size != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of %d", len(ciphertext), size)
	}
	plaintext := make([]byte, len(ciphertext))
	for offset := 0; offset < len(ciphertext); offset += size {
		block.Decrypt(plaintext[offset:offset+size], ciphertext[offset:offset+size])
	}
	padding := int(plaintext[len(plaintext)-1])
	if padding == 0 || padding > size || padding > len(plaintext) {
		return nil, errors.New("bad padding")
	}
	for _, value := range plaintext[len(plaintext)-padding:] {
		if int(value) != padding {
			return nil, errors.New("bad padding")
		}
	}
	return plaintext[:len(plaintext)-padding], nil
}
