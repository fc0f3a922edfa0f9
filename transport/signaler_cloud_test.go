// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedToken string

func (f fixedToken) Token(context.Context) (string, error) { return string(f), nil }

// fakeCloud plays the vendor API: it publishes an RSA key, decrypts
// each request's session key, and answers encrypted under it.
type fakeCloud struct {
	t      *testing.T
	key    *rsa.PrivateKey
	server *httptest.Server

	mu           sync.Mutex
	keyFetches   int
	headers      []http.Header
	offers       [][]byte
	offlineCode  bool
	relay        RelayCredentials
	answer       []byte
	failWithCode int
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	cloud := &fakeCloud{
		t:      t,
		key:    key,
		relay:  RelayCredentials{User: "turn-user", Password: "turn-pass", Realm: "turn:relay.example:3478"},
		answer: []byte(`{"sdp":"v=0","type":"answer"}`),
	}
	cloud.server = httptest.NewServer(http.HandlerFunc(cloud.serve))
	t.Cleanup(cloud.server.Close)
	return cloud
}

func (c *fakeCloud) reply(w http.ResponseWriter, code int, data string) {
	json.NewEncoder(w).Encode(map[string]any{"code": code, "data": data, "errorMsg": "failure " + http.StatusText(code)})
}

func (c *fakeCloud) sessionKey(r *http.Request) []byte {
	encrypted, err := base64.StdEncoding.DecodeString(r.PostForm.Get("sk"))
	if err != nil {
		c.t.Errorf("sk is not base64: %v", err)
		return nil
	}
	key, err := rsa.DecryptPKCS1v15(nil, c.key, encrypted)
	if err != nil {
		c.t.Errorf("decrypting sk: %v", err)
		return nil
	}
	return key
}

func (c *fakeCloud) serve(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers = append(c.headers, r.Header.Clone())

	if c.failWithCode != 0 {
		c.reply(w, c.failWithCode, "")
		return
	}

	switch r.URL.Path {
	case "/system/pubKey":
		c.keyFetches++
		der, err := x509.MarshalPKIXPublicKey(&c.key.PublicKey)
		if err != nil {
			c.t.Error(err)
		}
		c.reply(w, cloudCodeOK, base64.StdEncoding.EncodeToString(der))

	case "/webrtc/account":
		r.ParseForm()
		relay, _ := json.Marshal(c.relay)
		encrypted, err := aesEncrypt(c.sessionKey(r), relay)
		if err != nil {
			c.t.Error(err)
		}
		c.reply(w, cloudCodeOK, encrypted)

	case "/webrtc/connect":
		r.ParseForm()
		if c.offlineCode {
			c.reply(w, cloudCodeDeviceOffline, "")
			return
		}
		sessionKey := c.sessionKey(r)
		offer, err := aesDecrypt(sessionKey, r.PostForm.Get("data"))
		if err != nil {
			c.t.Errorf("decrypting offer: %v", err)
		}
		c.offers = append(c.offers, offer)
		if r.PostForm.Get("sn") != "B42D" || r.PostForm.Get("timeout") != "5" {
			c.t.Errorf("connect form = %v", r.PostForm)
		}
		encrypted, err := aesEncrypt(sessionKey, c.answer)
		if err != nil {
			c.t.Error(err)
		}
		c.reply(w, cloudCodeOK, encrypted)

	default:
		http.NotFound(w, r)
	}
}

// seen returns copies of what the cloud has received.
func (c *fakeCloud) seen() (headers []http.Header, offers [][]byte, keyFetches int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]http.Header(nil), c.headers...), append([][]byte(nil), c.offers...), c.keyFetches
}

func (c *fakeCloud) signaler(t *testing.T, secret string) *CloudSignaler {
	t.Helper()
	signaler, err := NewCloudSignaler(CloudConfig{
		BaseURL:    c.server.URL,
		Client:     c.server.Client(),
		Tokens:     fixedToken("account-token"),
		SignSecret: secret,
		Logger:     discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return signaler
}

func TestCloudSignaler_OfferRoundTrip(t *testing.T) {
	cloud := newFakeCloud(t)
	signaler := cloud.signaler(t, "")

	offer := []byte(`{"id":"","sdp":"v=0 offer","type":"offer","token":"account-token"}`)
	answer, err := signaler.SendOfferRemote(context.Background(), "B42D", offer)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(answer, cloud.answer) {
		t.Errorf("answer = %q, want %q", answer, cloud.answer)
	}
	_, offers, _ := cloud.seen()
	if len(offers) != 1 || !bytes.Equal(offers[0], offer) {
		t.Errorf("cloud saw offers %q", offers)
	}

	// The key is cached across calls.
	if _, err := signaler.SendOfferRemote(context.Background(), "B42D", offer); err != nil {
		t.Fatal(err)
	}
	headers, _, keyFetches := cloud.seen()
	if keyFetches != 1 {
		t.Errorf("public key fetched %d times, want 1", keyFetches)
	}
	for _, header := range headers {
		if header.Get("Token") != "account-token" {
			t.Errorf("Token header = %q", header.Get("Token"))
		}
		if header.Get("Sign") != "" {
			t.Error("Sign header set without a secret")
		}
	}
}

func TestCloudSignaler_RelayCredentials(t *testing.T) {
	cloud := newFakeCloud(t)
	signaler := cloud.signaler(t, "")

	relay, err := signaler.RelayCredentials(context.Background(), "B42D")
	if err != nil {
		t.Fatal(err)
	}
	if *relay != cloud.relay {
		t.Errorf("relay = %+v, want %+v", *relay, cloud.relay)
	}
}

func TestCloudSignaler_SignsRequests(t *testing.T) {
	cloud := newFakeCloud(t)
	signaler := cloud.signaler(t, "shared-secret")

	if _, err := signaler.RelayCredentials(context.Background(), "B42D"); err != nil {
		t.Fatal(err)
	}
	headers, _, _ := cloud.seen()
	for _, header := range headers {
		sum := md5.Sum([]byte("shared-secret" + header.Get("Timestamp") + header.Get("Nonce")))
		if header.Get("Sign") != hex.EncodeToString(sum[:]) {
			t.Errorf("Sign = %q, want md5(secret+timestamp+nonce)", header.Get("Sign"))
		}
	}
}

func TestCloudSignaler_OfflineIsNoAnswer(t *testing.T) {
	cloud := newFakeCloud(t)
	cloud.offlineCode = true
	signaler := cloud.signaler(t, "")

	answer, err := signaler.SendOfferRemote(context.Background(), "B42D", []byte(`{}`))
	if err != nil || answer != nil {
		t.Fatalf("offline robot: SendOfferRemote = %q, %v; want nil, nil", answer, err)
	}
}

func TestCloudSignaler_ErrorCode(t *testing.T) {
	cloud := newFakeCloud(t)
	cloud.failWithCode = 401
	signaler := cloud.signaler(t, "")

	_, err := signaler.RelayCredentials(context.Background(), "B42D")
	var cloudErr *CloudError
	if !errors.As(err, &cloudErr) {
		t.Fatalf("error = %v, want *CloudError", err)
	}
	if cloudErr.Code != 401 || cloudErr.Path != "system/pubKey" {
		t.Errorf("cloud error = %+v", cloudErr)
	}
}

func TestNewCloudSignaler_RequiresTokens(t *testing.T) {
	if _, err := NewCloudSignaler(CloudConfig{}); err == nil {
		t.Fatal("NewCloudSignaler accepted a config without a token source")
	}
}

func TestAESRoundTrip(t *testing.T) {
	key := newSessionKey()
	if len(key) != 32 {
		t.Fatalf("session key is %d bytes, want 32", len(key))
	}
	for _, plaintext := range []string{"", "a", "exactly sixteen!", `{"sdp":"v=0\r\n","type":"offer"}`} {
		encoded, err := aesEncrypt(key, []byte(plaintext))
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := aesDecrypt(key, encoded)
		if err != nil {
			t.Fatalf("decrypting %q: %v", plaintext, err)
		}
		if string(decoded) != plaintext {
			t.Errorf("round trip of %q gave %q", plaintext, decoded)
		}
	}

	if _, err := aesDecrypt(key, base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("aesDecrypt accepted a partial block")
	}
}

func TestParsePublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pkix, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	inputs := map[string]string{
		"base64 PKIX": base64.StdEncoding.EncodeToString(pkix),
		"PEM PKIX":    string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkix})),
		"PEM PKCS1":   string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})),
	}
	for name, input := range inputs {
		parsed, err := parsePublicKey(input)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if !parsed.Equal(&key.PublicKey) {
			t.Errorf("%s: parsed a different key", name)
		}
	}

	if _, err := parsePublicKey("not a key"); err == nil {
		t.Error("parsePublicKey accepted garbage")
	}
}

func TestRSAEncryptChunks(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	plaintext := bytes.Repeat([]byte("x"), key.Size()*2)

	encoded, err := rsaEncrypt(&key.PublicKey, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if len(ciphertext)%key.Size() != 0 {
		t.Fatalf("ciphertext length %d is not whole blocks", len(ciphertext))
	}
	var recovered []byte
	for offset := 0; offset < len(ciphertext); offset += key.Size() {
		chunk, err := rsa.DecryptPKCS1v15(nil, key, ciphertext[offset:offset+key.Size()])
		if err != nil {
			t.Fatal(err)
		}
		recovered = append(recovered, chunk...)
	}
	if !bytes.Equal(recovered, plaintext) {
		t.Error("chunked round trip mismatch")
	}
}
