// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/md5"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go2link/go2link/lib/netutil"
)

// DefaultCloudURL is the vendor's robot API.
const DefaultCloudURL = "https://global-robot-api.unitree.com/"

// Cloud API result codes.
const (
	cloudCodeOK            = 100
	cloudCodeDeviceOffline = 1000
)

// cloudAnswerTimeout is the seconds the cloud waits for the robot.
const cloudAnswerTimeout = 5

// Compile-time interface checks.
var (
	_ Signaler      = (*CloudSignaler)(nil)
	_ RelayProvider = (*CloudSignaler)(nil)
)

// CloudConfig configures a CloudSignaler.
type CloudConfig struct {
	// BaseURL defaults to DefaultCloudURL.
	BaseURL string

	Client *http.Client

	// Tokens supplies the account's bearer token. Required.
	Tokens TokenSource

	// SignSecret, when set, signs requests with md5(secret+timestamp+nonce).
	SignSecret string

	// AppVersion is reported in request headers.
	AppVersion string

	// Local handles SendOfferLocal. Nil makes local offers fail.
	Local Signaler

	Logger *slog.Logger
}

// CloudSignaler relays offers through the vendor cloud and fetches TURN
// credentials. Every exchange uses a fresh AES session key, sent to the
// cloud RSA-encrypted under the cloud's public key.
type CloudSignaler struct {
	config CloudConfig
	base   *url.URL

	mu        sync.Mutex
	publicKey *rsa.PublicKey
}

// NewCloudSignaler validates config.
func NewCloudSignaler(config CloudConfig) (*CloudSignaler, error) {
	if config.Tokens == nil {
		return nil, errors.New("cloud signaler needs a token source")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultCloudURL
	}
	if !strings.HasSuffix(config.BaseURL, "/") {
		config.BaseURL += "/"
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing cloud URL: %w", err)
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if config.AppVersion == "" {
		config.AppVersion = "1.8.0"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &CloudSignaler{config: config, base: base}, nil
}

// cloudResponse is the envelope of every cloud API reply.
type cloudResponse struct {
	Code     int             `json:"code"`
	Data     json.RawMessage `json:"data"`
	ErrorMsg string          `json:"errorMsg"`
}

// CloudError is a non-success cloud result.
type CloudError struct {
	Path    string
	Code    int
	Message string
}

func (e *CloudError) Error() string {
	return fmt.Sprintf("cloud %s: code %d: %s", e.Path, e.Code, e.Message)
}

// RelayCredentials implements RelayProvider.
func (s *CloudSignaler) RelayCredentials(ctx context.Context, serial string) (*RelayCredentials, error) {
	publicKey, err := s.fetchPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	sessionKey := newSessionKey()
	encryptedKey, err := rsaEncrypt(publicKey, sessionKey)
	if err != nil {
		return nil, err
	}

	response, err := s.call(ctx, http.MethodPost, "webrtc/account", url.Values{"sn": {serial}, "sk": {encryptedKey}})
	if err != nil {
		return nil, err
	}
	plaintext, err := aesDecrypt(sessionKey, dataString(response.Data))
	if err != nil {
		return nil, fmt.Errorf("decrypting relay credentials: %w", err)
	}
	var credentials RelayCredentials
	if err := json.Unmarshal(plaintext, &credentials); err != nil {
		return nil, fmt.Errorf("decoding relay credentials: %w", err)
	}
	return &credentials, nil
}

// SendOfferRemote implements Signaler. An offline robot yields a nil
// answer.
func (s *CloudSignaler) SendOfferRemote(ctx context.Context, serial string, offer []byte) ([]byte, error) {
	publicKey, err := s.fetchPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	sessionKey := newSessionKey()
	encryptedKey, err := rsaEncrypt(publicKey, sessionKey)
	if err != nil {
		return nil, err
	}
	encryptedOffer, err := aesEncrypt(sessionKey, offer)
	if err != nil {
		return nil, err
	}

	response, err := s.call(ctx, http.MethodPost, "webrtc/connect", url.Values{
		"sn":      {serial},
		"sk":      {encryptedKey},
		"data":    {encryptedOffer},
		"timeout": {strconv.Itoa(cloudAnswerTimeout)},
	})
	if err != nil {
		var cloudErr *CloudError
		if errors.As(err, &cloudErr) && cloudErr.Code == cloudCodeDeviceOffline {
			s.config.Logger.Warn("robot is not online", "serial", serial)
			return nil, nil
		}
		return nil, err
	}
	answer, err := aesDecrypt(sessionKey, dataString(response.Data))
	if err != nil {
		return nil, fmt.Errorf("decrypting answer: %w", err)
	}
	return answer, nil
}

// SendOfferLocal implements Signaler by delegating to config.Local.
func (s *CloudSignaler) SendOfferLocal(ctx context.Context, ip string, offer []byte) ([]byte, error) {
	if s.config.Local == nil {
		return nil, fmt.Errorf("cloud signaler has no local signaler for %s", ip)
	}
	return s.config.Local.SendOfferLocal(ctx, ip, offer)
}

// fetchPublicKey returns the cloud's RSA key, fetching it once.
func (s *CloudSignaler) fetchPublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	s.mu.Lock()
	cached := s.publicKey
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	response, err := s.call(ctx, http.MethodGet, "system/pubKey", url.Values{})
	if err != nil {
		return nil, err
	}
	key, err := parsePublicKey(dataString(response.Data))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.publicKey = key
	s.mu.Unlock()
	return key, nil
}

func (s *CloudSignaler) call(ctx context.Context, method, path string, form url.Values) (*cloudResponse, error) {
	token, err := s.config.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching token: %w", err)
	}

	endpoint := s.base.ResolveReference(&url.URL{Path: path})
	var request *http.Request
	if method == http.MethodGet {
		endpoint.RawQuery = form.Encode()
		request, err = http.NewRequestWithContext(ctx, method, endpoint.String(), nil)
	} else {
		request, err = http.NewRequestWithContext(ctx, method, endpoint.String(), strings.NewReader(form.Encode()))
	}
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", path, err)
	}
	s.setHeaders(request, token)

	response, err := s.config.Client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", path, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calling %s: status %d: %s", path, response.StatusCode, netutil.ErrorBody(response.Body))
	}

	var decoded cloudResponse
	if err := netutil.DecodeResponse(response.Body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	if decoded.Code != cloudCodeOK {
		return nil, &CloudError{Path: path, Code: decoded.Code, Message: decoded.ErrorMsg}
	}
	return &decoded, nil
}

func (s *CloudSignaler) setHeaders(request *http.Request, token string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")

	request.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	request.Header.Set("DevicePlatform", "Android")
	request.Header.Set("AppVersion", s.config.AppVersion)
	request.Header.Set("AppLocale", "en_US")
	request.Header.Set("X-Request-Id", uuid.NewString())
	request.Header.Set("Timestamp", timestamp)
	request.Header.Set("Nonce", nonce)
	if token != "" {
		request.Header.Set("Token", token)
	}
	if s.config.SignSecret != "" {
		sum := md5.Sum([]byte(s.config.SignSecret + timestamp + nonce))
		request.Header.Set("Sign", hex.EncodeToString(sum[:]))
	}
}

// dataString unwraps the envelope's data field, which the cloud sends
// as a JSON string.
func dataString(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}
