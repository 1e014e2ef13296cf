// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

const (
	HeaderAPIKey    = "x-api-key-id"
	HeaderSignature = "x-signature"
	HeaderTimestamp = "x-timestamp"
)

// Signer signs each bridge request with an HMAC over method, path and
// timestamp, as expected by gateways fronting hosted MCP servers.
type Signer struct {
	Key    string
	Secret string
	Now    func() time.Time
}

// NewSigner returns a Signer using the UTC wall clock.
func NewSigner(key, secret string) *Signer {
	return &Signer{
		Key:    key,
		Secret: secret,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate implements Authenticator.
func (s *Signer) Authenticate(req *http.Request) error {
	if s.Key == "" || s.Secret == "" {
		return errors.New("signer key and secret must be set")
	}

	timestamp := s.Now().Format(time.RFC3339)
	req.Header.Set(HeaderAPIKey, s.Key)
	req.Header.Set(HeaderSignature, s.sign(req.Method, req.URL.Path, timestamp))
	req.Header.Set(HeaderTimestamp, timestamp)
	return nil
}

func (s *Signer) sign(method, path, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(s.Secret))
	// hash.Hash writes never fail
	mac.Write([]byte(method + "\n" + path + "\n" + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}
