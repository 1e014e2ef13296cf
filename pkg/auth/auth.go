// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Authenticator decorates an outbound request with credentials.
type Authenticator interface {
	Authenticate(req *http.Request) error
}

// Credentials captures the secrets the bridge may hold on behalf of the client.
type Credentials struct {
	BearerToken string
	APIKey      string
	APISecret   string
}

// Bearer sets a static "Authorization: Bearer" header.
type Bearer string

// Authenticate implements Authenticator.
func (b Bearer) Authenticate(req *http.Request) error {
	if b == "" {
		return errors.New("bearer token must be set")
	}
	req.Header.Set("Authorization", "Bearer "+string(b))
	return nil
}

// Chain applies each authenticator in order and stops at the first failure.
type Chain []Authenticator

// Authenticate implements Authenticator.
func (c Chain) Authenticate(req *http.Request) error {
	for _, a := range c {
		if err := a.Authenticate(req); err != nil {
			return err
		}
	}
	return nil
}

// FromCredentials builds the authenticator matching the configured secrets.
// It returns nil when no credentials are configured.
func FromCredentials(c Credentials) (Authenticator, error) {
	var chain Chain

	if token := strings.TrimSpace(c.BearerToken); token != "" {
		chain = append(chain, Bearer(token))
	}

	key := strings.TrimSpace(c.APIKey)
	secret := strings.TrimSpace(c.APISecret)
	switch {
	case key != "" && secret != "":
		chain = append(chain, NewSigner(key, secret))
	case key != "" || secret != "":
		return nil, errors.New("api key and api secret must be set together")
	}

	switch len(chain) {
	case 0:
		return nil, nil
	case 1:
		return chain[0], nil
	default:
		return chain, nil
	}
}
