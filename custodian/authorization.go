package custodian

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const authKeyPrefix = "wallet-auth:"

// ParseAuthorizationKey decodes a base64 PKCS#8 P-256 private key, optionally
// prefixed with "wallet-auth:".
func ParseAuthorizationKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), authKeyPrefix)
	der, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("custodian: authorization key is not base64: %w", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("custodian: parse authorization key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, errors.New("custodian: authorization key must be a P-256 ECDSA key")
	}
	return key, nil
}

// authorizationPayload is the document signed for the authorization header.
type authorizationPayload struct {
	Version int               `json:"version"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers"`
}

func (c *Client) authorizationPayload(method, url string, body []byte) ([]byte, error) {
	return canonicalJSON(authorizationPayload{
		Version: 1,
		Method:  method,
		URL:     url,
		Body:    body,
		Headers: map[string]string{headerAppID: c.appID},
	})
}

func (c *Client) authorizationSignature(method, url string, body []byte) (string, error) {
	payload, err := c.authorizationPayload(method, url, body)
	if err != nil {
		return "", fmt.Errorf("encode authorization payload: %w", err)
	}
	digest := sha256.Sum256(payload)
	sig, err := ecdsa.SignASN1(rand.Reader, c.authKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign authorization payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
