package hl

import (
	"strings"
	"time"

	"github.com/sonirico/go-hyperliquid"
)

// ClientConfig is all the caller needs to supply to reach the venue.
type ClientConfig struct {
	BaseURL string
	// Mainnet selects the network flag folded into every action signature.
	// Nil derives it from BaseURL.
	Mainnet *bool
	Timeout time.Duration
}

const defaultTimeout = 15 * time.Second

func (c ClientConfig) url() string {
	// we want to make sure the config defines main explicitly
	if strings.TrimSpace(c.BaseURL) == "" {
		return hyperliquid.TestnetAPIURL
	}
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

// IsMainnet reports which network signatures are produced for.
func (c ClientConfig) IsMainnet() bool {
	if c.Mainnet != nil {
		return *c.Mainnet
	}
	return c.url() == strings.TrimRight(hyperliquid.MainnetAPIURL, "/")
}

func (c ClientConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}
