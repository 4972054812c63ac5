package trading

import (
	"errors"
	"fmt"
	"strings"
)

// Code is the stable, caller facing error classification.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeAlreadyExists     Code = "ALREADY_EXISTS"
	CodeSymbolNotFound    Code = "SYMBOL_NOT_FOUND"
	CodePriceUnavailable  Code = "PRICE_UNAVAILABLE"
	CodeSignerUnavailable Code = "SIGNER_UNAVAILABLE"
	CodeVenueRejected     Code = "VENUE_REJECTED"
	CodeTransport         Code = "TRANSPORT_ERROR"
	CodeInvalidOrder      Code = "INVALID_ORDER"
	CodeInternal          Code = "INTERNAL"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrSymbolNotFound    = errors.New("symbol not found")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrSignerUnavailable = errors.New("signer unavailable")
	ErrVenueRejected     = errors.New("venue rejected")
	ErrTransport         = errors.New("transport error")
	ErrInvalidOrder      = errors.New("invalid order")
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrNotFound, CodeNotFound},
	{ErrAlreadyExists, CodeAlreadyExists},
	{ErrSymbolNotFound, CodeSymbolNotFound},
	{ErrPriceUnavailable, CodePriceUnavailable},
	{ErrSignerUnavailable, CodeSignerUnavailable},
	{ErrVenueRejected, CodeVenueRejected},
	{ErrTransport, CodeTransport},
	{ErrInvalidOrder, CodeInvalidOrder},
}

// CodeOf classifies err. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// Retryable reports whether a caller may sensibly try the same request again.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

// SymbolNotFoundError lists the symbols that would have resolved.
type SymbolNotFoundError struct {
	Symbol       string
	MarketClass  MarketClass
	ValidSymbols []string
}

func (e *SymbolNotFoundError) Error() string {
	const maxListed = 20
	listed := e.ValidSymbols
	suffix := ""
	if len(listed) > maxListed {
		listed = listed[:maxListed]
		suffix = fmt.Sprintf(", ... (%d more)", len(e.ValidSymbols)-maxListed)
	}
	return fmt.Sprintf("symbol %q not found in %s listing; valid symbols: %s%s",
		e.Symbol, e.MarketClass, strings.Join(listed, ", "), suffix)
}

func (e *SymbolNotFoundError) Is(target error) bool {
	return target == ErrSymbolNotFound
}
