// Package secret decodes shared secrets supplied as hex, base32 or base64 text.
package secret

import (
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Encoding names the textual encoding of a shared secret.
type Encoding string

const (
	// EncodingAuto guesses the encoding from the input.
	EncodingAuto Encoding = ""
	// EncodingHex is hexadecimal, either case.
	EncodingHex Encoding = "hex"
	// EncodingBase32 is the RFC 4648 base32 alphabet.
	EncodingBase32 Encoding = "base32"
	// EncodingBase64 is standard base64 with padding.
	EncodingBase64 Encoding = "base64"
)

var (
	// ErrUnknownEncoding indicates an encoding hint that is not supported.
	ErrUnknownEncoding = errors.New("secret: unknown encoding")
	// ErrDecode indicates the secret is malformed for the chosen encoding.
	ErrDecode = errors.New("secret: decode failed")
)

var (
	hexPattern    = regexp.MustCompile(`(?i)^([A-F0-9]{2})+$`)
	base32Pattern = regexp.MustCompile(`^[A-Z2-7]+$`)
)

// Validate reports whether e is a supported encoding hint.
func (e Encoding) Validate() error {
	switch e {
	case EncodingAuto, EncodingHex, EncodingBase32, EncodingBase64:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownEncoding, string(e))
}

// Detect classifies s by its alphabet. Hex wins over base32 when both
// match, and anything else is treated as base64.
func Detect(s string) Encoding {
	switch {
	case hexPattern.MatchString(s):
		return EncodingHex
	case base32Pattern.MatchString(s):
		return EncodingBase32
	default:
		return EncodingBase64
	}
}

// Decode converts an encoded secret into raw key bytes. An empty encoding
// selects the encoding with Detect.
//
// Decoding errors wrap both ErrDecode and the underlying decoder error.
// The input is never included in error messages.
func Decode(s string, enc Encoding) ([]byte, error) {
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	if enc == EncodingAuto {
		enc = Detect(s)
	}

	var (
		key []byte
		err error
	)
	switch enc {
	case EncodingHex:
		key, err = hex.DecodeString(s)
	case EncodingBase32:
		key, err = decodeBase32(s)
	case EncodingBase64:
		key, err = base64.StdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, enc, err)
	}
	return key, nil
}

// decodeBase32 accepts lower case secrets with or without trailing padding.
func decodeBase32(s string) ([]byte, error) {
	s = strings.ToUpper(strings.TrimRight(s, "="))
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
}
