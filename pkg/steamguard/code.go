package steamguard

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

const (
	// Alphabet is the 26 symbol set used by Steam Guard codes.
	Alphabet = "23456789BCDFGHJKMNPQRTVWXY"
	// CodeLength is the number of symbols in a code.
	CodeLength = 5
	// Period is the lifetime of a code.
	Period = 30 * time.Second

	periodMillis = int64(Period / time.Millisecond)

	// truncationDigits is wide enough that the decimal HOTP code is the full
	// 31 bit truncated value.
	truncationDigits = otp.Digits(10)
)

var (
	// ErrInvalidSecret indicates an empty shared secret.
	ErrInvalidSecret = errors.New("steamguard: invalid secret")
	// ErrInvalidTimestamp indicates a timestamp before the Unix epoch.
	ErrInvalidTimestamp = errors.New("steamguard: invalid timestamp")
)

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// Interval returns the index of the 30 second window containing
// timestampMillis.
func Interval(timestampMillis int64) uint64 {
	return uint64(timestampMillis / periodMillis)
}

// CalculateCode derives the code for key at timestampMillis, a Unix time in
// milliseconds. Timestamps in the same 30 second window yield the same code.
func CalculateCode(key []byte, timestampMillis int64) (string, error) {
	if len(key) == 0 {
		return "", ErrInvalidSecret
	}
	if timestampMillis < 0 {
		return "", fmt.Errorf("%w: %d is before the epoch", ErrInvalidTimestamp, timestampMillis)
	}

	value, err := truncatedValue(key, Interval(timestampMillis))
	if err != nil {
		return "", err
	}
	return encode(value), nil
}

// CodeAt derives the code for key at t.
func CodeAt(key []byte, t time.Time) (string, error) {
	return CalculateCode(key, t.UnixMilli())
}

// truncatedValue runs RFC 4226 HMAC-SHA1 with dynamic truncation over the
// big-endian counter and returns the 31 bit result before any modulo.
func truncatedValue(key []byte, counter uint64) (uint32, error) {
	code, err := hotp.GenerateCodeCustom(base32NoPad.EncodeToString(key), counter, hotp.ValidateOpts{
		Digits:    truncationDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return 0, fmt.Errorf("steamguard: failed to derive code: %w", err)
	}

	value, err := strconv.ParseUint(code, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("steamguard: unexpected truncated value: %w", err)
	}
	return uint32(value), nil
}

// encode writes the low order base 26 digits of value, least significant
// first.
func encode(value uint32) string {
	var code [CodeLength]byte
	for i := range code {
		code[i] = Alphabet[value%uint32(len(Alphabet))]
		value /= uint32(len(Alphabet))
	}
	return string(code[:])
}
