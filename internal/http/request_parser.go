package http

// Request decoding helpers shared by the handlers.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"splitledger/internal/core"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads one JSON object into dst, rejecting unknown fields and
// trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	dec.UseNumber()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		default:
			return fmt.Errorf("malformed JSON: %v", err)
		}
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// parseAmount accepts a JSON number or a decimal string.
func parseAmount(field string, n json.Number) (core.Money, error) {
	m, err := core.ParseAmount(string(n))
	if err != nil {
		return core.Money{}, core.InvalidEntry(field, fmt.Sprintf("must be a positive decimal, got %q", string(n)))
	}
	return m, nil
}

// parseShareAmount is like parseAmount but admits zero.
func parseShareAmount(field string, n json.Number) (core.Money, error) {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return core.Money{}, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil || d.IsNegative() {
		return core.Money{}, core.InvalidEntry(field, fmt.Sprintf("must be a non-negative decimal, got %q", s))
	}
	if d.IsZero() {
		return core.Money{}, nil
	}
	return core.MoneyFromDecimal(d)
}

func parsePercentages(in map[string]json.Number) (map[string]decimal.Decimal, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]decimal.Decimal, len(in))
	for user, n := range in {
		d, err := decimal.NewFromString(string(n))
		if err != nil {
			return nil, core.InvalidEntry("splitPctShares", fmt.Sprintf("share of %s is not a number", user))
		}
		out[strings.TrimSpace(user)] = d
	}
	return out, nil
}

// parseOptionalTime parses an RFC 3339 timestamp; empty means zero.
func parseOptionalTime(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, core.InvalidEntry(field, "must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}

// parseOptionalSign defaults to def when s is blank.
func parseOptionalSign(field, s string, def core.Sign) (core.Sign, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	sign, err := core.ParseSign(s)
	if err != nil {
		return "", core.InvalidEntry(field, err.Error())
	}
	return sign, nil
}

// parseLimit reads the limit query parameter; zero means the default.
func parseLimit(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, core.InvalidEntry("limit", "must be a non-negative integer")
	}
	return n, nil
}

// pathValue returns the sanitized path wildcard.
func pathValue(r *http.Request, name string) string {
	return sanitizeInput(r.PathValue(name))
}

func queryValue(r *http.Request, name string) string {
	return sanitizeInput(r.URL.Query().Get(name))
}

// sanitizeInput trims whitespace and drops control characters other than
// tab and newlines.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// rawOrNil treats a JSON null as absent.
func rawOrNil(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}
