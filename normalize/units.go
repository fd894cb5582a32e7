// Package normalize converts backend native records into the canonical
// lnunify model. All functions are pure and never modify their input.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MsatToSat converts millisatoshis to satoshis, truncating toward zero.
func MsatToSat(msat int64) int64 {
	return msat / 1000
}

// SatToMsat converts satoshis to millisatoshis.
func SatToMsat(sat int64) int64 {
	return sat * 1000
}

// Msat is an amount in millisatoshis. It decodes from a JSON number, a
// numeric string and the "123msat" strings older Core Lightning versions
// return.
type Msat int64

func (m *Msat) UnmarshalJSON(b []byte) error {
	v, err := parseAmount(b, "msat")
	if err != nil {
		return fmt.Errorf("decoding msat amount: %w", err)
	}
	*m = Msat(v)
	return nil
}

func (m Msat) Int64() int64 { return int64(m) }

// Sat returns the amount in satoshis.
func (m Msat) Sat() int64 { return MsatToSat(int64(m)) }

// Int is an integer that may be encoded as a JSON number or string, as lnd
// and several custodial APIs do for 64 bit values.
type Int int64

func (i *Int) UnmarshalJSON(b []byte) error {
	v, err := parseAmount(b, "")
	if err != nil {
		return fmt.Errorf("decoding integer: %w", err)
	}
	*i = Int(v)
	return nil
}

func (i Int) Int64() int64 { return int64(i) }

func parseAmount(b []byte, suffix string) (int64, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return 0, nil
	}

	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if suffix != "" {
			s = strings.TrimSuffix(s, suffix)
		}
		// Invoices without an amount report "any".
		if s == "" || s == "any" {
			return 0, nil
		}
	}

	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	// Some APIs encode integral amounts as floats, e.g. 1000.0.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("amount %q is not integral", s)
	}
	return int64(f), nil
}

// Candidate is one field of a fallback chain. Sat marks values in
// satoshis which are scaled to millisatoshis.
type Candidate[T any] struct {
	Name string
	Get  func(T) *Msat
	Sat  bool
}

// firstMsat returns the first defined candidate in millisatoshis.
func firstMsat[T any](rec T, chain []Candidate[T]) (int64, bool) {
	for _, f := range chain {
		if v := f.Get(rec); v != nil {
			if f.Sat {
				return SatToMsat(int64(*v)), true
			}
			return int64(*v), true
		}
	}
	return 0, false
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Unix is a timestamp in seconds. Fractional seconds are truncated.
type Unix int64

func (u *Unix) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*u = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decoding timestamp: %w", err)
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("decoding timestamp: invalid value %q", s)
	}
	*u = Unix(int64(f))
	return nil
}
