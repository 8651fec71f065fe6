package operation

import (
	"encoding/json"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInvalidArgument is the match target for all argument coercion failures.
var ErrInvalidArgument = errors.New("invalid operation argument")

// ArgumentError reports a malformed or missing argument value. It names the
// offending field and carries the raw value so the caller can surface a
// precise user-input error instead of a crash.
type ArgumentError struct {
	Field string
	Raw   string
	Err   error
}

func (e *ArgumentError) Error() string {
	if e.Err != nil {
		return "argument " + strconv.Quote(e.Field) + " with value " + strconv.Quote(e.Raw) + ": " + e.Err.Error()
	}
	return "argument " + strconv.Quote(e.Field) + " with value " + strconv.Quote(e.Raw) + " is invalid"
}

func (e *ArgumentError) Unwrap() error { return ErrInvalidArgument }

// Values provides typed access to the raw string argument values stored on
// an operation instance. Every getter returns an *ArgumentError (matching
// ErrInvalidArgument) when the value is missing or cannot be coerced.
type Values map[string]string

func (v Values) raw(name string) (string, error) {
	s, ok := v[name]
	if !ok {
		return "", &ArgumentError{Field: name, Raw: "", Err: errors.New("missing")}
	}
	return s, nil
}

// String returns the raw value of the named argument.
func (v Values) String(name string) (string, error) {
	return v.raw(name)
}

// Int parses the named argument as a base-10 integer.
func (v Values) Int(name string) (int64, error) {
	s, err := v.raw(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &ArgumentError{Field: name, Raw: s, Err: errors.New("not an integer")}
	}
	return n, nil
}

// Float parses the named argument as a float.
func (v Values) Float(name string) (float64, error) {
	s, err := v.raw(name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ArgumentError{Field: name, Raw: s, Err: errors.New("not a number")}
	}
	return f, nil
}

// Decimal parses the named argument as an arbitrary-precision decimal.
// Percentage and rate arguments go through this getter so fractional money
// math never touches binary floats.
func (v Values) Decimal(name string) (decimal.Decimal, error) {
	s, err := v.raw(name)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ArgumentError{Field: name, Raw: s, Err: errors.New("not a decimal")}
	}
	return d, nil
}

// Bool parses the named argument as a boolean ("true"/"false"/"1"/"0").
func (v Values) Bool(name string) (bool, error) {
	s, err := v.raw(name)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, &ArgumentError{Field: name, Raw: s, Err: errors.New("not a boolean")}
	}
	return b, nil
}

// ID returns the named argument as an identifier string. Empty identifiers
// are rejected.
func (v Values) ID(name string) (string, error) {
	s, err := v.raw(name)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", &ArgumentError{Field: name, Raw: s, Err: errors.New("empty identifier")}
	}
	return s, nil
}

// IDList parses the named argument as a JSON array of identifier strings.
func (v Values) IDList(name string) ([]string, error) {
	s, err := v.raw(name)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, &ArgumentError{Field: name, Raw: s, Err: errors.New("not a JSON array of identifiers")}
	}
	return ids, nil
}
