package scpi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned when an instrument reply cannot be parsed.
var ErrMalformed = errors.New("scpi: malformed response")

// ParseInt parses a single integer reply such as "+401" or "401".
// Some instruments report integral settings in NR3 form ("+4.01000000E+002"),
// which is accepted as long as it has no fractional part.
func ParseInt(resp string) (int, error) {
	resp = strings.TrimSpace(resp)
	if n, err := strconv.Atoi(resp); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(resp, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrMalformed, resp)
	}
	return int(f), nil
}

// ParseFloat parses a single numeric reply.
func ParseFloat(resp string) (float64, error) {
	resp = strings.TrimSpace(resp)
	f, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformed, resp)
	}
	return f, nil
}

// ParseFloats parses a comma separated list of numbers. Every token must be
// numeric; an empty reply is malformed.
func ParseFloats(resp string) ([]float64, error) {
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return nil, fmt.Errorf("%w: empty list", ErrMalformed)
	}
	tokens := strings.Split(resp, ",")
	values := make([]float64, len(tokens))
	for i, tok := range tokens {
		f, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: token %d (%q) is not a number", ErrMalformed, i, tok)
		}
		values[i] = f
	}
	return values, nil
}

// ParseError parses a SYST:ERR? reply, e.g. `-113,"Undefined header"`.
func ParseError(resp string) (int, string, error) {
	code, desc, ok := strings.Cut(strings.TrimSpace(resp), ",")
	if !ok {
		return 0, "", fmt.Errorf("%w: error reply %q has no description", ErrMalformed, resp)
	}
	n, err := ParseInt(code)
	if err != nil {
		return 0, "", err
	}
	return n, strings.Trim(strings.TrimSpace(desc), `"`), nil
}
