package admission

import (
	"strconv"
)

// Prefix is the fixed three-character prefix of every application number.
const Prefix = "PEC"

// Encode renders a counter value as an application number, e.g. 4880 -> "PEC4880".
// No padding is applied.
func Encode(n int64) string {
	return Prefix + strconv.FormatInt(n, 10)
}

// Decode extracts the counter value from an application number.
// Signs, spaces and any non-digit remainder are rejected with a *FormatError.
func Decode(s string) (int64, error) {
	if len(s) < len(Prefix) || s[:len(Prefix)] != Prefix {
		return 0, &FormatError{Input: s, Reason: "missing " + Prefix + " prefix"}
	}
	digits := s[len(Prefix):]
	if digits == "" {
		return 0, &FormatError{Input: s, Reason: "no digits after prefix"}
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, &FormatError{Input: s, Reason: "non-numeric suffix"}
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, &FormatError{Input: s, Reason: "number out of range"}
	}
	return n, nil
}

// decodeOrNil is the best-effort decode used on the finalize recovery path.
func decodeOrNil(s string) *int64 {
	n, err := Decode(s)
	if err != nil {
		return nil
	}
	return &n
}
