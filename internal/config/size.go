package config

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// sizeUnits maps an upper-cased suffix to its multiplier. SI units are
// powers of 1000, IEC units powers of 1024; no suffix means bytes.
var sizeUnits = map[string]int64{
	"":    1,
	"B":   1,
	"KB":  1000,
	"MB":  1000 * 1000,
	"GB":  1000 * 1000 * 1000,
	"TB":  1000 * 1000 * 1000 * 1000,
	"KIB": 1 << 10,
	"MIB": 1 << 20,
	"GIB": 1 << 30,
	"TIB": 1 << 40,
}

// ParseSize converts a size such as "100MiB", "1.5 GB" or "4096" to bytes.
// Empty and "0" both mean zero, which max_binary_size reads as unlimited.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	num := strings.TrimRightFunc(s, unicode.IsLetter)
	unit := strings.ToUpper(s[len(num):])
	num = strings.TrimSpace(num)

	multiplier, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("invalid size %q: unknown unit %q", s, s[len(s)-len(unit):])
	}

	if num == "" {
		return 0, fmt.Errorf("invalid size %q: missing number", s)
	}

	if unit == "" || unit == "B" {
		n, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", s, err)
		}

		if n < 0 {
			return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
		}

		return n, nil
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if f < 0 {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
	}

	return int64(f * float64(multiplier)), nil
}
