package utils

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseHeight parses a decimal block height.
func ParseHeight(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("height is empty")
	}
	height, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.WithMessage(err, "error parsing height")
	}
	return height, nil
}

// ParseOptionalHeight parses a height that may be absent.
// It returns false, and no error, for an empty string.
func ParseOptionalHeight(s string) (uint64, bool, error) {
	if strings.TrimSpace(s) == "" {
		return 0, false, nil
	}
	height, err := ParseHeight(s)
	if err != nil {
		return 0, false, err
	}
	return height, true, nil
}
