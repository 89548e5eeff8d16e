package flag

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseSize parses a size string as number[gGmMkK]. The multiplier is optional,
// and if not set, the unit passed in is used. The number can be any base and
// size.
func ParseSize(s, unit string) (int, error) {
	sz := strings.TrimRight(s, "gGmMkK")
	if len(sz) == 0 {
		return -1, fmt.Errorf("%q:can't parse as num[gGmMkK]:%w", s, strconv.ErrSyntax)
	}

	amt, err := strconv.ParseUint(sz, 0, 0)
	if err != nil {
		return -1, err
	}

	if len(s) > len(sz) {
		unit = s[len(sz):]
	}

	var shift uint

	switch unit {
	case "G", "g":
		shift = 30
	case "M", "m":
		shift = 20
	case "K", "k":
		shift = 10
	case "":
	default:
		return -1, fmt.Errorf("can not parse %q as num[gGmMkK]:%w", s, strconv.ErrSyntax)
	}

	if amt > math.MaxInt>>shift {
		return -1, fmt.Errorf("%q:%w", s, strconv.ErrRange)
	}

	return int(amt) << shift, nil
}
