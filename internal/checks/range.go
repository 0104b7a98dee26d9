package checks

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrBadCheckRange rejects reservation ranges that are not
// <prefix><zero-padded-number> with identical prefix and padding on both
// ends.
var ErrBadCheckRange = errors.New("bad check number range")

// NumberRange is a validated fixed-width check number range.
type NumberRange struct {
	Prefix string
	Start  int64
	End    int64
	Width  int
}

// ParseCheckRange validates a reservation's number range. Both ends must
// share the prefix and the numeric width, and the end must not precede the
// start.
func ParseCheckRange(start, end string) (*NumberRange, error) {
	sp, sn, sw, err := splitNumber(start)
	if err != nil {
		return nil, fmt.Errorf("%w: start %q: %v", ErrBadCheckRange, start, err)
	}
	ep, en, ew, err := splitNumber(end)
	if err != nil {
		return nil, fmt.Errorf("%w: end %q: %v", ErrBadCheckRange, end, err)
	}
	if sp != ep {
		return nil, fmt.Errorf("%w: prefix mismatch %q vs %q", ErrBadCheckRange, sp, ep)
	}
	if sw != ew {
		return nil, fmt.Errorf("%w: numeric width mismatch %d vs %d", ErrBadCheckRange, sw, ew)
	}
	if en < sn {
		return nil, fmt.Errorf("%w: end %q precedes start %q", ErrBadCheckRange, end, start)
	}
	return &NumberRange{Prefix: sp, Start: sn, End: en, Width: sw}, nil
}

// Count returns the number of check numbers in the range, inclusive.
func (r *NumberRange) Count() int64 {
	return r.End - r.Start + 1
}

// Number renders the check number at offset from the range start. The
// lexicographic successor of each number is the next offset because the
// width is fixed.
func (r *NumberRange) Number(offset int64) (string, error) {
	n := r.Start + offset
	if offset < 0 || n > r.End {
		return "", fmt.Errorf("offset %d outside range %s..%s", offset,
			r.render(r.Start), r.render(r.End))
	}
	return r.render(n), nil
}

func (r *NumberRange) render(n int64) string {
	return fmt.Sprintf("%s%0*d", r.Prefix, r.Width, n)
}

// splitNumber separates a check number into prefix and trailing digits.
func splitNumber(s string) (prefix string, n int64, width int, err error) {
	if s == "" {
		return "", 0, 0, errors.New("empty")
	}
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	digits := s[i:]
	if digits == "" {
		return "", 0, 0, errors.New("no numeric suffix")
	}
	n, err = strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return "", 0, 0, err
	}
	return s[:i], n, len(digits), nil
}
