package utils

// Parsing rules follow https://github.com/gregberge/content-range

import (
	"errors"
	"regexp"
	"strconv"
)

// ContentRange is a parsed Content-Range response header. Unknown parts are -1.
type ContentRange struct {
	Unit  string
	Start int64
	End   int64
	Size  int64
}

var (
	contentRangeRegex = regexp.MustCompile(`^(\w+) (?:(\d+)-(\d+)|\*)/(\d+|\*)$`)
	ErrContentRange   = errors.New("invalid content-range header")
)

func ParseContentRange(value string) (ContentRange, error) {
	parts := contentRangeRegex.FindStringSubmatch(value)
	if parts == nil {
		return ContentRange{}, ErrContentRange
	}

	result := ContentRange{
		Unit:  parts[1],
		Start: parseOrUnknown(parts[2]),
		End:   parseOrUnknown(parts[3]),
		Size:  parseOrUnknown(parts[4]),
	}

	if result.Size == -1 && result.Start == -1 && result.End == -1 {
		return ContentRange{}, ErrContentRange
	}
	if result.Start > result.End {
		return ContentRange{}, ErrContentRange
	}

	return result, nil
}

// Length is the number of bytes covered by the range, or -1 for an
// unsatisfied range.
func (c ContentRange) Length() int64 {
	if c.Start < 0 || c.End < 0 {
		return -1
	}
	return c.End - c.Start + 1
}

func parseOrUnknown(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
