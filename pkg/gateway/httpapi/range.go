package httpapi

import (
	"regexp"
	"strconv"

	"github.com/neuro-inc/platform-storage-api/pkg/gatewayerr"
)

var contentRangePattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+|\*)$`)

// parseContentRange parses a PATCH request's Content-Range header into a
// half-open [start, stop) byte range, per api.py's _parse_content_range.
func parseContentRange(header string) (start, stop int64, err error) {
	if header == "" {
		return 0, 0, gatewayerr.BadRequestf("required header Content-Range")
	}
	m := contentRangePattern.FindStringSubmatch(header)
	if m == nil {
		return 0, 0, gatewayerr.BadRequestf("malformed Content-Range header %q", header)
	}
	start, _ = strconv.ParseInt(m[1], 10, 64)
	end, _ := strconv.ParseInt(m[2], 10, 64)
	return start, end + 1, nil
}

var rangeHeaderPattern = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// parseRangeHeader parses a GET request's Range header against a known total
// size, mirroring api.py's use of aiohttp's request.http_range plus Python
// slice.indices semantics. whole reports that no Range header was present,
// meaning the entire file should be served starting at 0. ok is
// false when the requested range cannot be satisfied (the caller must answer
// 416).
func parseRangeHeader(header string, total int64) (start, size int64, whole, ok bool) {
	if header == "" {
		return 0, total, true, true
	}
	m := rangeHeaderPattern.FindStringSubmatch(header)
	if m == nil {
		return 0, 0, false, false
	}

	var rangeStart, rangeEnd int64
	switch {
	case m[1] == "" && m[2] == "":
		return 0, 0, false, false
	case m[1] == "":
		// suffix range: last N bytes
		n, _ := strconv.ParseInt(m[2], 10, 64)
		rangeStart = total - n
		if rangeStart < 0 {
			rangeStart = 0
		}
		rangeEnd = total
	case m[2] == "":
		rangeStart, _ = strconv.ParseInt(m[1], 10, 64)
		rangeEnd = total
	default:
		rangeStart, _ = strconv.ParseInt(m[1], 10, 64)
		end, _ := strconv.ParseInt(m[2], 10, 64)
		rangeEnd = end + 1
		if rangeEnd > total {
			rangeEnd = total
		}
	}

	size = rangeEnd - rangeStart
	if size <= 0 || rangeStart >= total {
		return 0, 0, false, false
	}
	return rangeStart, size, false, true
}
