package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentRange(t *testing.T) {
	start, stop, err := parseContentRange("bytes 10-19/100")
	require.NoError(t, err)
	assert.Equal(t, int64(10), start)
	assert.Equal(t, int64(20), stop)
}

func TestParseContentRangeMissing(t *testing.T) {
	_, _, err := parseContentRange("")
	assert.Error(t, err)
}

func TestParseContentRangeMalformed(t *testing.T) {
	_, _, err := parseContentRange("bytes nope")
	assert.Error(t, err)
}

func TestParseRangeHeaderAbsent(t *testing.T) {
	start, size, whole, ok := parseRangeHeader("", 100)
	require.True(t, ok)
	assert.True(t, whole)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(100), size)
}

func TestParseRangeHeaderPrefix(t *testing.T) {
	start, size, whole, ok := parseRangeHeader("bytes=10-19", 100)
	require.True(t, ok)
	assert.False(t, whole)
	assert.Equal(t, int64(10), start)
	assert.Equal(t, int64(10), size)
}

func TestParseRangeHeaderSuffix(t *testing.T) {
	start, size, whole, ok := parseRangeHeader("bytes=-10", 100)
	require.True(t, ok)
	assert.False(t, whole)
	assert.Equal(t, int64(90), start)
	assert.Equal(t, int64(10), size)
}

func TestParseRangeHeaderOpenEnded(t *testing.T) {
	start, size, whole, ok := parseRangeHeader("bytes=90-", 100)
	require.True(t, ok)
	assert.False(t, whole)
	assert.Equal(t, int64(90), start)
	assert.Equal(t, int64(10), size)
}

func TestParseRangeHeaderUnsatisfiable(t *testing.T) {
	_, _, _, ok := parseRangeHeader("bytes=200-300", 100)
	assert.False(t, ok)
}

func TestParseRangeHeaderMalformed(t *testing.T) {
	_, _, _, ok := parseRangeHeader("nonsense", 100)
	assert.False(t, ok)
}
