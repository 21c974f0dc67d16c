package timefmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReformat(t *testing.T) {
	out, err := Reformat("2023-01-02T03:04:05.678Z")
	require.NoError(t, err)
	assert.Equal(t, "2023-01-02 03:04:05", out)
}

func TestReformatRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "not-a-timestamp", "2023-01-02 03:04:05", "2023-01-02T03:04:05Z"} {
		_, err := Reformat(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestFormatIsUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	ts := time.Date(2023, 1, 2, 6, 4, 5, 0, loc)
	assert.Equal(t, "2023-01-02 03:04:05", Format(ts))
}
