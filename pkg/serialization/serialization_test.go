package serialization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Title    string
	Duration time.Duration
	Tags     []string
}

func TestLookupRoundTrip(t *testing.T) {
	for _, name := range []string{JSONType, GobType} {
		t.Run(name, func(t *testing.T) {
			enc, dec, err := Lookup(name)
			require.NoError(t, err)

			in := payload{Title: "Blue", Duration: 3 * time.Minute, Tags: []string{"hi-res"}}
			data, err := Marshal(enc, in)
			require.NoError(t, err)

			var out payload
			require.NoError(t, Unmarshal(dec, data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	_, _, err := Lookup("msgpack")
	assert.Error(t, err)
}
