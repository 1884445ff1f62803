package admission_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pecadmissions/admissions/admission"
)

func TestEncode_NoPadding(t *testing.T) {
	assert.Equal(t, "PEC4880", admission.Encode(4880))
	assert.Equal(t, "PEC0", admission.Encode(0))
	assert.Equal(t, "PEC7", admission.Encode(7))
}

func TestDecode_RoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, 9, 10, 4879, 4880, 99999, math.MaxInt64} {
		got, err := admission.Decode(admission.Encode(n))
		require.NoError(t, err, "n=%d", n)
		assert.Equal(t, n, got)
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"prefix only":     "PEC",
		"wrong prefix":    "ABC123",
		"lowercase":       "pec123",
		"sign":            "PEC-5",
		"plus":            "PEC+5",
		"trailing letter": "PEC12a",
		"space":           "PEC 12",
		"overflow":        "PEC99999999999999999999",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := admission.Decode(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, admission.ErrFormat))

			var fe *admission.FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, input, fe.Input)
			assert.True(t, admission.IsClientError(err))
		})
	}
}

func TestExtraFields_StorageBoundary(t *testing.T) {
	// Empty maps are stored as NULL
	v, err := admission.ExtraFields{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = admission.ExtraFields{"caste": "general"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"caste":"general"}`, v)

	// Legacy rows may hold non-string JSON values
	var e admission.ExtraFields
	require.NoError(t, e.Scan(`{"marks": 512, "hostel": true, "note": "ok", "none": null}`))
	assert.Equal(t, admission.ExtraFields{"marks": "512", "hostel": "true", "note": "ok", "none": ""}, e)

	require.NoError(t, e.Scan([]byte("not json")))
	assert.Equal(t, "not json", e.Get("raw"))

	require.NoError(t, e.Scan(nil))
	assert.Nil(t, e)
	assert.Equal(t, "", e.Get("missing"))
}

func TestSeedValue(t *testing.T) {
	assert.Equal(t, int64(4879), admission.SeedValue(4879, 0, false))
	assert.Equal(t, int64(4879), admission.SeedValue(4879, 100, true))
	assert.Equal(t, int64(5200), admission.SeedValue(4879, 5200, true))
}
