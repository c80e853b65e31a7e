package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDString(t *testing.T) {
	a, b := GenerateUUIDString(), GenerateUUIDString()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestSanitizeKey(t *testing.T) {
	cases := map[string]string{
		"alice":       "alice",
		"dr.who":      "dr_who",
		"a#b$c/d[e]f": "a_b_c_d_e_f",
		"":            "",
		"Zoë Ñ":       "Zoë Ñ",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeKey(in), in)
	}
}
