package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"INT_OK":       "7",
		"INT_BAD":      "seven",
		"DUR_SECONDS":  "45",
		"DUR_TEXT":     "2m",
		"DUR_BAD":      "soon",
		"BOOL_TRUE":    "yes",
		"BOOL_FALSE":   "off",
		"FLOAT_OK":     "2.5",
		"FLOAT_BROKEN": "x",
	}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 7, GetInt("INT_OK", 1))
	assert.Equal(t, 1, GetInt("INT_BAD", 1))
	assert.Equal(t, 3, GetInt("INT_MISSING", 3))

	assert.Equal(t, 45*time.Second, GetDuration("DUR_SECONDS", time.Second))
	assert.Equal(t, 2*time.Minute, GetDuration("DUR_TEXT", time.Second))
	assert.Equal(t, time.Second, GetDuration("DUR_BAD", time.Second))

	assert.True(t, GetBool("BOOL_TRUE", false))
	assert.False(t, GetBool("BOOL_FALSE", true))
	assert.True(t, GetBool("BOOL_MISSING", true))

	assert.Equal(t, 2.5, GetFloat("FLOAT_OK", 1))
	assert.Equal(t, 1.0, GetFloat("FLOAT_BROKEN", 1))
}

func TestGetEnvFallsBackToProcessEnv(t *testing.T) {
	Env = map[string]string{}
	t.Cleanup(func() { Env = nil })
	t.Setenv("PAYRELAY_TEST_VALUE", "from-os")

	assert.Equal(t, "from-os", GetEnv("PAYRELAY_TEST_VALUE", "def"))
	assert.Equal(t, "def", GetEnv("PAYRELAY_TEST_UNSET", "def"))
}
