// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseString(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	assert.Equal(t, "value", ParseString("TEST_STR", "default"))
	assert.Equal(t, "default", ParseString("TEST_STR_MISSING", "default"))

	t.Setenv("TEST_STR_EMPTY", "")
	assert.Equal(t, "default", ParseString("TEST_STR_EMPTY", "default"))
}

func TestParseInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, ParseInt("TEST_INT", 7))

	t.Setenv("TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, ParseInt("TEST_INT_BAD", 7))

	assert.Equal(t, 7, ParseInt("TEST_INT_MISSING", 7))
}

func TestParseDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, ParseDuration("TEST_DUR", time.Minute))

	t.Setenv("TEST_DUR_BAD", "ninety")
	assert.Equal(t, time.Minute, ParseDuration("TEST_DUR_BAD", time.Minute))
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{
		"true": true, "1": true, "yes": true, "YES": true,
		"false": false, "0": false, "no": false,
	}
	for raw, want := range cases {
		t.Setenv("TEST_BOOL", raw)
		assert.Equal(t, want, ParseBool("TEST_BOOL", !want), "raw=%q", raw)
	}

	t.Setenv("TEST_BOOL", "maybe")
	assert.True(t, ParseBool("TEST_BOOL", true))
	assert.False(t, ParseBool("TEST_BOOL", false))
}

func TestParseFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.5")
	assert.Equal(t, 0.5, ParseFloat("TEST_FLOAT", 1.0))

	t.Setenv("TEST_FLOAT_BAD", "half")
	assert.Equal(t, 1.0, ParseFloat("TEST_FLOAT_BAD", 1.0))
}
