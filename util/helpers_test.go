package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvInt(t *testing.T) {
	t.Setenv("RWA_TEST_INT", "42")
	assert.Equal(t, 42, EnvInt("RWA_TEST_INT", 7))

	t.Setenv("RWA_TEST_INT", "nope")
	assert.Equal(t, 7, EnvInt("RWA_TEST_INT", 7))

	assert.Equal(t, 7, EnvInt("RWA_TEST_INT_UNSET", 7))
}

func TestEnvString(t *testing.T) {
	t.Setenv("RWA_TEST_STR", "  redis:6379 ")
	assert.Equal(t, "redis:6379", EnvString("RWA_TEST_STR", "x"))
	assert.Equal(t, "x", EnvString("RWA_TEST_STR_UNSET", "x"))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "asset:house-1", Key("asset", "house-1"))
	assert.Equal(t, "loan:house-1:alice", Key("loan", "house-1", "alice"))
	assert.Equal(t, "loan:a%3Ab:c", Key("loan", "a:b", "c"))
	assert.NotEqual(t, Key("loan", "a:b", "c"), Key("loan", "a", "b:c"))
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{"ai_model_v1", " chainlink", "", "ai_model_v1", "chainlink "})
	assert.Equal(t, []string{"ai_model_v1", "chainlink"}, got)
}
