package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimulatedOutput(t *testing.T) {
	assert.Equal(t,
		"[SIMULATED] Command 'ls -la' would execute here",
		simulatedOutput("ls -la"))

	assert.Equal(t,
		"[SIMULATED] Command 'echo \"hi\"' would execute here",
		simulatedOutput(`echo "hi"`))
}

func TestGenerateAPIKey(t *testing.T) {
	key1, hash1, err := generateAPIKey()
	assert.NoError(t, err)
	key2, hash2, err := generateAPIKey()
	assert.NoError(t, err)

	assert.NotEqual(t, key1, key2)
	assert.NotEqual(t, hash1, hash2)

	assert.Contains(t, key1, "cgk_")
	assert.Len(t, hash1, 64)
	assert.Equal(t, hash1, hashAPIKey(key1))
	assert.NotContains(t, hash1, "cgk_")
}
