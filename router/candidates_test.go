package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWavesPutsCacheEntriesInMatched(t *testing.T) {
	matched, other := Waves([]string{"203.0.113.1"}, []string{"192.168.1.42"})
	assert.Contains(t, matched, "203.0.113.1")
	assert.Contains(t, matched, "192.168.1.1")
	assert.NotContains(t, other, "192.168.1.1")
}

func TestWavesPartitionsDefaultsWithoutOverlap(t *testing.T) {
	matched, other := Waves(nil, []string{"192.168.1.42"})
	for _, ip := range matched {
		assert.NotContains(t, other, ip)
	}
	assert.Equal(t, len(DefaultIPs), len(matched)+len(other))
}

func TestWavesEmptyInputsStillCoversDefaults(t *testing.T) {
	matched, other := Waves(nil, nil)
	assert.Empty(t, matched)
	assert.ElementsMatch(t, DefaultIPs, other)
}

func TestWavesDedupsRepeatedCacheEntries(t *testing.T) {
	matched, _ := Waves([]string{"192.168.1.1", "192.168.1.1"}, nil)
	count := 0
	for _, ip := range matched {
		if ip == "192.168.1.1" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
