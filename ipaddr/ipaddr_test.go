package ipaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLongestPrefixMatchExactMember(t *testing.T) {
	list := []string{"192.168.1.1", "10.0.0.1"}
	best, ok := LongestPrefixMatch(list, "192.168.1.1")
	assert.True(t, ok)
	assert.Equal(t, "192.168.1.1", best)
}

func TestLongestPrefixMatchPicksClosest(t *testing.T) {
	list := []string{"10.0.0.1", "192.168.1.1", "192.168.0.1"}
	best, ok := LongestPrefixMatch(list, "192.168.1.42")
	assert.True(t, ok)
	assert.Equal(t, "192.168.1.1", best)
}

func TestLongestPrefixMatchTieBreaksOnOrder(t *testing.T) {
	list := []string{"192.168.1.1", "192.168.1.2"}
	best, ok := LongestPrefixMatch(list, "192.168.1.200")
	assert.True(t, ok)
	assert.Equal(t, "192.168.1.1", best)
}

func TestLongestPrefixMatchEmptyList(t *testing.T) {
	_, ok := LongestPrefixMatch(nil, "192.168.1.1")
	assert.False(t, ok)
}

func TestDedupPreservesFirstSeenOrder(t *testing.T) {
	out := Dedup([]string{"a", "b", "a", "c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestIsValidIPv4(t *testing.T) {
	assert.True(t, IsValidIPv4("192.168.1.1"))
	assert.False(t, IsValidIPv4("not-an-ip"))
	assert.False(t, IsValidIPv4("::1"))
}
