package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humans-net/oxibridge/internal/config"
)

func TestAddressStrategyMatchesCaseInsensitively(t *testing.T) {
	s := AddressStrategy{Address: "AA:BB:CC:DD:EE:FF"}

	assert.True(t, s.Match(fakeAdvertisement{addr: "aa:bb:cc:dd:ee:ff"}))
	assert.True(t, s.Match(fakeAdvertisement{addr: "AA:BB:CC:DD:EE:FF", name: "anything"}))
	assert.False(t, s.Match(fakeAdvertisement{addr: "11:22:33:44:55:66"}))
}

func TestNameFilterStrategyMatchesSubstrings(t *testing.T) {
	s := NameFilterStrategy{Filters: []string{"berry", "vinculo"}}

	assert.True(t, s.Match(fakeAdvertisement{name: "BerryMed BM1000C"}))
	assert.True(t, s.Match(fakeAdvertisement{name: "VINCULO-42"}))
	assert.False(t, s.Match(fakeAdvertisement{name: "FitnessTracker"}))
}

func TestNameFilterStrategyIgnoresNamelessAdvertisements(t *testing.T) {
	s := NameFilterStrategy{Filters: []string{""}}

	// An empty filter would substring-match everything; a nameless
	// advertisement still never matches.
	assert.False(t, s.Match(fakeAdvertisement{name: "", addr: "aa:bb:cc:dd:ee:ff"}))
}

func TestStrategyFromConfigPrefersAddress(t *testing.T) {
	cfg := config.LinkConfig{
		DeviceAddress:     "aa:bb:cc:dd:ee:ff",
		DeviceNameFilters: []string{"berry"},
	}
	strategy, err := StrategyFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, AddressStrategy{}, strategy)
	assert.Contains(t, strategy.Describe(), "aa:bb:cc:dd:ee:ff")
}

func TestStrategyFromConfigNameFilters(t *testing.T) {
	cfg := config.LinkConfig{DeviceNameFilters: []string{"berry", "humans"}}
	strategy, err := StrategyFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, NameFilterStrategy{}, strategy)
}

func TestStrategyFromConfigRequiresTarget(t *testing.T) {
	_, err := StrategyFromConfig(config.LinkConfig{})
	require.Error(t, err)
}
