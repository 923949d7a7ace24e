package link

import (
	"fmt"
	"strings"

	"github.com/humans-net/oxibridge/internal/config"
	"github.com/humans-net/oxibridge/internal/radio"
)

// DiscoveryStrategy decides whether an advertisement belongs to the
// wearable this node should bind to. Two variants exist: a fixed
// address and an advertised-name filter, selected by configuration.
type DiscoveryStrategy interface {
	Match(adv radio.Advertisement) bool
	Describe() string
}

// AddressStrategy matches a single fixed peripheral address.
type AddressStrategy struct {
	Address string
}

func (s AddressStrategy) Match(adv radio.Advertisement) bool {
	return strings.EqualFold(adv.Addr(), s.Address)
}

func (s AddressStrategy) Describe() string {
	return fmt.Sprintf("address %s", s.Address)
}

// NameFilterStrategy matches any advertisement whose local name
// contains one of the filters, case-insensitively.
type NameFilterStrategy struct {
	Filters []string
}

func (s NameFilterStrategy) Match(adv radio.Advertisement) bool {
	name := strings.ToLower(adv.LocalName())
	if name == "" {
		return false
	}
	for _, f := range s.Filters {
		if strings.Contains(name, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

func (s NameFilterStrategy) Describe() string {
	return fmt.Sprintf("name filters %v", s.Filters)
}

// StrategyFromConfig selects the discovery strategy. A pinned address
// takes precedence over name filters.
func StrategyFromConfig(cfg config.LinkConfig) (DiscoveryStrategy, error) {
	if cfg.DeviceAddress != "" {
		return AddressStrategy{Address: cfg.DeviceAddress}, nil
	}
	if len(cfg.DeviceNameFilters) > 0 {
		return NameFilterStrategy{Filters: cfg.DeviceNameFilters}, nil
	}
	return nil, fmt.Errorf("discovery requires either link.device_address or link.device_name_filters")
}
