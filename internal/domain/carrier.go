package domain

import (
	"fmt"
	"strings"
)

var carrierPrefixes = []struct {
	carrier  Carrier
	prefixes []string
}{
	{CarrierKyivstar, []string{"38067", "38068", "38077", "38096", "38097", "38098"}},
	{CarrierLifecell, []string{"38063", "38093", "38073"}},
	{CarrierVodafone, []string{"38050", "38066", "38095", "38099"}},
}

var defaultAmounts = map[Carrier]int{
	CarrierKyivstar: 1,
	CarrierLifecell: 10,
	CarrierVodafone: 5,
}

// ResolveCarrier returns the carrier owning the number's prefix.
// Numbers may carry a leading '+'.
func ResolveCarrier(number string) (Carrier, error) {
	digits := strings.TrimLeft(strings.TrimSpace(number), "+")
	if digits == "" {
		return "", fmt.Errorf("%w: empty phone number", ErrUnresolvedCarrier)
	}

	for _, entry := range carrierPrefixes {
		for _, p := range entry.prefixes {
			if strings.HasPrefix(digits, p) {
				return entry.carrier, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no carrier for %q", ErrUnresolvedCarrier, number)
}

// DefaultAmount returns the default top-up tariff for a carrier
func DefaultAmount(c Carrier) (int, error) {
	amount, ok := defaultAmounts[c]
	if !ok {
		return 0, fmt.Errorf("%w: no tariff for carrier %q", ErrUnresolvedCarrier, c)
	}
	return amount, nil
}

// ParseCarrier validates a carrier name
func ParseCarrier(s string) (Carrier, error) {
	c := Carrier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := defaultAmounts[c]; !ok {
		return "", fmt.Errorf("unknown carrier %q", s)
	}
	return c, nil
}
