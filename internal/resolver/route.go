package resolver

import (
	"strings"

	"yasmin/internal/provider"
)

// DefaultOrder is the fallback order used after the matched vendor.
var DefaultOrder = []provider.Vendor{
	provider.VendorOpenRouter,
	provider.VendorGemini,
	provider.VendorOpenAI,
	provider.VendorAnthropic,
}

// Primary returns the vendor whose naming scheme the model belongs to. Only
// bare vendor names map to a direct vendor; catalog ids such as
// "openai/gpt-4o" and empty names go to OpenRouter.
func Primary(model string) provider.Vendor {
	name := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(name, "gpt"):
		return provider.VendorOpenAI
	case strings.HasPrefix(name, "gemini"):
		return provider.VendorGemini
	case strings.HasPrefix(name, "claude"), strings.Contains(name, "anthropic"):
		return provider.VendorAnthropic
	default:
		return provider.VendorOpenRouter
	}
}

// Route returns the full candidate order for a model: its primary vendor
// followed by the rest of DefaultOrder.
func Route(model string) []provider.Vendor {
	first := Primary(model)
	order := make([]provider.Vendor, 0, len(DefaultOrder))
	order = append(order, first)
	for _, v := range DefaultOrder {
		if v != first {
			order = append(order, v)
		}
	}
	return order
}

// openRouterID reports whether the model name is an OpenRouter catalog id
// (vendor/model) that OpenRouter can serve when the direct vendor is skipped.
func openRouterID(model string) bool {
	return strings.Contains(model, "/")
}
