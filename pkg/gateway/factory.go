package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/convo/pkg/config"
)

// BuildGateways constructs one HTTP gateway per configured backend variant,
// keyed by lowercase variant name. The default variant must be present;
// resolution of unrecognized requested variants happens in the session
// manager.
func BuildGateways(cfg config.BackendConfig) (map[string]Gateway, error) {
	if len(cfg.Variants) == 0 {
		return nil, fmt.Errorf("no backend variants configured")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	out := make(map[string]Gateway, len(cfg.Variants))
	for name, variant := range cfg.Variants {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		label := variant.Label
		if label == "" {
			label = key
		}
		out[key] = NewHTTPGateway(label, variant.APIKey, variant.APIBase, variant.Model, variant.Proxy, timeout)
	}

	defaultKey := strings.ToLower(strings.TrimSpace(cfg.DefaultVariant))
	if _, ok := out[defaultKey]; !ok {
		return nil, fmt.Errorf("default variant %q is not configured", cfg.DefaultVariant)
	}

	return out, nil
}
