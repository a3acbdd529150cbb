package config

import (
	"fmt"
	"strings"
)

const (
	ProviderExec = "exec"
	ProviderHTTP = "http"
)

// NormalizeProviders validates an ordered speech provider list, lower-casing
// names and dropping empty entries. An empty list defaults to exec only.
func NormalizeProviders(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, name := range raw {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		switch name {
		case ProviderExec, ProviderHTTP:
			out = append(out, name)
		default:
			return nil, fmt.Errorf("invalid synthesis provider %q (expected %s|%s)", name, ProviderExec, ProviderHTTP)
		}
	}
	if len(out) == 0 {
		out = []string{ProviderExec}
	}
	return out, nil
}
