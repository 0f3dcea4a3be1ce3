package services

import (
	"sort"
	"strings"

	"github.com/gatewarden/warden_api/model"
)

// endpointPattern is a parsed config/override path pattern. A pattern is the
// literal "*", an exact path, or a suffix wildcard ("/api/v1/users*").
type endpointPattern struct {
	raw        string
	isWildcard bool
	prefix     string
}

func parsePattern(raw string) endpointPattern {
	if raw == "*" {
		return endpointPattern{raw: raw, isWildcard: true, prefix: ""}
	}
	if strings.HasSuffix(raw, "*") {
		return endpointPattern{raw: raw, isWildcard: true, prefix: strings.TrimSuffix(raw, "*")}
	}
	return endpointPattern{raw: raw, isWildcard: false, prefix: raw}
}

func (p endpointPattern) Matches(path string) bool {
	if p.isWildcard {
		return strings.HasPrefix(path, p.prefix)
	}
	return path == p.raw
}

// mostSpecificConfig resolves ambiguous overlapping configs deterministically:
// exact matches beat wildcards, longer prefixes beat shorter ones.
func mostSpecificConfig(configs []model.RateLimitConfig, path string) *model.RateLimitConfig {
	type candidate struct {
		cfg     model.RateLimitConfig
		pattern endpointPattern
	}

	var candidates []candidate
	for _, cfg := range configs {
		p := parsePattern(cfg.Endpoint)
		if p.Matches(path) {
			candidates = append(candidates, candidate{cfg: cfg, pattern: p})
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := candidates[i].pattern, candidates[j].pattern
		if pi.isWildcard != pj.isWildcard {
			return !pi.isWildcard
		}
		return len(pi.prefix) > len(pj.prefix)
	})

	cfg := candidates[0].cfg
	return &cfg
}

func matchesAnyPattern(patterns []string, path string) (string, bool) {
	for _, raw := range patterns {
		if parsePattern(raw).Matches(path) {
			return raw, true
		}
	}
	return "", false
}
