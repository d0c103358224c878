package routing

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Vendor names known to the gateway.
const (
	VendorAnthropic  = "anthropic"
	VendorOpenAI     = "openai"
	VendorOpenRouter = "openrouter"
	VendorGemini     = "gemini"
)

// VendorInfo describes what a vendor can do.
type VendorInfo struct {
	Name         string
	Capabilities []Capability
}

// Supports reports whether the vendor offers every capability in caps.
func (v VendorInfo) Supports(caps []Capability) (Capability, bool) {
	for _, c := range caps {
		found := false
		for _, have := range v.Capabilities {
			if have == c {
				found = true
				break
			}
		}
		if !found {
			return c, false
		}
	}
	return "", true
}

// PatternRule maps a model-name prefix to a vendor.
type PatternRule struct {
	Prefix string
	Vendor string
}

// Catalog holds known vendors, vendor aliases and model-name patterns.
type Catalog struct {
	mu            sync.RWMutex
	vendors       map[string]VendorInfo
	vendorAliases map[string]string
	patterns      []PatternRule
	defaultVendor string
}

// NewCatalog creates an empty catalog with the given default vendor
func NewCatalog(defaultVendor string) *Catalog {
	return &Catalog{
		vendors:       make(map[string]VendorInfo),
		vendorAliases: make(map[string]string),
		defaultVendor: normalizeVendor(defaultVendor),
	}
}

// DefaultCatalog returns the catalog of built-in vendors and naming conventions.
func DefaultCatalog(defaultVendor string) *Catalog {
	c := NewCatalog(defaultVendor)
	all := []Capability{CapabilityStreaming, CapabilityTools, CapabilityVision, CapabilityThinking}
	c.RegisterVendor(VendorInfo{Name: VendorAnthropic, Capabilities: all})
	c.RegisterVendor(VendorInfo{Name: VendorOpenAI, Capabilities: all})
	c.RegisterVendor(VendorInfo{Name: VendorOpenRouter, Capabilities: all})
	c.RegisterVendor(VendorInfo{Name: VendorGemini, Capabilities: all})

	c.AddPattern("claude-", VendorAnthropic)
	c.AddPattern("gpt-", VendorOpenAI)
	c.AddPattern("chatgpt-", VendorOpenAI)
	c.AddPattern("o1", VendorOpenAI)
	c.AddPattern("o3", VendorOpenAI)
	c.AddPattern("o4", VendorOpenAI)
	c.AddPattern("gemini-", VendorGemini)
	c.AddPattern("gemma-", VendorGemini)
	return c
}

// RegisterVendor adds or replaces a vendor
func (c *Catalog) RegisterVendor(info VendorInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info.Name = normalizeVendor(info.Name)
	c.vendors[info.Name] = info
}

// AddVendorAlias maps alias to a canonical vendor name
func (c *Catalog) AddVendorAlias(alias, vendor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vendorAliases[normalizeVendor(alias)] = normalizeVendor(vendor)
}

// AddPattern registers a prefix rule. Longer prefixes are matched first.
func (c *Catalog) AddPattern(prefix, vendor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, PatternRule{Prefix: strings.ToLower(prefix), Vendor: normalizeVendor(vendor)})
	sort.SliceStable(c.patterns, func(i, j int) bool {
		return len(c.patterns[i].Prefix) > len(c.patterns[j].Prefix)
	})
}

// DefaultVendor returns the vendor used when nothing else matches
func (c *Catalog) DefaultVendor() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultVendor
}

// Vendor returns info for a canonical vendor name
func (c *Catalog) Vendor(name string) (VendorInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.vendors[normalizeVendor(name)]
	return info, ok
}

// Vendors lists the canonical vendor names in sorted order
func (c *Catalog) Vendors() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.vendors))
	for name := range c.vendors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Canonicalize resolves a vendor name through the alias table. aliased is
// true when an alias was followed. Aliases take precedence over vendors of
// the same name, so "openai" can be redirected to "openrouter".
func (c *Catalog) Canonicalize(name string) (vendor string, aliased bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	vendor = normalizeVendor(name)
	seen := map[string]struct{}{}
	for {
		if target, ok := c.vendorAliases[vendor]; ok && target != vendor {
			if _, dup := seen[vendor]; dup {
				return "", aliased, fmt.Errorf("%w at %s: %w", ErrVendorAliasLoop, name, ErrUnknownVendor)
			}
			seen[vendor] = struct{}{}
			vendor = target
			aliased = true
			continue
		}
		if _, ok := c.vendors[vendor]; ok {
			return vendor, aliased, nil
		}
		return "", aliased, fmt.Errorf("%w: %s", ErrUnknownVendor, name)
	}
}

// IsKnown reports whether name is a canonical vendor or an alias of one
func (c *Catalog) IsKnown(name string) bool {
	_, _, err := c.Canonicalize(name)
	return err == nil
}

// MatchPattern returns the vendor whose prefix matches model
func (c *Catalog) MatchPattern(model string) (PatternRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lower := strings.ToLower(model)
	for _, p := range c.patterns {
		if strings.HasPrefix(lower, p.Prefix) {
			return p, true
		}
	}
	return PatternRule{}, false
}

func normalizeVendor(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
