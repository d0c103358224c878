package routing

import (
	"sort"
	"strings"
)

// Identifier is a parsed model identifier of the form
//
//	[vendor "/"] model-path [":" preference] ["?" key "=" value {"&" key "=" value}]
//
// Only the first "/" and the last ":" before the query are structural, so
// model paths may themselves contain both characters.
type Identifier struct {
	// Vendor is the segment before the first "/", nil when there is none.
	Vendor *string
	// Model is the model path with vendor, preference and query removed.
	Model string
	// Preference is the tag after the last ":". A trailing ":" yields a
	// pointer to "", which is distinct from nil.
	Preference *string
	// Query holds tuning parameters. Nil when the identifier has no query.
	Query map[string]string
}

// ParseIdentifier splits a raw model identifier into its parts. It never fails.
func ParseIdentifier(raw string) Identifier {
	var id Identifier

	rest := raw
	if i := strings.Index(raw, "?"); i >= 0 {
		rest = raw[:i]
		id.Query = parseQuery(raw[i+1:])
	}

	if i := strings.Index(rest, "/"); i >= 0 {
		vendor := rest[:i]
		id.Vendor = &vendor
		rest = rest[i+1:]
	}

	if i := strings.LastIndex(rest, ":"); i >= 0 {
		pref := rest[i+1:]
		id.Preference = &pref
		rest = rest[:i]
	}

	id.Model = rest
	return id
}

func parseQuery(q string) map[string]string {
	if q == "" {
		return nil
	}
	params := make(map[string]string)
	for _, pair := range strings.Split(q, "&") {
		if pair == "" {
			continue
		}
		if k, v, ok := strings.Cut(pair, "="); ok {
			params[k] = v
		} else {
			params[pair] = "true"
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// HasVendor reports whether the identifier carried a vendor segment.
func (id Identifier) HasVendor() bool {
	return id.Vendor != nil
}

// VendorName returns the vendor segment or "".
func (id Identifier) VendorName() string {
	if id.Vendor == nil {
		return ""
	}
	return *id.Vendor
}

// FullModel returns the model path including the vendor segment, which is
// what an aggregator expects when the segment is not a gateway vendor.
func (id Identifier) FullModel() string {
	if id.Vendor == nil {
		return id.Model
	}
	return *id.Vendor + "/" + id.Model
}

// String rebuilds the raw identifier. Query keys are emitted in sorted order.
func (id Identifier) String() string {
	var b strings.Builder
	if id.Vendor != nil {
		b.WriteString(*id.Vendor)
		b.WriteByte('/')
	}
	b.WriteString(id.Model)
	if id.Preference != nil {
		b.WriteByte(':')
		b.WriteString(*id.Preference)
	}
	if len(id.Query) > 0 {
		keys := make([]string, 0, len(id.Query))
		for k := range id.Query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(id.Query[k])
		}
	}
	return b.String()
}
