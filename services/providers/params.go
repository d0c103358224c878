package providers

import (
	"sort"
	"strconv"
	"strings"
)

// Overrides are typed tuning parameters taken from an identifier's query
// string. Nil fields were absent or unparseable.
type Overrides struct {
	Temperature     *float64
	TopP            *float64
	TopK            *int
	MaxTokens       *int
	ThinkingBudget  *int
	ReasoningEffort string
}

// Query keys per knob, highest precedence first. When several keys for one
// knob are present, the first one that parses wins.
var (
	temperatureKeys = []string{"temperature", "temp"}
	thinkingKeys    = []string{"thinking", "think", "reasoning"}
	effortKeys      = []string{"reasoning_effort", "effort", "thinking", "think", "reasoning"}
)

// ParseOverrides reads the known keys from params. Keys are matched case
// insensitively. Unknown keys and unparseable values are ignored.
func ParseOverrides(params map[string]string) Overrides {
	var o Overrides
	if len(params) == 0 {
		return o
	}
	values := normalizeParams(params)

	for _, key := range temperatureKeys {
		if f, err := strconv.ParseFloat(values[key], 64); err == nil {
			o.Temperature = &f
			break
		}
	}
	if f, err := strconv.ParseFloat(values["top_p"], 64); err == nil {
		o.TopP = &f
	}
	if n, err := strconv.Atoi(values["top_k"]); err == nil && n >= 0 {
		o.TopK = &n
	}
	if n, err := strconv.Atoi(values["max_tokens"]); err == nil && n > 0 {
		o.MaxTokens = &n
	}

	for _, key := range thinkingKeys {
		if n, err := strconv.Atoi(values[key]); err == nil && n >= 0 {
			o.ThinkingBudget = &n
			break
		}
	}
	// An explicit effort key beats an effort word given as a thinking value.
	for _, key := range effortKeys {
		if effort := normalizeEffort(values[key]); effort != "" {
			o.ReasoningEffort = effort
			break
		}
	}
	return o
}

// normalizeParams lower-cases keys and trims values. Keys that differ only
// in case resolve to the lexically smallest original key.
func normalizeParams(params map[string]string) map[string]string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make(map[string]string, len(params))
	for _, k := range keys {
		lk := strings.ToLower(k)
		if _, seen := values[lk]; !seen {
			values[lk] = strings.TrimSpace(params[k])
		}
	}
	return values
}

func normalizeEffort(v string) string {
	switch strings.ToLower(v) {
	case "low", "medium", "high":
		return strings.ToLower(v)
	}
	return ""
}

// IsZero reports whether no override is set
func (o Overrides) IsZero() bool {
	return o.Temperature == nil && o.TopP == nil && o.TopK == nil &&
		o.MaxTokens == nil && o.ThinkingBudget == nil && o.ReasoningEffort == ""
}

// Apply writes the overrides into a canonical request. A zero thinking
// budget disables extended reasoning.
func (o Overrides) Apply(req *ChatRequest) {
	if o.Temperature != nil {
		req.Temperature = o.Temperature
	}
	if o.TopP != nil {
		req.TopP = o.TopP
	}
	if o.TopK != nil {
		req.TopK = o.TopK
	}
	if o.MaxTokens != nil {
		req.MaxTokens = *o.MaxTokens
	}
	if o.ThinkingBudget != nil {
		if *o.ThinkingBudget == 0 {
			req.Thinking = nil
		} else {
			req.Thinking = &Thinking{BudgetTokens: *o.ThinkingBudget}
		}
	}
	if o.ReasoningEffort != "" {
		req.ReasoningEffort = o.ReasoningEffort
	}
}

// EffortForBudget maps a thinking budget onto an effort level for vendors
// that only accept effort.
func EffortForBudget(budget int) string {
	switch {
	case budget <= 0:
		return ""
	case budget < 4096:
		return "low"
	case budget < 16384:
		return "medium"
	default:
		return "high"
	}
}

// BudgetForEffort is the inverse of EffortForBudget
func BudgetForEffort(effort string) int {
	switch effort {
	case "low":
		return 2048
	case "medium":
		return 8192
	case "high":
		return 24576
	}
	return 0
}

// PrepareRequest copies req and applies the decision's model and overrides.
func PrepareRequest(req *ChatRequest, model string, params map[string]string) *ChatRequest {
	out := *req
	out.Model = model
	ParseOverrides(params).Apply(&out)
	return &out
}
