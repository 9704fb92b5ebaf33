package integration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ---------------------------------------------------------------------------
// Transform
// ---------------------------------------------------------------------------

// Transform maps a record between schemas. It is a pure function: the input
// is never modified. A missing field falls back to DefaultValue; a missing
// required field with no default returns a *MappingError, which rejects this
// record only.
func Transform(record Record, mappings []DataMapping, direction MappingDirection) (Record, error) {
	out := make(Record, len(mappings))
	for _, m := range mappings {
		from, to := m.SourceField, m.TargetField
		if direction == MappingOutbound {
			from, to = to, from
		}

		value, ok := getPath(record, from)
		if !ok {
			if m.DefaultValue != nil {
				setPath(out, to, cloneValue(m.DefaultValue))
				continue
			}
			if m.IsRequired {
				return nil, &MappingError{Field: from, RecordType: m.Type}
			}
			continue
		}

		if m.TransformFunction != "" {
			fn, found := lookupTransform(m.TransformFunction)
			if !found {
				return nil, fmt.Errorf("%w: %s", ErrUnknownTransform, m.TransformFunction)
			}
			apply := fn.Forward
			if direction == MappingOutbound {
				apply = fn.Inverse
			}
			converted, err := apply(value)
			if err != nil {
				return nil, fmt.Errorf("%w: field %s: %v", ErrTransformFailed, from, err)
			}
			value = converted
		}
		setPath(out, to, cloneValue(value))
	}
	return out, nil
}

// ValidationResult is the outcome of Validate
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors"`
}

// Err returns a *ValidationError when the result is invalid
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Errors: r.Errors}
}

// Validate applies field rules to a mapped record. Required mappings carry an
// implicit required rule. Fields are looked up on the side the record was
// mapped to.
func Validate(mapped Record, mappings []DataMapping, direction MappingDirection) ValidationResult {
	result := ValidationResult{Valid: true, Errors: make([]FieldError, 0)}
	for _, m := range mappings {
		field := m.TargetField
		if direction == MappingOutbound {
			field = m.SourceField
		}
		value, present := getPath(mapped, field)

		rules := m.ValidationRules
		if m.IsRequired && !hasRule(rules, RuleRequired) {
			rules = append([]ValidationRule{{Type: RuleRequired}}, rules...)
		}
		for _, rule := range rules {
			if fe, failed := checkRule(field, value, present, rule); failed {
				result.Valid = false
				result.Errors = append(result.Errors, fe)
			}
		}
	}
	return result
}

func hasRule(rules []ValidationRule, t ValidationRuleType) bool {
	for _, r := range rules {
		if r.Type == t {
			return true
		}
	}
	return false
}

func checkRule(field string, value any, present bool, rule ValidationRule) (FieldError, bool) {
	fail := func(msg string) (FieldError, bool) {
		if rule.Message != "" {
			msg = rule.Message
		}
		return FieldError{Field: field, Rule: string(rule.Type), Message: msg}, true
	}

	if rule.Type == RuleRequired {
		if !present || isBlank(value) {
			return fail(fmt.Sprintf("%s is required", field))
		}
		return FieldError{}, false
	}
	// Optional fields that are absent pass every other rule.
	if !present || value == nil {
		return FieldError{}, false
	}

	s := stringify(value)
	switch rule.Type {
	case RuleFormat:
		re, err := compilePattern(rule.Pattern)
		if err != nil || !re.MatchString(s) {
			return fail(fmt.Sprintf("%s does not match format %s", field, rule.Pattern))
		}
	case RuleEnum:
		for _, allowed := range rule.Values {
			if s == allowed {
				return FieldError{}, false
			}
		}
		return fail(fmt.Sprintf("%s must be one of %s", field, strings.Join(rule.Values, ", ")))
	case RuleMaxLength:
		if utf8.RuneCountInString(s) > rule.MaxLength {
			return fail(fmt.Sprintf("%s exceeds %d characters", field, rule.MaxLength))
		}
	case RuleCustom:
		check, ok := lookupCustomRule(rule.Name)
		if !ok {
			return fail(fmt.Sprintf("%s: unknown custom rule %s", field, rule.Name))
		}
		if err := check(value); err != nil {
			return fail(fmt.Sprintf("%s: %v", field, err))
		}
	}
	return FieldError{}, false
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

var (
	patternMu    sync.RWMutex
	patternCache = map[string]*regexp.Regexp{}
)

func compilePattern(p string) (*regexp.Regexp, error) {
	patternMu.RLock()
	re, ok := patternCache[p]
	patternMu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patternMu.Lock()
	patternCache[p] = re
	patternMu.Unlock()
	return re, nil
}

// ---------------------------------------------------------------------------
// Field paths
// ---------------------------------------------------------------------------

func getPath(record map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = record
	for _, p := range parts {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func setPath(record map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := record
	for _, p := range parts[:len(parts)-1] {
		next, ok := asMap(cur[p])
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Record:
		return t, true
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// ---------------------------------------------------------------------------
// Transform functions
// ---------------------------------------------------------------------------

// TransformFunc is a pair of conversions. Forward runs inbound (external to
// internal), Inverse runs outbound. Reversible is set only when
// Inverse(Forward(v)) == v for every v Forward accepts; only reversible
// transforms may be used on required mappings.
type TransformFunc struct {
	Forward    func(any) (any, error)
	Inverse    func(any) (any, error)
	Reversible bool
}

func identity(v any) (any, error) { return v, nil }

func stringOnly(fn func(string) string) func(any) (any, error) {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return fn(s), nil
	}
}

var (
	transformMu sync.RWMutex
	transforms  = map[string]TransformFunc{
		"uppercase": {Forward: stringOnly(strings.ToUpper), Inverse: identity},
		"lowercase": {Forward: stringOnly(strings.ToLower), Inverse: identity},
		"trim":      {Forward: stringOnly(strings.TrimSpace), Inverse: identity},
		"title_case": {
			Forward: stringOnly(func(s string) string { return cases.Title(language.English).String(s) }),
			Inverse: identity,
		},
		"date_iso8601": {Forward: toISODate, Inverse: toISODate},
		"decimal":      {Forward: toDecimalString, Inverse: toDecimalFixed},
		"cents":        {Forward: centsToAmount, Inverse: amountToCents, Reversible: true},
		"boolean":      {Forward: toBool, Inverse: toBool},
	}
)

// RegisterTransform adds or replaces a named transform
func RegisterTransform(name string, fn TransformFunc) {
	transformMu.Lock()
	defer transformMu.Unlock()
	transforms[name] = fn
}

func lookupTransform(name string) (TransformFunc, bool) {
	transformMu.RLock()
	defer transformMu.RUnlock()
	fn, ok := transforms[name]
	return fn, ok
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// toISODate normalizes dates to RFC3339 in UTC. Unix seconds are accepted.
func toISODate(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339), nil
	case float64:
		return time.Unix(int64(t), 0).UTC().Format(time.RFC3339), nil
	case int64:
		return time.Unix(t, 0).UTC().Format(time.RFC3339), nil
	case int:
		return time.Unix(int64(t), 0).UTC().Format(time.RFC3339), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC().Format(time.RFC3339), nil
			}
		}
		return nil, fmt.Errorf("unrecognized date %q", t)
	default:
		return nil, fmt.Errorf("unsupported date type %T", v)
	}
}

func parseDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case string:
		return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(t), ",", ""))
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// toDecimalString stores monetary amounts as canonical decimal strings
func toDecimalString(v any) (any, error) {
	d, err := parseDecimal(v)
	if err != nil {
		return nil, err
	}
	return d.String(), nil
}

func toDecimalFixed(v any) (any, error) {
	d, err := parseDecimal(v)
	if err != nil {
		return nil, err
	}
	return d.StringFixed(2), nil
}

// centsToAmount converts integer minor units to a decimal amount string.
// Fractional minor units are rejected so the conversion stays exact.
func centsToAmount(v any) (any, error) {
	d, err := parseDecimal(v)
	if err != nil {
		return nil, err
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("fractional minor units %s", d.String())
	}
	return d.Shift(-2).String(), nil
}

// amountToCents returns minor units as a float64, the type JSON numbers
// decode to, so provider payloads keep their shape.
func amountToCents(v any) (any, error) {
	d, err := parseDecimal(v)
	if err != nil {
		return nil, err
	}
	f, _ := d.Shift(2).Round(0).Float64()
	return f, nil
}

func toBool(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0", "":
			return false, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %v to boolean", v)
}

// ---------------------------------------------------------------------------
// Custom rules
// ---------------------------------------------------------------------------

// CustomRule validates a single mapped value
type CustomRule func(value any) error

var (
	customMu    sync.RWMutex
	customRules = map[string]CustomRule{
		"positive_amount": func(v any) error {
			d, err := parseDecimal(v)
			if err != nil {
				return err
			}
			if !d.IsPositive() {
				return fmt.Errorf("must be a positive amount")
			}
			return nil
		},
		"iso_date": func(v any) error {
			_, err := toISODate(v)
			return err
		},
	}
)

// RegisterCustomRule adds or replaces a named custom validation rule
func RegisterCustomRule(name string, rule CustomRule) {
	customMu.Lock()
	defer customMu.Unlock()
	customRules[name] = rule
}

func lookupCustomRule(name string) (CustomRule, bool) {
	customMu.RLock()
	defer customMu.RUnlock()
	r, ok := customRules[name]
	return r, ok
}
