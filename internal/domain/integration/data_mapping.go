package integration

import (
	"fmt"
	"regexp"
)

// ---------------------------------------------------------------------------
// RecordType
// ---------------------------------------------------------------------------

// RecordType is the category of record a mapping applies to
type RecordType string

const (
	RecordTypeContract  RecordType = "contract"
	RecordTypeVendor    RecordType = "vendor"
	RecordTypeAmendment RecordType = "amendment"
	RecordTypeRenewal   RecordType = "renewal"
)

// IsValid returns true if the record type is valid
func (t RecordType) IsValid() bool {
	switch t {
	case RecordTypeContract, RecordTypeVendor, RecordTypeAmendment, RecordTypeRenewal:
		return true
	default:
		return false
	}
}

// MappingDirection is the direction a single transform runs in
type MappingDirection string

const (
	// MappingInbound reads SourceField (external) and writes TargetField (internal)
	MappingInbound MappingDirection = "inbound"
	// MappingOutbound reads TargetField (internal) and writes SourceField (external)
	MappingOutbound MappingDirection = "outbound"
)

// ---------------------------------------------------------------------------
// ValidationRule
// ---------------------------------------------------------------------------

// ValidationRuleType selects a validation check
type ValidationRuleType string

const (
	RuleRequired  ValidationRuleType = "required"
	RuleFormat    ValidationRuleType = "format"
	RuleEnum      ValidationRuleType = "enum"
	RuleMaxLength ValidationRuleType = "max_length"
	RuleCustom    ValidationRuleType = "custom"
)

// ValidationRule is one post-transform check on a mapped field
type ValidationRule struct {
	Type ValidationRuleType `json:"type"`
	// Pattern is the regular expression for format rules
	Pattern string `json:"pattern,omitempty"`
	// Values is the allowed set for enum rules
	Values []string `json:"values,omitempty"`
	// MaxLength is the limit for max_length rules
	MaxLength int `json:"max_length,omitempty"`
	// Name selects a registered custom validator
	Name string `json:"name,omitempty"`
	// Message overrides the default failure message
	Message string `json:"message,omitempty"`
}

// Validate checks that the rule itself is well formed
func (r ValidationRule) Validate() error {
	switch r.Type {
	case RuleRequired:
		return nil
	case RuleFormat:
		if r.Pattern == "" {
			return fmt.Errorf("format rule requires a pattern")
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
	case RuleEnum:
		if len(r.Values) == 0 {
			return fmt.Errorf("enum rule requires values")
		}
	case RuleMaxLength:
		if r.MaxLength < 1 {
			return fmt.Errorf("max_length rule requires a positive limit")
		}
	case RuleCustom:
		if _, ok := lookupCustomRule(r.Name); !ok {
			return fmt.Errorf("unknown custom rule %q", r.Name)
		}
	default:
		return fmt.Errorf("unknown rule type %q", r.Type)
	}
	return nil
}

// ---------------------------------------------------------------------------
// DataMapping
// ---------------------------------------------------------------------------

// DataMapping maps one external field to one internal field
type DataMapping struct {
	Type RecordType `json:"type"`
	// SourceField is the external (provider) field path
	SourceField string `json:"source_field"`
	// TargetField is the internal field path
	TargetField string `json:"target_field"`
	// TransformFunction names a registered transform. Required mappings
	// accept only reversible ones.
	TransformFunction string `json:"transform_function,omitempty"`
	IsRequired        bool   `json:"is_required"`
	// DefaultValue is used when the source field is absent
	DefaultValue    any              `json:"default_value,omitempty"`
	ValidationRules []ValidationRule `json:"validation_rules,omitempty"`
}

// Validate checks that the mapping is well formed
func (m DataMapping) Validate() error {
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid record type %q", m.Type)
	}
	if m.SourceField == "" || m.TargetField == "" {
		return fmt.Errorf("source_field and target_field are required")
	}
	if m.TransformFunction != "" {
		fn, ok := lookupTransform(m.TransformFunction)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTransform, m.TransformFunction)
		}
		// Required fields must survive an outbound/inbound round trip.
		if m.IsRequired && !fn.Reversible {
			return fmt.Errorf("%w: %s on required field %s", ErrLossyTransform, m.TransformFunction, m.SourceField)
		}
	}
	for _, r := range m.ValidationRules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MappingsFor filters mappings by record type, keeping order
func MappingsFor(mappings []DataMapping, recordType RecordType) []DataMapping {
	out := make([]DataMapping, 0, len(mappings))
	for _, m := range mappings {
		if m.Type == recordType {
			out = append(out, m)
		}
	}
	return out
}

// DefaultDataMappings returns the mapping list merged in when none is supplied.
// Internal field names follow the contract store schema
// (title, counterparty, status, effective_date, expiration_date, financials.*).
func DefaultDataMappings(provider ProviderCode) []DataMapping {
	switch provider {
	case ProviderDocuSign:
		return []DataMapping{
			{Type: RecordTypeContract, SourceField: "emailSubject", TargetField: "title", IsRequired: true,
				ValidationRules: []ValidationRule{{Type: RuleMaxLength, MaxLength: 255}}},
			{Type: RecordTypeContract, SourceField: "sender.userName", TargetField: "counterparty"},
			{Type: RecordTypeContract, SourceField: "status", TargetField: "status", TransformFunction: "lowercase",
				DefaultValue: "draft"},
			{Type: RecordTypeContract, SourceField: "sentDateTime", TargetField: "effective_date", TransformFunction: "date_iso8601"},
			{Type: RecordTypeContract, SourceField: "completedDateTime", TargetField: "signed_date", TransformFunction: "date_iso8601"},
		}
	case ProviderIronclad:
		return []DataMapping{
			{Type: RecordTypeContract, SourceField: "name", TargetField: "title", IsRequired: true,
				ValidationRules: []ValidationRule{{Type: RuleMaxLength, MaxLength: 255}}},
			{Type: RecordTypeContract, SourceField: "properties.counterpartyName.value", TargetField: "counterparty"},
			{Type: RecordTypeContract, SourceField: "properties.agreementDate.value", TargetField: "effective_date", TransformFunction: "date_iso8601"},
			{Type: RecordTypeContract, SourceField: "properties.expirationDate.value", TargetField: "expiration_date", TransformFunction: "date_iso8601"},
			{Type: RecordTypeContract, SourceField: "properties.contractValue.value", TargetField: "financials.total_value", TransformFunction: "decimal"},
			{Type: RecordTypeContract, SourceField: "properties.contractValue.currency", TargetField: "financials.currency",
				TransformFunction: "uppercase", DefaultValue: "USD",
				ValidationRules: []ValidationRule{{Type: RuleFormat, Pattern: `^[A-Z]{3}$`}}},
		}
	default:
		return []DataMapping{
			{Type: RecordTypeContract, SourceField: "title", TargetField: "title", IsRequired: true},
			{Type: RecordTypeContract, SourceField: "counterparty", TargetField: "counterparty"},
			{Type: RecordTypeContract, SourceField: "status", TargetField: "status", DefaultValue: "draft"},
		}
	}
}
