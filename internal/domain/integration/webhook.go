package integration

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ---------------------------------------------------------------------------
// WebhookEvent is the closed set of inbound push events
// ---------------------------------------------------------------------------

// WebhookEvent names an inbound push event
type WebhookEvent string

const (
	WebhookEventContractCreated  WebhookEvent = "contract.created"
	WebhookEventContractUpdated  WebhookEvent = "contract.updated"
	WebhookEventContractSigned   WebhookEvent = "contract.signed"
	WebhookEventContractExpired  WebhookEvent = "contract.expired"
	WebhookEventAmendmentAdded   WebhookEvent = "amendment.added"
	WebhookEventRenewalInitiated WebhookEvent = "renewal.initiated"
	WebhookEventVendorUpdated    WebhookEvent = "vendor.updated"
)

// AllWebhookEvents returns every supported event
func AllWebhookEvents() []WebhookEvent {
	return []WebhookEvent{
		WebhookEventContractCreated,
		WebhookEventContractUpdated,
		WebhookEventContractSigned,
		WebhookEventContractExpired,
		WebhookEventAmendmentAdded,
		WebhookEventRenewalInitiated,
		WebhookEventVendorUpdated,
	}
}

// IsValid returns true if the event is in the supported set
func (e WebhookEvent) IsValid() bool {
	for _, known := range AllWebhookEvents() {
		if e == known {
			return true
		}
	}
	return false
}

// String returns the string representation of WebhookEvent
func (e WebhookEvent) String() string {
	return string(e)
}

// RecordType returns the mapping category the event payload belongs to
func (e WebhookEvent) RecordType() RecordType {
	switch e {
	case WebhookEventAmendmentAdded:
		return RecordTypeAmendment
	case WebhookEventRenewalInitiated:
		return RecordTypeRenewal
	case WebhookEventVendorUpdated:
		return RecordTypeVendor
	default:
		return RecordTypeContract
	}
}

// ---------------------------------------------------------------------------
// WebhookConfig
// ---------------------------------------------------------------------------

// WebhookConfig holds push settings for an integration
type WebhookConfig struct {
	Enabled     bool           `json:"enabled"`
	EndpointURL string         `json:"endpoint_url"`
	SecretKey   string         `json:"secret_key"`
	Events      []WebhookEvent `json:"events"`
}

// HasEvent returns true if the event is configured
func (w *WebhookConfig) HasEvent(event WebhookEvent) bool {
	if w == nil {
		return false
	}
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Validate validates the webhook configuration
func (w *WebhookConfig) Validate() error {
	if w == nil {
		return nil
	}
	for _, e := range w.Events {
		if !e.IsValid() {
			return NewConfigurationError("webhook_config.events", "unknown event "+string(e))
		}
	}
	if w.Enabled && w.SecretKey == "" {
		return NewConfigurationError("webhook_config.secret_key", "required when webhook is enabled")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Signatures
// ---------------------------------------------------------------------------

// SignaturePrefix is accepted in front of the hex digest
const SignaturePrefix = "sha256="

// SignPayload returns the hex HMAC-SHA256 of payload under secret
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
// It never panics or errors on malformed input; a mismatch is simply false.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	sig := strings.TrimSpace(signature)
	if len(sig) >= len(SignaturePrefix) && strings.EqualFold(sig[:len(SignaturePrefix)], SignaturePrefix) {
		sig = sig[len(SignaturePrefix):]
	}
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(provided, mac.Sum(nil))
}

// WebhookRecord extracts the record carried by a webhook payload. Providers
// either wrap it in "data" or send it at the top level. The record must carry
// an external identifier.
func WebhookRecord(payload Record) (Record, string, error) {
	record := payload
	if data, ok := payload["data"].(map[string]any); ok {
		record = Record(data)
	}
	id, err := record.ExternalID()
	if err != nil {
		return nil, "", err
	}
	return record, id, nil
}
