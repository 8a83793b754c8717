package telephony

import (
	"fmt"
	"net/url"
)

// Payload carries the raw webhook body for an adapter. Form is set for
// form-encoded providers (Twilio, Plivo), Body for JSON providers
// (ElevenLabs, Vapi).
type Payload struct {
	Form url.Values
	Body []byte
}

// ProviderAdapter maps one vendor's webhook payloads into CallEvents.
// Adding a provider means adding an adapter, never branching in shared logic.
type ProviderAdapter interface {
	Name() string
	Normalize(kind EventKind, p Payload) (*CallEvent, error)
}

// Registry dispatches normalization by provider name and applies the shared
// phone-number candidate expansion to the resulting event.
type Registry struct {
	adapters           map[string]ProviderAdapter
	defaultCountryCode string
}

func NewRegistry(defaultCountryCode string, adapters ...ProviderAdapter) *Registry {
	r := &Registry{
		adapters:           make(map[string]ProviderAdapter, len(adapters)),
		defaultCountryCode: defaultCountryCode,
	}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Normalize maps a raw provider payload into a canonical event.
func (r *Registry) Normalize(provider string, kind EventKind, p Payload) (*CallEvent, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	evt, err := adapter.Normalize(kind, p)
	if err != nil {
		return nil, err
	}
	evt.Provider = adapter.Name()
	evt.Kind = kind
	if evt.From != "" {
		if normalized := NormalizeE164(evt.From); normalized != "" {
			evt.From = normalized
		}
	}
	evt.ToCandidates = Candidates(evt.To, r.defaultCountryCode)
	if len(evt.ToCandidates) > 0 {
		evt.To = evt.ToCandidates[0]
	}
	return evt, nil
}
