// Package webhook implements the Webhook Intake (C8): a chi-routed
// POST /{provider}/webhook endpoint per provider, signature verification,
// Gmail's Pub/Sub envelope decode, and an immediate 200 + background
// RunIncrementalSync dispatch. Webhooks are hints only — they never mutate
// store state directly (§4.1). Grounded on the chi router idiom used
// throughout agentoven's control-plane/internal/api/router.go.
package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"eve.evalgo.org/ingest/connector"
)

// Verifier checks a provider's webhook signature/secret against the raw
// request body and headers, returning an error if the request should be
// rejected before ever reaching a Driver.
type Verifier interface {
	Verify(r *http.Request, body []byte) error
}

// Dispatcher hands a verified notification to the right connector.Runtime
// instance for background processing. Implementations typically feed a
// worker pool rather than call RunIncrementalSync synchronously, so the
// handler can return 200 immediately.
type Dispatcher interface {
	Dispatch(provider string, n connector.WebhookNotification)
}

// Intake wires one Verifier and Driver set per provider into chi routes.
type Intake struct {
	Verifiers  map[string]Verifier
	Drivers    map[string]connector.Driver
	Dispatcher Dispatcher
	Log        *logrus.Entry
}

// Routes mounts POST /{provider}/webhook on r.
func (in *Intake) Routes(r chi.Router) {
	r.Post("/{provider}/webhook", in.handle)
}

func (in *Intake) handle(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	if v, ok := in.Verifiers[provider]; ok {
		if err := v.Verify(r, body); err != nil {
			in.logf("webhook %s: verification failed: %v", provider, err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	raw, err := decodeEnvelope(provider, body)
	if err != nil {
		in.logf("webhook %s: envelope decode failed: %v", provider, err)
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}

	// 200 first: §4.1 treats webhooks as hints, never a synchronous
	// mutation path — the provider must not retry because our background
	// dispatch was slow.
	w.WriteHeader(http.StatusOK)

	notification := connector.WebhookNotification{Provider: provider, Raw: raw}
	if in.Dispatcher != nil {
		in.Dispatcher.Dispatch(provider, notification)
		return
	}
	if driver, ok := in.Drivers[provider]; ok {
		go func() {
			if err := driver.HandleWebhookNotification(context.WithoutCancel(r.Context()), notification); err != nil {
				in.logf("webhook %s: incremental sync dispatch failed: %v", provider, err)
			}
		}()
	}
}

// decodeEnvelope applies provider-specific framing before the generic JSON
// decode. Gmail ships a Pub/Sub push envelope whose payload is itself
// base64-encoded JSON in message.data.
func decodeEnvelope(provider string, body []byte) (map[string]any, error) {
	if provider == "gmail" {
		var envelope struct {
			Message struct {
				Data string `json:"data"`
			} `json:"message"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			return nil, err
		}
		var raw map[string]any
		if err := json.Unmarshal(decoded, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	}

	if len(body) == 0 {
		return map[string]any{}, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (in *Intake) logf(format string, args ...any) {
	if in.Log == nil {
		return
	}
	in.Log.Warnf(format, args...)
}
