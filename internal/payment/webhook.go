package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook event types the order workflow reacts to.
const (
	WebhookPaymentSucceeded = "payment_intent.succeeded"
	WebhookPaymentFailed    = "payment_intent.payment_failed"
	WebhookPaymentCanceled  = "payment_intent.canceled"
)

const signatureTolerance = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleSignature   = errors.New("webhook signature timestamp outside tolerance")
)

// WebhookEvent is the slice of the processor's event payload the order
// workflow needs: the event id for dedup, the type, and the intent id.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string `json:"id"`
			LastPaymentError *struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

// PaymentID returns the intent the event refers to.
func (e *WebhookEvent) PaymentID() string {
	return e.Data.Object.ID
}

// FailureReason returns the processor's message for failed payments.
func (e *WebhookEvent) FailureReason() string {
	if e.Data.Object.LastPaymentError != nil {
		return e.Data.Object.LastPaymentError.Message
	}
	return ""
}

// ParseWebhookEvent decodes a webhook payload.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	return &event, nil
}

// VerifyWebhookSignature checks a Stripe-Signature header ("t=...,v1=...")
// against the shared webhook secret: HMAC-SHA256 over "<t>.<payload>",
// compared in constant time, with a timestamp freshness window.
func VerifyWebhookSignature(payload []byte, sigHeader, secret string, now time.Time) error {
	var ts int64
	var sigs []string

	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			ts = parsed
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return ErrStaleSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range sigs {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}
