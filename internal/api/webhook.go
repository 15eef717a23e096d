package api

import (
	"io"
	"net/http"
	"time"

	"tableside/internal/models"
	"tableside/internal/payment"
	"tableside/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// stripeWebhook is the out-of-band confirmation path for payment outcomes.
// It verifies the signature, applies the outcome idempotently through the
// lifecycle service, and republishes the event for downstream consumers.
func (h *Handler) stripeWebhook(c *gin.Context) {
	logger := util.GetLogger()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		respondError(c, http.StatusBadRequest, "Failed to read body")
		return
	}

	sig := c.GetHeader("Stripe-Signature")
	if err := payment.VerifyWebhookSignature(body, sig, h.webhookSecret, time.Now()); err != nil {
		logger.Warn("Rejected webhook with bad signature", zap.Error(err))
		respondError(c, http.StatusUnauthorized, "Invalid signature")
		return
	}

	event, err := payment.ParseWebhookEvent(body)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid payload")
		return
	}

	var eventType string
	switch event.Type {
	case payment.WebhookPaymentSucceeded:
		eventType = models.EventTypePaymentSucceeded
	case payment.WebhookPaymentFailed:
		eventType = models.EventTypePaymentFailed
	case payment.WebhookPaymentCanceled:
		eventType = models.EventTypePaymentCancelled
	default:
		// Not an event this system reacts to; acknowledge so the
		// gateway stops retrying.
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	paymentEvent := &models.PaymentEvent{
		BaseEvent: models.BaseEvent{
			EventID:   event.ID,
			EventType: eventType,
			Timestamp: time.Now().UTC(),
		},
		PaymentReference: event.PaymentID(),
		Reason:           event.FailureReason(),
	}

	if err := h.orders.HandlePaymentEvent(c.Request.Context(), paymentEvent); err != nil {
		logger.Error("Failed to apply webhook payment event",
			zap.String("event_id", event.ID),
			zap.Error(err))
		// Non-2xx makes the gateway redeliver; the dedup table keeps
		// the retry safe.
		respondError(c, http.StatusInternalServerError, "Failed to process event")
		return
	}

	if err := h.publisher.PublishPaymentEvent(c.Request.Context(), paymentEvent); err != nil {
		logger.Error("Failed to republish payment event", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
