package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tableside/internal/util"

	"go.uber.org/zap"
)

const requestTimeout = 10 * time.Second

// StripeClient talks to the Stripe PaymentIntents API in manual-capture
// mode: Authorize holds the funds, Capture settles, Cancel releases.
type StripeClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewStripeClient creates the client. baseURL is normally the Stripe API;
// tests point it at a local server.
func NewStripeClient(apiKey, baseURL string) *StripeClient {
	logger := util.GetLogger()
	if apiKey == "" {
		logger.Warn("Stripe API key is empty")
	}
	return &StripeClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger: logger,
	}
}

type stripeIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Error        *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Authorize creates a manual-capture payment intent, holding the amount
// without charging it.
func (c *StripeClient) Authorize(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Authorization, error) {
	util.PaymentAuthorizeTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentGatewayLatency.WithLabelValues("authorize").Observe(time.Since(start).Seconds())
	}()

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountMinor, 10))
	form.Set("currency", currency)
	form.Set("capture_method", "manual")
	form.Set("payment_method_types[]", "card")
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	intent, err := c.do(ctx, "authorize", "/v1/payment_intents", form)
	if err != nil {
		util.PaymentAuthorizeFailed.Inc()
		return nil, err
	}
	if intent.Error != nil {
		util.PaymentAuthorizeFailed.Inc()
		return nil, &AuthorizationError{Code: intent.Error.Code, Message: intent.Error.Message}
	}

	c.logger.Info("Payment authorized",
		zap.String("payment_id", intent.ID),
		zap.Int64("amount", amountMinor))

	return &Authorization{ID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// Capture settles a held authorization.
func (c *StripeClient) Capture(ctx context.Context, paymentID string) (*Confirmation, error) {
	util.PaymentCaptureTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentGatewayLatency.WithLabelValues("capture").Observe(time.Since(start).Seconds())
	}()

	intent, err := c.do(ctx, "capture", "/v1/payment_intents/"+paymentID+"/capture", url.Values{})
	if err != nil {
		util.PaymentCaptureFailed.Inc()
		return nil, err
	}
	if intent.Error != nil {
		util.PaymentCaptureFailed.Inc()
		return nil, &CaptureError{PaymentID: paymentID, Message: intent.Error.Message}
	}

	c.logger.Info("Payment captured", zap.String("payment_id", intent.ID))
	return &Confirmation{ID: intent.ID, Status: intent.Status}, nil
}

// Cancel releases a held authorization without charging it.
func (c *StripeClient) Cancel(ctx context.Context, paymentID string) (*Confirmation, error) {
	util.PaymentCancelTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentGatewayLatency.WithLabelValues("cancel").Observe(time.Since(start).Seconds())
	}()

	intent, err := c.do(ctx, "cancel", "/v1/payment_intents/"+paymentID+"/cancel", url.Values{})
	if err != nil {
		util.PaymentCancelFailed.Inc()
		return nil, err
	}
	if intent.Error != nil {
		util.PaymentCancelFailed.Inc()
		return nil, &CancelError{PaymentID: paymentID, Message: intent.Error.Message}
	}

	c.logger.Info("Payment authorization cancelled", zap.String("payment_id", intent.ID))
	return &Confirmation{ID: intent.ID, Status: intent.Status}, nil
}

func (c *StripeClient) do(ctx context.Context, op, path string, form url.Values) (*stripeIntent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.logger.Error("Payment gateway timeout", zap.String("operation", op))
			return nil, &TimeoutError{Op: op}
		}
		return nil, fmt.Errorf("payment gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	var intent stripeIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, fmt.Errorf("unexpected gateway response: %w", err)
	}
	return &intent, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
