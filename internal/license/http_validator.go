package license

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hedge-sync-go/internal/config"
	"hedge-sync-go/internal/wire"
)

// HTTPValidator posts the validation request directly to the license endpoint.
// It never retries: a failed call is reported and the next scheduled check is
// the retry.
type HTTPValidator struct {
	client  *resty.Client
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

var _ Validator = (*HTTPValidator)(nil)

// NewHTTPValidator creates a validator from the license configuration.
func NewHTTPValidator(cfg *config.License, logger *zap.Logger) *HTTPValidator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetJSONMarshaler(wire.Marshal).
		SetJSONUnmarshaler(wire.Unmarshal).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPValidator{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		logger:  logger.Named("license-http"),
	}
}

// Validate implements Validator.
func (v *HTTPValidator) Validate(ctx context.Context, p Params) (Result, error) {
	if res, ok := checkParams(p); !ok {
		res.Source = "https"
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if err := v.limiter.Wait(ctx); err != nil {
		return Result{Code: ErrorNetwork, Error: fmt.Sprintf("rate limiter wait failed: %v", err), Source: "https"}, nil
	}

	var body response
	v.logger.Debug("Validating license", zap.String("endpoint", p.Endpoint), zap.String("account", p.AccountID))
	resp, err := v.client.R().
		SetContext(ctx).
		SetBody(newRequest(p)).
		Post(p.Endpoint)
	if err != nil {
		return Result{Code: ErrorNetwork, Error: fmt.Sprintf("network error: %v", err), Source: "https"}, nil
	}
	// The server does not always label its JSON, so decode regardless of Content-Type.
	decodeErr := wire.Unmarshal(resp.Body(), &body)

	if resp.StatusCode() != http.StatusOK {
		msg := body.message()
		if body.Message == "" && body.Error == "" {
			msg = fmt.Sprintf("license server returned HTTP %d", resp.StatusCode())
		}
		code := body.Code
		if code == "" {
			code = ErrorHTTP
		}
		return Result{Code: code, Error: msg, Source: "https"}, nil
	}

	if decodeErr != nil {
		return Result{Code: ErrorHTTP, Error: fmt.Sprintf("unreadable license response: %v", decodeErr), Source: "https"}, nil
	}
	return body.toResult("https"), nil
}
