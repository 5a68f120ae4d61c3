// Package license validates a license key against the remote authority and
// gates whether the engine may broadcast.
package license

import (
	"context"
	"errors"
	"time"
)

// Status codes. The ERROR_* values mirror the native helper's return codes -1..-5.
const (
	StatusUnvalidated   = "UNVALIDATED"
	StatusOK            = "OK"
	ErrorNotInitialized = "ERROR_NOT_INITIALIZED"
	ErrorNetwork        = "ERROR_NETWORK"
	ErrorHTTP           = "ERROR_HTTP"
	ErrorInvalid        = "ERROR_INVALID"
	ErrorParam          = "ERROR_PARAM"
	ErrorExpired        = "ERROR_EXPIRED"
)

// defaultTokenTTL applies when the server omits ttlSeconds.
const defaultTokenTTL = 900 * time.Second

// ErrHelperUnavailable is returned by a validator that cannot run at all, as
// opposed to one that ran and rejected the key.
var ErrHelperUnavailable = errors.New("license helper unavailable")

// Params identify the license and the terminal asking for it.
type Params struct {
	Key       string
	AccountID string
	Broker    string
	DeviceID  string
	Endpoint  string
	Platform  string
	Version   string
}

// Result is the outcome of one validation.
type Result struct {
	Valid            bool
	Token            string
	TTL              time.Duration
	LicenseExpiresAt string
	Plan             string
	Features         []string
	Error            string
	Code             string
	Source           string // "helper" or "https"
}

// Validator performs one validation round trip.
// A rejected or unreachable license is reported through Result; the error
// return is reserved for ErrHelperUnavailable.
type Validator interface {
	Validate(ctx context.Context, p Params) (Result, error)
}

func checkParams(p Params) (Result, bool) {
	switch {
	case p.Key == "":
		return Result{Code: ErrorParam, Error: "License key is required"}, false
	case p.DeviceID == "":
		return Result{Code: ErrorParam, Error: "Device ID is required"}, false
	case p.Endpoint == "":
		return Result{Code: ErrorParam, Error: "Validation endpoint is not configured"}, false
	}
	return Result{}, true
}

// response is the license server's JSON answer, success or failure.
type response struct {
	Valid      bool     `json:"valid"`
	Token      string   `json:"token"`
	TTLSeconds int      `json:"ttlSeconds"`
	ExpiresAt  string   `json:"expiresAt"`
	Plan       string   `json:"plan"`
	Features   []string `json:"features"`
	Message    string   `json:"message"`
	Error      string   `json:"error"`
	Code       string   `json:"code"`
}

func (r response) message() string {
	if r.Error != "" {
		return r.Error
	}
	if r.Message != "" {
		return r.Message
	}
	return "license server returned no message"
}

// toResult maps an answered request (HTTP 200) onto a Result.
func (r response) toResult(source string) Result {
	if !r.Valid {
		code := r.Code
		if code == "" {
			code = ErrorInvalid
		}
		return Result{Code: code, Error: r.message(), Source: source}
	}
	ttl := time.Duration(r.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return Result{
		Valid:            true,
		Token:            r.Token,
		TTL:              ttl,
		LicenseExpiresAt: r.ExpiresAt,
		Plan:             r.Plan,
		Features:         r.Features,
		Code:             StatusOK,
		Source:           source,
	}
}

type request struct {
	LicenseKey string `json:"licenseKey"`
	AccountID  string `json:"accountId"`
	Broker     string `json:"broker"`
	DeviceID   string `json:"deviceId"`
	Platform   string `json:"platform,omitempty"`
	Version    string `json:"version,omitempty"`
}

func newRequest(p Params) request {
	return request{
		LicenseKey: p.Key,
		AccountID:  p.AccountID,
		Broker:     p.Broker,
		DeviceID:   p.DeviceID,
		Platform:   p.Platform,
		Version:    p.Version,
	}
}
