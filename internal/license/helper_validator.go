package license

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"hedge-sync-go/internal/wire"
)

// HelperValidator delegates validation to a native helper executable. The
// request JSON is written to the helper's stdin and the server's response JSON
// is read from its stdout. Non-zero exit codes follow the helper convention:
// 1 not initialized, 2 network, 3 HTTP status, 4 invalid, 5 parameter.
type HelperValidator struct {
	path    string
	timeout time.Duration
	logger  *zap.Logger
}

var _ Validator = (*HelperValidator)(nil)

// NewHelperValidator creates a validator for the helper at path.
// An empty path yields a validator that is always unavailable.
func NewHelperValidator(path string, timeout time.Duration, logger *zap.Logger) *HelperValidator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HelperValidator{path: path, timeout: timeout, logger: logger.Named("license-helper")}
}

var exitCodes = map[int]string{
	1: ErrorNotInitialized,
	2: ErrorNetwork,
	3: ErrorHTTP,
	4: ErrorInvalid,
	5: ErrorParam,
}

// Validate implements Validator.
func (v *HelperValidator) Validate(ctx context.Context, p Params) (Result, error) {
	if v.path == "" {
		return Result{}, ErrHelperUnavailable
	}
	bin, err := exec.LookPath(v.path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrHelperUnavailable, err)
	}
	if res, ok := checkParams(p); !ok {
		res.Source = "helper"
		return res, nil
	}

	in, err := wire.Marshal(newRequest(p))
	if err != nil {
		return Result{}, fmt.Errorf("encode helper request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "validate", "--endpoint", p.Endpoint)
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	var body response
	decodeErr := wire.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &body)

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			if ctx.Err() != nil {
				return Result{Code: ErrorNetwork, Error: "license helper timed out", Source: "helper"}, nil
			}
			return Result{}, fmt.Errorf("%w: %v", ErrHelperUnavailable, runErr)
		}
		code, ok := exitCodes[exitErr.ExitCode()]
		if !ok {
			code = ErrorNotInitialized
		}
		if body.Code != "" {
			code = body.Code
		}
		msg := strings.TrimSpace(stderr.String())
		if decodeErr == nil && (body.Message != "" || body.Error != "") {
			msg = body.message()
		}
		if msg == "" {
			msg = fmt.Sprintf("license helper exited with code %d", exitErr.ExitCode())
		}
		v.logger.Debug("Helper rejected license", zap.Int("exit_code", exitErr.ExitCode()), zap.String("code", code))
		return Result{Code: code, Error: msg, Source: "helper"}, nil
	}

	if decodeErr != nil {
		return Result{Code: ErrorNotInitialized, Error: fmt.Sprintf("unreadable helper output: %v", decodeErr), Source: "helper"}, nil
	}
	return body.toResult("helper"), nil
}

// Chain tries the primary validator and falls back to the secondary when the
// primary is unavailable. Both report through the same Result contract.
type Chain struct {
	Primary  Validator
	Fallback Validator
	logger   *zap.Logger
}

var _ Validator = (*Chain)(nil)

// NewChain creates a fallback chain.
func NewChain(primary, fallback Validator, logger *zap.Logger) *Chain {
	return &Chain{Primary: primary, Fallback: fallback, logger: logger.Named("license-chain")}
}

// Validate implements Validator.
func (c *Chain) Validate(ctx context.Context, p Params) (Result, error) {
	if c.Primary != nil {
		res, err := c.Primary.Validate(ctx, p)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrHelperUnavailable) {
			return Result{}, err
		}
		c.logger.Debug("Primary validator unavailable, using fallback", zap.Error(err))
	}
	if c.Fallback == nil {
		return Result{}, ErrHelperUnavailable
	}
	return c.Fallback.Validate(ctx, p)
}
