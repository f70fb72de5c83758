package payments

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"PartsSettle/internal/audit"
)

var (
	ErrInvalidOrigin          = errors.New("notification origin not allowed")
	ErrSignatureMismatch      = errors.New("notification signature mismatch")
	ErrServerValidationFailed = errors.New("provider did not confirm notification")
	ErrMerchantMismatch       = errors.New("notification merchant mismatch")
)

// Authenticator runs the four checks every notification must pass before any state change:
// network origin, signature, provider confirmation and merchant identity.
type Authenticator struct {
	allowed         []*net.IPNet
	merchantID      string
	passphrase      string
	validator       Validator
	validateTimeout time.Duration
	audit           audit.Sink
}

type AuthenticatorConfig struct {
	AllowedCIDRs    []string
	MerchantID      string
	Passphrase      string
	ValidateTimeout time.Duration
}

func NewAuthenticator(cfg AuthenticatorConfig, validator Validator, sink audit.Sink) (*Authenticator, error) {
	nets := make([]*net.IPNet, 0, len(cfg.AllowedCIDRs))
	for _, c := range cfg.AllowedCIDRs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("allowed cidr %q: %w", c, err)
		}
		nets = append(nets, n)
	}
	if cfg.MerchantID == "" {
		return nil, errors.New("merchant id is required")
	}
	if validator == nil {
		return nil, errors.New("validator is required")
	}
	timeout := cfg.ValidateTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Authenticator{
		allowed:         nets,
		merchantID:      cfg.MerchantID,
		passphrase:      cfg.Passphrase,
		validator:       validator,
		validateTimeout: timeout,
		audit:           sink,
	}, nil
}

// Authenticate parses the body and returns the notification only when every check passes.
func (a *Authenticator) Authenticate(ctx context.Context, origin string, body []byte) (*Notification, error) {
	if !a.originAllowed(origin) {
		a.record(ctx, audit.Record{Type: audit.OriginCheck, Origin: origin, Detail: "origin outside allowed ranges"})
		return nil, ErrInvalidOrigin
	}
	a.record(ctx, audit.Record{Type: audit.OriginCheck, Success: true, Origin: origin})

	n, err := ParseNotification(body)
	if err != nil {
		a.record(ctx, audit.Record{Type: audit.NotificationParse, Origin: origin, Detail: err.Error()})
		return nil, err
	}
	base := audit.Record{OrderID: n.OrderID(), PaymentID: n.PaymentID(), Origin: origin}

	if !VerifySignature(n, a.passphrase) {
		r := base
		r.Type, r.Detail = audit.SignatureCheck, audit.Redact(n.Values())
		a.record(ctx, r)
		return nil, ErrSignatureMismatch
	}
	r := base
	r.Type, r.Success = audit.SignatureCheck, true
	a.record(ctx, r)

	vctx, cancel := context.WithTimeout(ctx, a.validateTimeout)
	err = a.validator.Validate(vctx, n)
	cancel()
	if err != nil {
		r := base
		r.Type, r.Detail = audit.ServerValidation, err.Error()
		a.record(ctx, r)
		return nil, fmt.Errorf("%w: %v", ErrServerValidationFailed, err)
	}
	r = base
	r.Type, r.Success = audit.ServerValidation, true
	a.record(ctx, r)

	if n.MerchantID() != a.merchantID {
		r := base
		r.Type, r.Detail = audit.MerchantCheck, "merchant_id="+n.MerchantID()
		a.record(ctx, r)
		return nil, ErrMerchantMismatch
	}
	r = base
	r.Type, r.Success = audit.MerchantCheck, true
	a.record(ctx, r)

	return n, nil
}

func (a *Authenticator) originAllowed(origin string) bool {
	host := origin
	if h, _, err := net.SplitHostPort(origin); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range a.allowed {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (a *Authenticator) record(ctx context.Context, r audit.Record) {
	if a.audit != nil {
		a.audit.Record(ctx, r)
	}
}
