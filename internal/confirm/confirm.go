// Package confirm decides what to do with an email confirmation link. It
// classifies the URL parameters, performs at most one verification call, and
// produces exactly one terminal navigation outcome per invocation.
package confirm

import (
	"context"
	"errors"
	"net/url"

	"gatehouse/internal/identity"
)

// Message codes carried to the login page as a query parameter. A banner
// component renders them as human text.
const (
	MessageEmailConfirmed          = "email_confirmed"
	MessageConfirmationFailed      = "confirmation_failed"
	MessageInvalidLink             = "invalid_link"
	MessageLinkExpired             = "link_expired"
	MessageInvalidConfirmationLink = "invalid_confirmation_link"
)

// Navigation targets.
const (
	PathRoot          = "/"
	PathLogin         = "/auth/login"
	PathResetPassword = "/auth/reset-password"
)

// Params is the transient, one-shot parameter set parsed from a confirmation
// URL.
type Params struct {
	Code      string
	TokenHash string
	Type      string
	Error     string
	ErrorCode string
	Verifier  string
}

// ParseParams extracts confirmation parameters from a query string.
func ParseParams(query url.Values) Params {
	return Params{
		Code:      query.Get("code"),
		TokenHash: query.Get("token_hash"),
		Type:      query.Get("type"),
		Error:     query.Get("error"),
		ErrorCode: query.Get("error_code"),
		Verifier:  query.Get("code_verifier"),
	}
}

// Outcome is the single terminal decision for one confirmation attempt.
// Pair is non-nil when a session was established and should be persisted as
// cookies before redirecting.
type Outcome struct {
	Path    string
	Message string
	Pair    *identity.TokenPair
}

// RedirectURL renders the outcome as a relative redirect target.
func (o Outcome) RedirectURL() string {
	if o.Message == "" {
		return o.Path
	}
	return o.Path + "?message=" + url.QueryEscape(o.Message)
}

// Verifier is the narrow slice of the identity service the reconciliation
// logic needs.
type Verifier interface {
	ExchangeCodeForSession(ctx context.Context, code, verifier string) (*identity.AuthResult, error)
	VerifyOtp(ctx context.Context, tokenHash, otpType string) (*identity.AuthResult, error)
}

// Resolve applies the confirmation rules in priority order and returns the
// terminal outcome. Rules short-circuit:
//
//  1. Explicit error parameters redirect to login without any verification
//     call.
//  2. A recovery code routes to the password-reset page.
//  3. A token_hash verifies as a legacy OTP and signs the user in.
//  4. A bare code is exchanged; an invalid-grant or missing-verifier failure
//     means the link was already consumed, which is reported as success.
//  5. Anything else is an invalid link.
func Resolve(ctx context.Context, v Verifier, p Params) Outcome {
	if p.Error != "" || p.ErrorCode != "" {
		return Outcome{Path: PathLogin, Message: classifyLinkError(p.ErrorCode)}
	}

	if p.Type == "recovery" && p.Code != "" {
		result, err := v.ExchangeCodeForSession(ctx, p.Code, p.Verifier)
		if err != nil {
			return Outcome{Path: PathLogin, Message: classifyVerifyError(err)}
		}
		return Outcome{Path: PathResetPassword, Pair: &result.Pair}
	}

	if p.TokenHash != "" && p.Type != "" {
		otpType := p.Type
		if otpType != "email" && otpType != "recovery" {
			otpType = "signup"
		}
		result, err := v.VerifyOtp(ctx, p.TokenHash, otpType)
		if err != nil {
			return Outcome{Path: PathLogin, Message: classifyVerifyError(err)}
		}
		if otpType == "recovery" {
			return Outcome{Path: PathResetPassword, Pair: &result.Pair}
		}
		return Outcome{Path: PathRoot, Pair: &result.Pair}
	}

	if p.Code != "" {
		result, err := v.ExchangeCodeForSession(ctx, p.Code, p.Verifier)
		if err != nil {
			// A consumed code or an unpresentable verifier means the
			// account was already confirmed, just not in this browser.
			if errors.Is(err, identity.ErrInvalidGrant) || errors.Is(err, identity.ErrMissingCodeVerifier) {
				return Outcome{Path: PathLogin, Message: MessageEmailConfirmed}
			}
			return Outcome{Path: PathLogin, Message: classifyVerifyError(err)}
		}
		return Outcome{Path: PathRoot, Pair: &result.Pair}
	}

	return Outcome{Path: PathLogin, Message: MessageInvalidLink}
}

func classifyLinkError(errorCode string) string {
	switch errorCode {
	case "otp_expired":
		return MessageLinkExpired
	case "access_denied":
		return MessageInvalidConfirmationLink
	default:
		return MessageConfirmationFailed
	}
}

func classifyVerifyError(err error) string {
	if errors.Is(err, identity.ErrExpiredToken) {
		return MessageLinkExpired
	}
	return MessageConfirmationFailed
}
