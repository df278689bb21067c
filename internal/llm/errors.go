package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized = errors.New("llm unauthorized")
	ErrUnavailable  = errors.New("llm unavailable")
	ErrRateLimited  = errors.New("llm rate limited")
	ErrRejected     = errors.New("llm rejected request")
	ErrEmptyReply   = errors.New("llm empty reply")
	ErrUnknownModel = errors.New("unknown model")
)

// MissingCredentialError is returned before any call is made when no API
// key is configured for the provider. Its messages are safe to show.
type MissingCredentialError struct {
	Provider ProviderName
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("missing API key for %s", e.Provider)
}

// UserMessage is the text shown to end users.
func (e *MissingCredentialError) UserMessage() string {
	return "Missing API key. Add your " + e.Provider.DisplayName() +
		" API key in the settings. It is only kept in memory and never written to disk."
}

// DeveloperMessage explains how to fix the request.
func (e *MissingCredentialError) DeveloperMessage() string {
	return "Please provide an API key in `api_key` to use the API."
}

// ProviderError is a transport or non-2xx failure from a provider.
type ProviderError struct {
	Provider   ProviderName
	StatusCode int
	Body       string
	Kind       error
	Cause      error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s error: %d %s - %s", e.Provider, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	case e.Cause != nil:
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Cause)
	}
	return fmt.Sprintf("%s error: %v", e.Provider, e.Kind)
}

func (e *ProviderError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func statusError(provider ProviderName, status int, body []byte) error {
	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrUnauthorized
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case status >= 500:
		kind = ErrUnavailable
	default:
		kind = ErrRejected
	}
	const maxBody = 2048
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &ProviderError{Provider: provider, StatusCode: status, Body: string(body), Kind: kind}
}
