package llm

import (
	"context"
	"time"

	"resty.dev/v3"
)

func newHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	c := resty.New()
	c.SetBaseURL(baseURL)
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	c.SetHeader("Content-Type", "application/json")
	return c
}

// post sends body and returns the raw reply, mapping failures to
// *ProviderError.
func post(ctx context.Context, provider ProviderName, r *resty.Request, path string, body any) ([]byte, error) {
	res, err := r.SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return nil, &ProviderError{Provider: provider, Kind: ErrUnavailable, Cause: err}
	}
	raw := res.Bytes()
	if res.IsError() {
		return nil, statusError(provider, res.StatusCode(), raw)
	}
	return raw, nil
}
