package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxExchangeResponseBytes caps the provider's response body.
const maxExchangeResponseBytes = 64 << 10

// HTTPProvider exchanges the artifact at the provider's exchange endpoint:
//
//	POST <exchange_url>  (form: artifact, client_id[, client_secret])
//	200 {"sub": "...", "name": "..."}
//
// 4xx means the artifact was refused; anything else is an outage.
type HTTPProvider struct {
	exchangeURL  string
	clientID     string
	clientSecret string
	client       *http.Client
}

// NewHTTPProvider creates an HTTPProvider. A nil client gets a default with the
// configured provider timeout.
func NewHTTPProvider(cfg Config, client *http.Client) *HTTPProvider {
	if client == nil {
		timeout := cfg.ProviderTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPProvider{
		exchangeURL:  cfg.ExchangeURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       client,
	}
}

type exchangeResponse struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
}

func (p *HTTPProvider) Exchange(ctx context.Context, artifact string) (Identity, error) {
	form := url.Values{}
	form.Set("artifact", artifact)
	form.Set("client_id", p.clientID)
	if p.clientSecret != "" {
		form.Set("client_secret", p.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.exchangeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExchangeResponseBytes))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: read body: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Identity{}, rejected(fmt.Sprintf("status %d", resp.StatusCode))
	default:
		return Identity{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var out exchangeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Identity{}, rejected("malformed exchange response")
	}
	return normalizeIdentity(Identity{SubjectID: out.Sub, DisplayName: out.Name})
}
