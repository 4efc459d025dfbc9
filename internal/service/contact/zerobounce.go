package contact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/pkg/httpretry"
)

const zeroBounceURL = "https://api.zerobounce.net/v2/validate"

// ZeroBounce validates addresses through the ZeroBounce v2 API.
type ZeroBounce struct {
	client  httpretry.HTTPDoer
	apiKey  string
	baseURL string
	now     func() time.Time
}

// NewZeroBounce calls baseURL, or the public endpoint when empty. client is
// normally an *httpretry.RetryClient.
func NewZeroBounce(client httpretry.HTTPDoer, apiKey, baseURL string) *ZeroBounce {
	if baseURL == "" {
		baseURL = zeroBounceURL
	}
	return &ZeroBounce{client: client, apiKey: apiKey, baseURL: baseURL, now: time.Now}
}

type zeroBounceResponse struct {
	Address      string  `json:"address"`
	Status       string  `json:"status"`
	SubStatus    string  `json:"sub_status"`
	FreeEmail    bool    `json:"free_email"`
	DidYouMean   *string `json:"did_you_mean"`
	Account      string  `json:"account"`
	Domain       string  `json:"domain"`
	SMTPProvider string  `json:"smtp_provider"`
	MXFound      string  `json:"mx_found"`
	MXRecord     string  `json:"mx_record"`
	ProcessedAt  string  `json:"processed_at"`
	Error        string  `json:"error"`
}

func (z *ZeroBounce) Validate(ctx context.Context, email string) (*Validation, error) {
	q := url.Values{"api_key": {z.apiKey}, "email": {email}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, z.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := z.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zerobounce: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return nil, fmt.Errorf("zerobounce: status %d", resp.StatusCode)
	}

	var body zeroBounceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("zerobounce: decode: %w", err)
	}
	// Key and credit problems come back as 200 with an error field.
	if body.Error != "" {
		return nil, fmt.Errorf("zerobounce: %s", body.Error)
	}

	return &Validation{
		Status: mapZeroBounceStatus(body.Status),
		Score:  zeroBounceScore(body.Status, body.SubStatus),
		Metadata: map[string]any{
			"address":       body.Address,
			"status":        body.Status,
			"sub_status":    body.SubStatus,
			"free_email":    body.FreeEmail,
			"did_you_mean":  body.DidYouMean,
			"account":       body.Account,
			"domain":        body.Domain,
			"smtp_provider": body.SMTPProvider,
			"mx_found":      body.MXFound,
			"mx_record":     body.MXRecord,
			"processed_at":  body.ProcessedAt,
		},
		ValidatedAt: z.now(),
	}, nil
}

func mapZeroBounceStatus(s string) domain.ValidationStatus {
	switch strings.ToLower(s) {
	case "valid":
		return domain.ValidationValid
	case "invalid":
		return domain.ValidationInvalid
	case "catch-all", "catchall":
		return domain.ValidationCatchAll
	}
	return domain.ValidationUnknown
}

// zeroBounceScore maps a verdict to 0-100. Disposable and role accounts
// lose 20 points.
func zeroBounceScore(status, subStatus string) int {
	score := 0
	switch strings.ToLower(status) {
	case "valid":
		score = 100
	case "catch-all", "catchall":
		score = 70
	case "unknown":
		score = 50
	}
	sub := strings.ToLower(subStatus)
	if strings.Contains(sub, "disposable") || strings.Contains(sub, "role") {
		score -= 20
	}
	if score < 0 {
		score = 0
	}
	return score
}
