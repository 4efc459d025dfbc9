package tracking

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ignite/broadcast/internal/pkg/httpretry"
)

// SubscriptionConfirmer visits the SubscribeURL of an SNS
// SubscriptionConfirmation so the SES feedback topic starts delivering.
// Only https URLs on sns.*.amazonaws.com are followed.
type SubscriptionConfirmer struct {
	client    *httpretry.RetryClient
	allowHost func(host string) bool
}

func NewSubscriptionConfirmer(client *httpretry.RetryClient) *SubscriptionConfirmer {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &SubscriptionConfirmer{client: client, allowHost: isSNSHost}
}

// Confirm fetches subscribeURL after checking it points at SNS.
func (c *SubscriptionConfirmer) Confirm(ctx context.Context, subscribeURL string) error {
	u, err := url.Parse(subscribeURL)
	if err != nil {
		return fmt.Errorf("parse subscribe url: %w", err)
	}
	if u.Scheme != "https" || !c.allowHost(u.Hostname()) {
		return fmt.Errorf("refusing subscribe url on host %q", u.Host)
	}
	return c.client.Get(ctx, u.String())
}

func isSNSHost(host string) bool {
	host = strings.ToLower(host)
	return strings.HasPrefix(host, "sns.") &&
		(strings.HasSuffix(host, ".amazonaws.com") || strings.HasSuffix(host, ".amazonaws.com.cn"))
}
