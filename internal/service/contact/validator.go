package contact

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"strings"
	"time"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/pkg/logger"
)

// Validation is the outcome of checking one address.
type Validation struct {
	Status      domain.ValidationStatus `json:"status"`
	Score       int                     `json:"score"`
	Metadata    map[string]any          `json:"metadata,omitempty"`
	ValidatedAt time.Time               `json:"validatedAt"`
}

// Validator checks the deliverability of an email address. An error means
// no verdict could be reached, not that the address is bad.
type Validator interface {
	Validate(ctx context.Context, email string) (*Validation, error)
}

// Refresher is implemented by validators that cache; Refresh skips the
// cached verdict.
type Refresher interface {
	Refresh(ctx context.Context, email string) (*Validation, error)
}

// ValidSyntax reports whether email is a bare addr-spec with a dotted
// domain.
func ValidSyntax(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}

func domainOf(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

var disposableDomains = map[string]bool{
	"tempmail.com":      true,
	"10minutemail.com":  true,
	"guerrillamail.com": true,
	"mailinator.com":    true,
	"throwaway.email":   true,
	"yopmail.com":       true,
	"trashmail.com":     true,
}

var freeDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"icloud.com":     true,
	"aol.com":        true,
	"protonmail.com": true,
}

// Resolver is the subset of *net.Resolver the DNS validator needs.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// DNSValidator checks syntax, disposable domains, domain existence and MX
// records. Without an SMTP handshake a mailbox cannot be confirmed, so the best
// verdict it gives is UNKNOWN.
type DNSValidator struct {
	resolver Resolver
	timeout  time.Duration
	now      func() time.Time
}

// NewDNSValidator uses net.DefaultResolver when r is nil.
func NewDNSValidator(r Resolver) *DNSValidator {
	if r == nil {
		r = net.DefaultResolver
	}
	return &DNSValidator{resolver: r, timeout: 5 * time.Second, now: time.Now}
}

func (v *DNSValidator) Validate(ctx context.Context, email string) (*Validation, error) {
	host := domainOf(email)
	meta := map[string]any{
		"domain":       host,
		"syntaxValid":  false,
		"domainExists": false,
		"mxFound":      false,
		"mxRecords":    []string{},
	}
	invalid := func() (*Validation, error) {
		return &Validation{Status: domain.ValidationInvalid, Score: 0, Metadata: meta, ValidatedAt: v.now()}, nil
	}

	if !ValidSyntax(email) {
		return invalid()
	}
	meta["syntaxValid"] = true
	if disposableDomains[host] {
		meta["disposable"] = true
		return invalid()
	}
	meta["disposable"] = false

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if _, err := v.resolver.LookupHost(ctx, host); err != nil {
		if dnsNotFound(err) {
			return invalid()
		}
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	meta["domainExists"] = true
	free := freeDomains[host]
	meta["freeEmail"] = free

	records, err := v.resolver.LookupMX(ctx, host)
	if err != nil && !dnsNotFound(err) {
		return nil, fmt.Errorf("lookup mx %s: %w", host, err)
	}
	if len(records) == 0 {
		return invalid()
	}
	hosts := make([]string, 0, len(records))
	for _, mx := range records {
		hosts = append(hosts, strings.TrimSuffix(mx.Host, "."))
	}
	meta["mxFound"] = true
	meta["mxRecords"] = hosts

	score := 70
	if free {
		score = 80
	}
	return &Validation{Status: domain.ValidationUnknown, Score: score, Metadata: meta, ValidatedAt: v.now()}, nil
}

func dnsNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

// Fallback asks Secondary when Primary cannot reach a verdict.
type Fallback struct {
	Primary   Validator
	Secondary Validator
}

func (f Fallback) Validate(ctx context.Context, email string) (*Validation, error) {
	v, err := f.Primary.Validate(ctx, email)
	if err == nil || f.Secondary == nil || ctx.Err() != nil {
		return v, err
	}
	logger.Warn("primary validator failed, trying fallback", "email", email, "error", err)
	return f.Secondary.Validate(ctx, email)
}
