package content

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/ignite/broadcast/internal/domain"
)

const (
	openPath        = "/api/track/open/"
	clickPath       = "/api/track/click/"
	unsubscribePath = "/unsubscribe/"
)

var (
	mergeTagRe  = regexp.MustCompile(`\{\{([^{}]+)\}\}`)
	anchorRe    = regexp.MustCompile(`(?i)<a\s+([^>]*\s+)?href=["']([^"']+)["']([^>]*)>`)
	bodyCloseRe = regexp.MustCompile(`(?i)</body>`)
)

// Processor renders per-recipient email bodies. BaseURL is the public
// origin of the tracking endpoints, without a trailing slash.
type Processor struct {
	BaseURL string
}

// NewProcessor trims a trailing slash from baseURL.
func NewProcessor(baseURL string) *Processor {
	return &Processor{BaseURL: strings.TrimRight(baseURL, "/")}
}

// Render applies merge tags, the open pixel, click tracking and the
// unsubscribe footer, in that order. Tracking runs after the merge so
// injected URLs are never read as template text.
func (p *Processor) Render(template string, c domain.Contact, sendID, unsubscribeToken string) string {
	html := p.Merge(template, c)
	html = p.InjectOpenPixel(html, sendID)
	html = p.InjectClickTracking(html, sendID)
	return p.InjectUnsubscribe(html, unsubscribeToken)
}

// Merge replaces {{email}}, {{firstName}}, {{lastName}}, {{fullName}} and
// one tag per custom field key. Tags match case-insensitively; unknown tags
// are left as written.
func (p *Processor) Merge(text string, c domain.Contact) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	values := mergeValues(c)
	return mergeTagRe.ReplaceAllStringFunc(text, func(tag string) string {
		name := strings.ToLower(tag[2 : len(tag)-2])
		if v, ok := values[name]; ok {
			return v
		}
		return tag
	})
}

func mergeValues(c domain.Contact) map[string]string {
	values := make(map[string]string, len(c.Fields)+4)

	// Sorted so two keys differing only by case resolve the same way every time.
	keys := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lk := strings.ToLower(k)
		if _, taken := values[lk]; !taken {
			values[lk] = fieldString(c.Fields[k])
		}
	}

	// Built-in tags win over custom fields of the same name.
	values["email"] = c.Email
	values["firstname"] = c.FirstName
	values["lastname"] = c.LastName
	values["fullname"] = FullName(c)
	return values
}

// FullName is "first last" trimmed, or the email when both are empty.
func FullName(c domain.Contact) string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		return c.Email
	}
	return name
}

func fieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// InjectOpenPixel inserts an invisible 1x1 image before the closing body
// tag, or appends it when there is none.
func (p *Processor) InjectOpenPixel(html, sendID string) string {
	pixel := fmt.Sprintf(`<img src="%s%s%s" width="1" height="1" style="display:none;" alt="" />`,
		p.BaseURL, openPath, sendID)
	return insertBeforeBodyClose(html, pixel)
}

// InjectClickTracking points every absolute http(s) anchor at the click
// redirect. Fragments, relative paths, other schemes and already-tracked
// links are left alone since the redirect only follows http(s) targets.
func (p *Processor) InjectClickTracking(html, sendID string) string {
	return anchorRe.ReplaceAllStringFunc(html, func(match string) string {
		parts := anchorRe.FindStringSubmatch(match)
		if len(parts) < 4 {
			return match
		}
		before, href, after := parts[1], parts[2], parts[3]
		if !trackable(href) || strings.Contains(href, clickPath) {
			return match
		}
		return fmt.Sprintf(`<a %shref="%s"%s>`, before, p.ClickURL(sendID, href), after)
	})
}

func trackable(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ClickURL is the redirect URL that records a click on target.
func (p *Processor) ClickURL(sendID, target string) string {
	return p.BaseURL + clickPath + sendID + "?url=" + url.QueryEscape(target)
}

// UnsubscribeURL is the public unsubscribe page for token.
func (p *Processor) UnsubscribeURL(token string) string {
	return p.BaseURL + unsubscribePath + token
}

// InjectUnsubscribe adds a visible unsubscribe footer before the closing
// body tag, or appends it.
func (p *Processor) InjectUnsubscribe(html, token string) string {
	footer := fmt.Sprintf(`<p style="font-size:12px;color:#999;text-align:center;margin-top:20px;"><a href="%s" style="color:#999;">Unsubscribe</a></p>`,
		p.UnsubscribeURL(token))
	return insertBeforeBodyClose(html, footer)
}

func insertBeforeBodyClose(html, fragment string) string {
	loc := bodyCloseRe.FindStringIndex(html)
	if loc == nil {
		return html + fragment
	}
	return html[:loc[0]] + fragment + html[loc[0]:]
}
