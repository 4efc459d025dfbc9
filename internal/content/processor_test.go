package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/broadcast/internal/domain"
)

func TestMerge(t *testing.T) {
	p := NewProcessor("https://mail.example.com")

	tests := []struct {
		name    string
		text    string
		contact domain.Contact
		want    string
	}{
		{
			name:    "first name and custom field",
			text:    "Hi {{firstName}}, {{custom}}",
			contact: domain.Contact{FirstName: "Ana", Fields: map[string]any{"custom": "welcome"}},
			want:    "Hi Ana, welcome",
		},
		{
			name:    "full name falls back to email",
			text:    "Dear {{fullName}}",
			contact: domain.Contact{Email: "ana@example.com"},
			want:    "Dear ana@example.com",
		},
		{
			name:    "full name trims a missing last name",
			text:    "{{FULLNAME}}!",
			contact: domain.Contact{Email: "ana@example.com", FirstName: "Ana"},
			want:    "Ana!",
		},
		{
			name:    "case insensitive built-ins",
			text:    "{{EMAIL}} {{FirstName}} {{lastname}}",
			contact: domain.Contact{Email: "a@b.co", FirstName: "Ana", LastName: "Lima"},
			want:    "a@b.co Ana Lima",
		},
		{
			name:    "nil and numeric fields",
			text:    "[{{city}}] [{{score}}] [{{vip}}]",
			contact: domain.Contact{Fields: map[string]any{"city": nil, "score": float64(42), "vip": true}},
			want:    "[] [42] [true]",
		},
		{
			name:    "unknown tags are untouched",
			text:    "Hello {{nickname}} {{ firstName }}",
			contact: domain.Contact{FirstName: "Ana"},
			want:    "Hello {{nickname}} {{ firstName }}",
		},
		{
			name:    "built-in wins over custom field of the same name",
			text:    "{{email}}",
			contact: domain.Contact{Email: "real@example.com", Fields: map[string]any{"Email": "fake"}},
			want:    "real@example.com",
		},
		{
			name:    "field keys with regex characters",
			text:    "{{a.b}} {{axb}}",
			contact: domain.Contact{Fields: map[string]any{"a.b": "dot"}},
			want:    "dot {{axb}}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Merge(tt.text, tt.contact))
		})
	}
}

func TestMergeDoesNotRescanSubstitutedValues(t *testing.T) {
	p := NewProcessor("")
	c := domain.Contact{FirstName: "{{lastName}}", LastName: "Lima"}
	assert.Equal(t, "{{lastName}} Lima", p.Merge("{{firstName}} {{lastName}}", c))
}

func TestInjectOpenPixel(t *testing.T) {
	p := NewProcessor("https://mail.example.com/")
	pixel := `<img src="https://mail.example.com/api/track/open/s1" width="1" height="1" style="display:none;" alt="" />`

	assert.Equal(t, "<html><body>hi"+pixel+"</body></html>",
		p.InjectOpenPixel("<html><body>hi</body></html>", "s1"))
	assert.Equal(t, "<BODY>hi"+pixel+"</BODY>",
		p.InjectOpenPixel("<BODY>hi</BODY>", "s1"))
	assert.Equal(t, "plain text"+pixel,
		p.InjectOpenPixel("plain text", "s1"))
}

func TestInjectClickTracking(t *testing.T) {
	p := NewProcessor("https://mail.example.com")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "rewrites http link and keeps attributes",
			in:   `<a class="btn" href="https://shop.example.com/a?b=1&c=2" target="_blank">Go</a>`,
			want: `<a class="btn" href="https://mail.example.com/api/track/click/s1?url=https%3A%2F%2Fshop.example.com%2Fa%3Fb%3D1%26c%3D2" target="_blank">Go</a>`,
		},
		{
			name: "single quotes",
			in:   `<A HREF='https://x.io'>x</A>`,
			want: `<a href="https://mail.example.com/api/track/click/s1?url=https%3A%2F%2Fx.io">x</A>`,
		},
		{
			name: "mailto untouched",
			in:   `<a href="mailto:hi@example.com">mail</a>`,
			want: `<a href="mailto:hi@example.com">mail</a>`,
		},
		{
			name: "tel untouched",
			in:   `<a href="tel:+15551234">call</a>`,
			want: `<a href="tel:+15551234">call</a>`,
		},
		{
			name: "already tracked untouched",
			in:   `<a href="https://mail.example.com/api/track/click/s0?url=x">t</a>`,
			want: `<a href="https://mail.example.com/api/track/click/s0?url=x">t</a>`,
		},
		{
			name: "fragment untouched",
			in:   `<a href="#top">back to top</a>`,
			want: `<a href="#top">back to top</a>`,
		},
		{
			name: "relative path untouched",
			in:   `<a href="/pricing">pricing</a>`,
			want: `<a href="/pricing">pricing</a>`,
		},
		{
			name: "scheme relative untouched",
			in:   `<a href="//cdn.example.com/x">x</a>`,
			want: `<a href="//cdn.example.com/x">x</a>`,
		},
		{
			name: "javascript untouched",
			in:   `<a href="javascript:void(0)">noop</a>`,
			want: `<a href="javascript:void(0)">noop</a>`,
		},
		{
			name: "uppercase scheme rewritten",
			in:   `<a href="HTTP://x.io">x</a>`,
			want: `<a href="https://mail.example.com/api/track/click/s1?url=HTTP%3A%2F%2Fx.io">x</a>`,
		},
		{
			name: "anchor without href untouched",
			in:   `<a name="top">top</a>`,
			want: `<a name="top">top</a>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.InjectClickTracking(tt.in, "s1"))
		})
	}
}

func TestInjectClickTrackingIsStable(t *testing.T) {
	p := NewProcessor("https://mail.example.com")
	once := p.InjectClickTracking(`<a href="https://x.io">x</a>`, "s1")
	assert.Equal(t, once, p.InjectClickTracking(once, "s1"))
}

func TestInjectUnsubscribe(t *testing.T) {
	p := NewProcessor("https://mail.example.com")
	out := p.InjectUnsubscribe("<body>hi</body>", "c1-abc")

	assert.True(t, strings.HasSuffix(out, "</p></body>"))
	assert.Contains(t, out, `href="https://mail.example.com/unsubscribe/c1-abc"`)
	assert.Contains(t, out, ">Unsubscribe</a>")

	assert.True(t, strings.HasPrefix(p.InjectUnsubscribe("no body", "t"), "no body<p "))
}

func TestRender(t *testing.T) {
	p := NewProcessor("https://mail.example.com")
	c := domain.Contact{ID: "c1", Email: "ana@example.com", FirstName: "Ana"}
	tpl := `<html><body><p>Hi {{firstName}}</p><a href="https://x.io/{{email}}">x</a></body></html>`

	out := p.Render(tpl, c, "s1", "c1-tok")

	assert.Contains(t, out, "<p>Hi Ana</p>")
	assert.Contains(t, out, "url=https%3A%2F%2Fx.io%2Fana%40example.com")
	assert.Contains(t, out, "/api/track/open/s1")
	assert.Contains(t, out, "/unsubscribe/c1-tok")
	// The unsubscribe link is injected after click tracking and stays direct.
	assert.NotContains(t, out, "url=https%3A%2F%2Fmail.example.com%2Funsubscribe")

	pixel := strings.Index(out, "/api/track/open/")
	footer := strings.Index(out, "/unsubscribe/")
	body := strings.Index(out, "</body>")
	assert.Less(t, pixel, footer)
	assert.Less(t, footer, body)

	assert.Equal(t, out, p.Render(tpl, c, "s1", "c1-tok"), "render must be deterministic")
}
