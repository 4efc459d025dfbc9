package contact

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/pkg/httpretry"
)

type fakeResolver struct {
	hosts   map[string]error
	mx      map[string][]*net.MX
	mxErr   error
	lookups int
}

func (r *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	r.lookups++
	if err, ok := r.hosts[host]; ok {
		if err != nil {
			return nil, err
		}
		return []string{"192.0.2.1"}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func (r *fakeResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	if r.mxErr != nil {
		return nil, r.mxErr
	}
	return r.mx[name], nil
}

func newResolver() *fakeResolver {
	return &fakeResolver{
		hosts: map[string]error{"example.com": nil, "gmail.com": nil, "nomx.io": nil},
		mx: map[string][]*net.MX{
			"example.com": {{Host: "mx1.example.com.", Pref: 10}},
			"gmail.com":   {{Host: "gmail-smtp-in.l.google.com.", Pref: 5}},
		},
	}
}

func TestValidSyntax(t *testing.T) {
	for email, want := range map[string]bool{
		"ana@example.com":       true,
		"ana.lee+news@mail.io":  true,
		"ana@localhost":         false,
		"ana":                   false,
		"":                      false,
		"Ana <ana@example.com>": false,
		"ana@@example.com":      false,
	} {
		assert.Equal(t, want, ValidSyntax(email), email)
	}
}

func TestDNSValidator(t *testing.T) {
	tests := []struct {
		name      string
		email     string
		status    domain.ValidationStatus
		score     int
		noLookups bool
	}{
		{name: "bad syntax", email: "not-an-email", status: domain.ValidationInvalid, noLookups: true},
		{name: "disposable", email: "x@mailinator.com", status: domain.ValidationInvalid, noLookups: true},
		{name: "no such domain", email: "x@nowhere.test", status: domain.ValidationInvalid},
		{name: "no mx", email: "x@nomx.io", status: domain.ValidationInvalid},
		{name: "corporate", email: "x@example.com", status: domain.ValidationUnknown, score: 70},
		{name: "free provider", email: "x@gmail.com", status: domain.ValidationUnknown, score: 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver()
			v, err := NewDNSValidator(r).Validate(context.Background(), tt.email)
			require.NoError(t, err)
			assert.Equal(t, tt.status, v.Status)
			assert.Equal(t, tt.score, v.Score)
			assert.False(t, v.ValidatedAt.IsZero())
			if tt.noLookups {
				assert.Zero(t, r.lookups)
			}
		})
	}
}

func TestDNSValidatorMetadata(t *testing.T) {
	v, err := NewDNSValidator(newResolver()).Validate(context.Background(), "x@example.com")
	require.NoError(t, err)
	assert.Equal(t, true, v.Metadata["mxFound"])
	assert.Equal(t, []string{"mx1.example.com"}, v.Metadata["mxRecords"])
	assert.Equal(t, false, v.Metadata["freeEmail"])
}

func TestDNSValidatorResolverFailureIsAnError(t *testing.T) {
	r := newResolver()
	r.hosts["flaky.io"] = &net.DNSError{Err: "server misbehaving", Name: "flaky.io", IsTemporary: true}
	_, err := NewDNSValidator(r).Validate(context.Background(), "x@flaky.io")
	assert.Error(t, err, "a lookup that did not answer is no verdict")

	r = newResolver()
	r.mxErr = errors.New("i/o timeout")
	_, err = NewDNSValidator(r).Validate(context.Background(), "x@example.com")
	assert.Error(t, err)
}

type stubValidator struct {
	v     *Validation
	err   error
	calls int
}

func (s *stubValidator) Validate(context.Context, string) (*Validation, error) {
	s.calls++
	return s.v, s.err
}

func TestFallback(t *testing.T) {
	ok := &Validation{Status: domain.ValidationValid, Score: 100}

	primary := &stubValidator{err: errors.New("dns down")}
	secondary := &stubValidator{v: ok}
	v, err := Fallback{Primary: primary, Secondary: secondary}.Validate(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationValid, v.Status)
	assert.Equal(t, 1, secondary.calls)

	primary = &stubValidator{v: &Validation{Status: domain.ValidationInvalid}}
	secondary = &stubValidator{v: ok}
	v, err = Fallback{Primary: primary, Secondary: secondary}.Validate(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationInvalid, v.Status, "a verdict from the primary is final")
	assert.Zero(t, secondary.calls)

	_, err = Fallback{Primary: &stubValidator{err: errors.New("dns down")}}.Validate(context.Background(), "a@example.com")
	assert.Error(t, err)
}

func TestZeroBounce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.URL.Query().Get("api_key"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("email") {
		case "ok@example.com":
			w.Write([]byte(`{"address":"ok@example.com","status":"valid","sub_status":"","free_email":false,"mx_found":"true"}`))
		case "info@example.com":
			w.Write([]byte(`{"address":"info@example.com","status":"valid","sub_status":"role_based"}`))
		case "any@catch.io":
			w.Write([]byte(`{"address":"any@catch.io","status":"catch-all"}`))
		case "gone@example.com":
			w.Write([]byte(`{"address":"gone@example.com","status":"invalid","sub_status":"mailbox_not_found"}`))
		case "nocredit@example.com":
			w.Write([]byte(`{"error":"Invalid API Key or your account ran out of credits"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	zb := NewZeroBounce(srv.Client(), "key-1", srv.URL)
	ctx := context.Background()

	tests := []struct {
		email  string
		status domain.ValidationStatus
		score  int
	}{
		{"ok@example.com", domain.ValidationValid, 100},
		{"info@example.com", domain.ValidationValid, 80},
		{"any@catch.io", domain.ValidationCatchAll, 70},
		{"gone@example.com", domain.ValidationInvalid, 0},
	}
	for _, tt := range tests {
		v, err := zb.Validate(ctx, tt.email)
		require.NoError(t, err, tt.email)
		assert.Equal(t, tt.status, v.Status, tt.email)
		assert.Equal(t, tt.score, v.Score, tt.email)
	}

	_, err := zb.Validate(ctx, "nocredit@example.com")
	assert.ErrorContains(t, err, "ran out of credits")
	_, err = zb.Validate(ctx, "other@example.com")
	assert.ErrorContains(t, err, "status 400")
}

func TestZeroBounceRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"unknown"}`))
	}))
	defer srv.Close()

	client := httpretry.NewRetryClient(srv.Client(), 2, httpretry.WithBackoff(time.Millisecond, 5*time.Millisecond))
	v, err := NewZeroBounce(client, "k", srv.URL).Validate(context.Background(), "x@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationUnknown, v.Status)
	assert.Equal(t, 50, v.Score)
	assert.Equal(t, 2, calls)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCacheServesRepeatLookups(t *testing.T) {
	mr, client := setupRedis(t)
	next := &stubValidator{v: &Validation{Status: domain.ValidationValid, Score: 100}}
	c := NewCache(next, client, time.Hour)
	ctx := context.Background()

	v, err := c.Validate(ctx, "Ana@Example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationValid, v.Status)

	v, err = c.Validate(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, 100, v.Score)
	assert.Equal(t, 1, next.calls, "second lookup answered from redis")
	assert.True(t, mr.Exists("contact:validation:ana@example.com"))
	assert.Equal(t, time.Hour, mr.TTL("contact:validation:ana@example.com"))

	next.v = &Validation{Status: domain.ValidationInvalid}
	v, err = c.Refresh(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationInvalid, v.Status)
	assert.Equal(t, 2, next.calls)

	v, err = c.Validate(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationInvalid, v.Status, "refresh overwrote the cached verdict")
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	mr, client := setupRedis(t)
	next := &stubValidator{err: errors.New("timeout")}
	c := NewCache(next, client, 0)

	_, err := c.Validate(context.Background(), "ana@example.com")
	assert.Error(t, err)
	assert.False(t, mr.Exists("contact:validation:ana@example.com"))

	_, err = c.Validate(context.Background(), "ana@example.com")
	assert.Error(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCacheSurvivesRedisOutage(t *testing.T) {
	mr, client := setupRedis(t)
	next := &stubValidator{v: &Validation{Status: domain.ValidationUnknown, Score: 70}}
	c := NewCache(next, client, time.Hour)
	mr.Close()

	v, err := c.Validate(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationUnknown, v.Status)
}
