package odoo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
)

func TestRetryPolicyDelayDoublesAndCaps(t *testing.T) {
	p := RetryPolicy{Base: 100 * time.Millisecond, Multiplier: 2, Cap: 300 * time.Millisecond, Jitter: 0}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 300*time.Millisecond, p.Delay(2), "delay(2) would be 400ms uncapped, must clamp to Cap")
}

func TestRetryPolicyAttempts(t *testing.T) {
	p := DefaultRetryPolicy(2)
	assert.Equal(t, 3, p.Attempts())
}

func TestIsRetryableClassification(t *testing.T) {
	assert.True(t, isRetryable(&Error{Kind: KindTransportError}))
	assert.True(t, isRetryable(&Error{Kind: KindTimeout}))
	assert.False(t, isRetryable(&Error{Kind: KindAuthenticationError}))
	assert.False(t, isRetryable(&Error{Kind: KindAccessDenied}))
	assert.False(t, isRetryable(&Error{Kind: KindOdooError}))
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{401, KindAuthenticationError},
		{403, KindAccessDenied},
		{408, KindTimeout},
		{504, KindTimeout},
		{500, KindTransportError},
		{400, KindOdooError},
	}
	for _, c := range cases {
		err := classifyHTTPStatus(c.status, "body")
		assert.Equal(t, c.want, err.Kind, "status %d", c.status)
	}
}

func TestClassifyFaultAuthException(t *testing.T) {
	err := classifyFault("odoo.exceptions.AccessDenied", "nope")
	assert.Equal(t, KindAuthenticationError, err.Kind)
	assert.True(t, errors.Is(err, ErrAuthenticationFailed))
}

func TestClassifyFaultMessageHeuristic(t *testing.T) {
	assert.Equal(t, KindAccessDenied, classifyFault("", "Access Denied for this record").Kind)
	assert.Equal(t, KindAuthenticationError, classifyFault("", "Session expired, please log in again").Kind)
	assert.Equal(t, KindOdooError, classifyFault("", "some other application error").Kind)
}

func TestErrorUnwrapAndSentinel(t *testing.T) {
	err := newError(KindTimeout, 0, "slow", nil)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func modernDescriptor(baseURL string) *config.InstanceDescriptor {
	return &config.InstanceDescriptor{
		Name:     "test",
		BaseURL:  baseURL,
		Database: "db",
		APIKey:   "secret",
	}
}

func TestModernClientSearchReadRoundTrip(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"result":[{"id":1,"name":"Alice"}]}`))
	}))
	defer srv.Close()

	c, err := New(modernDescriptor(srv.URL), nil)
	require.NoError(t, err)

	records, err := c.SearchRead(context.Background(), "res.partner", Domain{}, []string{"name"}, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Alice", records[0]["name"])
	assert.Equal(t, "/json/2/db/res.partner/search_read", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestModernClientPropagatesApplicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":200,"message":"boom","data":{"name":"ValueError"}}}`))
	}))
	defer srv.Close()

	c, err := New(modernDescriptor(srv.URL), nil)
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "res.partner", Domain{}, nil)
	require.Error(t, err)
	var odooErr *Error
	require.ErrorAs(t, err, &odooErr)
	assert.Equal(t, KindOdooError, odooErr.Kind)
}

func TestModernClientRetriesTransportErrorThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
			return
		}
		_, _ = w.Write([]byte(`{"result":5}`))
	}))
	defer srv.Close()

	d := modernDescriptor(srv.URL)
	d.MaxRetries = 1
	c, err := New(d, nil)
	require.NoError(t, err)

	count, err := c.SearchCount(context.Background(), "res.partner", Domain{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	assert.Equal(t, 2, attempts)
}

func TestModernClientCreateEncodesValues(t *testing.T) {
	var decoded map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&decoded)
		_, _ = w.Write([]byte(`{"result":42}`))
	}))
	defer srv.Close()

	c, err := New(modernDescriptor(srv.URL), nil)
	require.NoError(t, err)

	id, err := c.Create(context.Background(), "res.partner", map[string]interface{}{"name": "Bob"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	args := decoded["args"].([]interface{})
	require.Len(t, args, 1)
	assert.Equal(t, "Bob", args[0].(map[string]interface{})["name"])
}
