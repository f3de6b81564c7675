package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceResolver_Memoizes(t *testing.T) {
	r := NewDeviceResolver(ClientInfo{Browser: "Chrome", ScreenWidth: 1920})

	first := r.Resolve()
	second := r.Resolve()

	assert.Same(t, first, second)
	assert.Equal(t, "Chrome", first.Browser)
	assert.Equal(t, 1920, first.ScreenWidth)
	assert.NotEmpty(t, first.OS)
	assert.NotEmpty(t, first.Platform)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"lang with encoding", map[string]string{"LANG": "en_US.UTF-8"}, "en-US"},
		{"lc_all wins", map[string]string{"LC_ALL": "fr_FR", "LANG": "en_US"}, "fr-FR"},
		{"modifier", map[string]string{"LANG": "de_DE@euro"}, "de-DE"},
		{"posix skipped", map[string]string{"LC_ALL": "C", "LANG": "ja_JP.UTF-8"}, "ja-JP"},
		{"unset", map[string]string{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectLanguage(func(k string) string { return tt.env[k] })
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectTimezone_FromTZ(t *testing.T) {
	got := detectTimezone(func(k string) string {
		if k == "TZ" {
			return ":Europe/Paris"
		}
		return ""
	})
	assert.Equal(t, "Europe/Paris", got)
}

func TestLocationResolver_SingleLookup(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7","city":"Paris","country_name":"France","latitude":48.85,"longitude":2.35}`))
	}))
	defer srv.Close()

	r := NewLocationResolver(WithLocationURL(srv.URL))
	assert.Nil(t, r.Current())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Start(ctx)
	r.Start(ctx)
	require.NoError(t, r.Wait(ctx))

	loc := r.Current()
	require.NotNil(t, loc)
	assert.Equal(t, "Paris", loc.City)
	assert.Equal(t, "France", loc.Country)
	assert.Equal(t, "203.0.113.7", loc.IP)
	require.NotNil(t, loc.Latitude)
	assert.Equal(t, 48.85, *loc.Latitude)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLocationResolver_FailureIsCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewLocationResolver(WithLocationURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Start(ctx)
	require.NoError(t, r.Wait(ctx))
	r.Start(ctx)

	assert.Nil(t, r.Current())
	assert.Equal(t, int32(1), hits.Load())
}

func TestLocationResolver_RefusedLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":true,"reason":"RateLimited"}`))
	}))
	defer srv.Close()

	r := NewLocationResolver(WithLocationURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Start(ctx)
	require.NoError(t, r.Wait(ctx))

	assert.Nil(t, r.Current())
}

func TestTracker_UsesCachedLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"city":"Rome","country_name":"Italy"}`))
	}))
	defer srv.Close()

	loc := NewLocationResolver(WithLocationURL(srv.URL))
	tr := New(newMockSender(), WithLocationResolver(loc))

	tr.Track("page_view", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	loc.Start(ctx)
	require.NoError(t, loc.Wait(ctx))

	tr.Track("page_view", nil)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Nil(t, tr.queue[0].Location)
	require.NotNil(t, tr.queue[1].Location)
	assert.Equal(t, "Rome", tr.queue[1].Location.City)
}
