package ice

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

func TestFetchWrappedConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[{"urls":["turn:turn.example.com"],"username":"u","credential":"c"}]}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, nil, time.Second)
	servers := p.ServersForJoin(context.Background())

	require.Len(t, servers, 2)
	assert.Equal(t, []string{FallbackSTUN}, servers[0].URLs)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "c", servers[1].Credential)
}

func TestFetchBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"urls":["stun:stun.example.com"]}]`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, nil, time.Second)
	servers := p.ServersForJoin(context.Background())

	// The served list already carries a STUN entry, nothing is prepended.
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:stun.example.com"}, servers[0].URLs)
}

func TestConfigFetchedPerJoin(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[{"urls":["stun:stun.example.com"]}]`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, nil, time.Second)
	for i := 0; i < 3; i++ {
		p.ServersForJoin(context.Background())
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestFallsBackToStaticOnEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	static := []Server{{URLs: []string{"turn:static.example.com"}, Username: "u"}}
	p := NewProvider(srv.URL, static, time.Second)
	servers := p.ServersForJoin(context.Background())

	require.Len(t, servers, 2)
	assert.Equal(t, []string{FallbackSTUN}, servers[0].URLs)
	assert.Equal(t, "turn:static.example.com", servers[1].URLs[0])
}

func TestNoEndpointNoStatic(t *testing.T) {
	p := NewProvider("", nil, time.Second)
	servers := p.ServersForJoin(context.Background())

	require.Len(t, servers, 1)
	assert.Equal(t, []string{FallbackSTUN}, servers[0].URLs)
}

func TestEnsureSTUNKeepsExisting(t *testing.T) {
	in := []Server{{URLs: []string{"stun:already.example.com"}}}
	assert.Equal(t, in, EnsureSTUN(in))
}
