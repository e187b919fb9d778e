package varjoutils

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
)

func TestParseDomainSocketPath(t *testing.T) {
	assert.EqualString(t, ParseDomainSocketPath("domainsocket:///run/varjo.sock"), "/run/varjo.sock")
	assert.EqualString(t, ParseDomainSocketPath("domainsocket:/run/varjo.sock"), "")
	assert.EqualString(t, ParseDomainSocketPath(":8690"), "")
}

func TestHTTPClientFor(t *testing.T) {
	for _, tc := range []struct {
		addr            string
		expectedBaseURL string
	}{
		{":8690", "http://localhost:8690"},
		{"127.0.0.1:8690", "http://127.0.0.1:8690"},
		{"http://varjo.example.com/", "http://varjo.example.com"},
		{"domainsocket:///run/varjo.sock", "http://localhost"},
	} {
		tc := tc // pin
		t.Run(tc.addr, func(t *testing.T) {
			baseURL, _ := HTTPClientFor(tc.addr)
			assert.EqualString(t, baseURL, tc.expectedBaseURL)
		})
	}
}

func TestDomainSocketRoundtrip(t *testing.T) {
	addr := "domainsocket://" + filepath.Join(t.TempDir(), "control.sock")

	// listening again on the same path must work
	first, err := CreateTCPOrDomainSocketListener(addr, logex.Levels(logex.Discard))
	assert.Assert(t, err == nil)
	first.Close()

	listener, err := CreateTCPOrDomainSocketListener(addr, logex.Levels(logex.Discard))
	assert.Assert(t, err == nil)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("pong"))
		}),
	}
	go func() { _ = srv.Serve(listener) }()
	defer srv.Close()

	baseURL, client := HTTPClientFor(addr)

	resp, err := client.Get(baseURL + "/ping")
	assert.Assert(t, err == nil)
	defer resp.Body.Close()

	assert.Assert(t, resp.StatusCode == http.StatusOK)
}
