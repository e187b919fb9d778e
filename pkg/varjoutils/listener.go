// Small helpers shared by the server and its clients
package varjoutils

import (
	"context"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/function61/gokit/fileexists"
	"github.com/function61/gokit/logex"
)

const domainSocketPrefix = "domainsocket://"

// "domainsocket:///run/varjo.sock" listens on a Unix socket, anything else is a TCP address
func CreateTCPOrDomainSocketListener(addr string, logl *logex.Leveled) (net.Listener, error) {
	if domainSocketPath := ParseDomainSocketPath(addr); domainSocketPath != "" {
		return createDomainSocketListener(domainSocketPath, logl)
	}

	return net.Listen("tcp", addr)
}

func createDomainSocketListener(domainSocketPath string, logl *logex.Leveled) (net.Listener, error) {
	exists, err := fileexists.Exists(domainSocketPath)
	if err != nil {
		return nil, err
	}

	// left over from a previous run that didn't shut down cleanly
	if exists {
		logl.Info.Printf("removing previous socket %s", domainSocketPath)

		if err := os.Remove(domainSocketPath); err != nil {
			return nil, err
		}
	}

	return net.Listen("unix", domainSocketPath)
}

func ParseDomainSocketPath(addr string) string {
	if strings.HasPrefix(addr, domainSocketPrefix) {
		return addr[len(domainSocketPrefix):]
	}

	return ""
}

// resolves a control address (as given to CreateTCPOrDomainSocketListener()) into a base
// URL and a HTTP client that can reach it
func HTTPClientFor(addr string) (string, *http.Client) {
	domainSocketPath := ParseDomainSocketPath(addr)
	if domainSocketPath == "" {
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}

		if !strings.Contains(addr, "://") {
			addr = "http://" + addr
		}

		return strings.TrimSuffix(addr, "/"), http.DefaultClient
	}

	dialer := &net.Dialer{}

	return "http://localhost", &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _ string, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", domainSocketPath)
			},
		},
	}
}
