// Client for the FUSE server's control API
package varjofuseclient

import (
	"context"
	"net/http"

	"github.com/function61/gokit/ezhttp"
	"github.com/function61/varjo/pkg/varjoblock"
	"github.com/function61/varjo/pkg/varjofuse/varjofusetypes"
	"github.com/function61/varjo/pkg/varjoutils"
)

type Client struct {
	urls       *varjofusetypes.RestClientUrlBuilder
	httpClient *http.Client
}

// addr is the server's control address, "domainsocket://" prefix included if any
func New(addr string) *Client {
	baseUrl, httpClient := varjoutils.HTTPClientFor(addr)

	return &Client{
		urls:       varjofusetypes.NewRestClientUrlBuilder(baseUrl),
		httpClient: httpClient,
	}
}

func (c *Client) Blocks(ctx context.Context) ([]varjoblock.Block, error) {
	blocks := []varjoblock.Block{}
	_, err := ezhttp.Get(
		ctx,
		c.urls.Blocks(),
		ezhttp.RespondsJson(&blocks, false),
		ezhttp.Client(c.httpClient))
	return blocks, err
}

func (c *Client) AddBlock(ctx context.Context, path string, owner string) error {
	_, err := ezhttp.Post(
		ctx,
		c.urls.Blocks(),
		ezhttp.SendJson(&varjofusetypes.BlockRequest{Path: path, Owner: owner}),
		ezhttp.Client(c.httpClient))
	return err
}

func (c *Client) RemoveBlock(ctx context.Context, path string, owner string) error {
	_, err := ezhttp.Post(
		ctx,
		c.urls.BlocksRemove(),
		ezhttp.SendJson(&varjofusetypes.BlockRequest{Path: path, Owner: owner}),
		ezhttp.Client(c.httpClient))
	return err
}

// returns number of blocks removed
func (c *Client) PurgeBlocks(ctx context.Context, owner string) (int, error) {
	res := varjofusetypes.PurgeResponse{}
	_, err := ezhttp.Post(
		ctx,
		c.urls.BlocksPurge(),
		ezhttp.SendJson(&varjofusetypes.PurgeRequest{Owner: owner}),
		ezhttp.RespondsJson(&res, false),
		ezhttp.Client(c.httpClient))
	return res.Removed, err
}

func (c *Client) Stats(ctx context.Context) (*varjofusetypes.Stats, error) {
	stats := &varjofusetypes.Stats{}
	_, err := ezhttp.Get(
		ctx,
		c.urls.Stats(),
		ezhttp.RespondsJson(stats, false),
		ezhttp.Client(c.httpClient))
	return stats, err
}

func (c *Client) Logs(ctx context.Context) ([]string, error) {
	lines := []string{}
	_, err := ezhttp.Get(
		ctx,
		c.urls.Logs(),
		ezhttp.RespondsJson(&lines, false),
		ezhttp.Client(c.httpClient))
	return lines, err
}
