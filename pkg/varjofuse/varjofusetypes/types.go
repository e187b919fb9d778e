// Types shared by the control API and its client
package varjofusetypes

import (
	"github.com/function61/varjo/pkg/varjoalias"
	"github.com/function61/varjo/pkg/varjoblock"
)

type BlockRequest struct {
	Path  string `json:"path"`
	Owner string `json:"owner"`
}

type PurgeRequest struct {
	Owner string `json:"owner"`
}

type PurgeResponse struct {
	Removed int `json:"removed"`
}

type Stats struct {
	Alias  varjoalias.Stats `json:"alias"`
	Blocks varjoblock.Stats `json:"blocks"`
	Idle   int              `json:"idle"` // nodes waiting for the reaper
}

type RestClientUrlBuilder struct {
	baseUrl string
}

func NewRestClientUrlBuilder(baseUrl string) *RestClientUrlBuilder {
	return &RestClientUrlBuilder{baseUrl}
}

func (u *RestClientUrlBuilder) Blocks() string {
	return u.baseUrl + "/api/blocks"
}

func (u *RestClientUrlBuilder) BlocksRemove() string {
	return u.baseUrl + "/api/blocks/remove"
}

func (u *RestClientUrlBuilder) BlocksPurge() string {
	return u.baseUrl + "/api/blocks/purge"
}

func (u *RestClientUrlBuilder) Stats() string {
	return u.baseUrl + "/api/stats"
}

func (u *RestClientUrlBuilder) Logs() string {
	return u.baseUrl + "/api/logs"
}

func (u *RestClientUrlBuilder) Metrics() string {
	return u.baseUrl + "/metrics"
}
