package security

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// NewProviderClient はIdPへのトークン交換・プロフィール取得に使うHTTPクライアントを生成する。
// safeurlにより、https:443以外への接続と、DNS解決後にプライベートIP・ループバック・
// リンクローカル・メタデータIPとなる宛先への接続はブロックされる。
func NewProviderClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}
