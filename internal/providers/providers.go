// Package providers は外部コラボレーター（トランスクリプト取得、動画長取得、
// サムネイル取得、物体検出、設問生成、Webhook通知）への薄いアダプターを提供します。
// 各アダプターは同期的なリクエスト/レスポンス操作で、共通の上限タイムアウトを持ちます。
package providers

import (
	"net/http"
	"net/url"
	"time"
)

// NewHTTPClient はアダプター共通のHTTPクライアントを作成します。
// proxyURL が空でない場合はそのプロキシを経由します。
func NewHTTPClient(timeout time.Duration, proxyURL string) *http.Client {
	client := &http.Client{Timeout: timeout}
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
		}
	}
	return client
}
