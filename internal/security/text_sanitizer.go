// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses はエンティティの多重エンコードを剥がす最大回数。
const maxSanitizePasses = 8

// TextSanitizer はユーザーが送信したプレーンテキスト属性からHTMLを除去する。
// 出力はテンプレート側で改めてエスケープされる前提のため、
// bluemondayが付与したエンティティはデコードして返す。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はすべてのタグを許可しないポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はタグを除去し、前後の空白を取り除いた文字列を返す。
// デコードでタグが現れた場合は出力が変化しなくなるまで繰り返すため、
// SanitizeText(SanitizeText(x)) == SanitizeText(x) が成り立つ。
func (s *TextSanitizer) SanitizeText(raw string) string {
	out := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := s.pass(out)
		if next == out {
			return out
		}
		out = next
	}
	// 収束しない入力はテキストとして扱わない
	if s.pass(out) != out {
		return ""
	}
	return out
}

func (s *TextSanitizer) pass(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
