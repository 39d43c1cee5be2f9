package chat

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxMessageRunes はサニタイズ後のメッセージ本文の最大文字数。
const maxMessageRunes = 1000

// Sanitizer はチャットメッセージのHTMLをサニタイズする。
// bluemondayの許可リストポリシーで、装飾タグとリンクのみを通過させる。
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: strong, em, code, br, a
//   - aタグ: httpsのhrefのみ、target="_blank"とrel="noopener noreferrer"を自動付与
//   - script, style, iframe, img および全てのon*属性は除去
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("strong", "em", "code", "br")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &Sanitizer{policy: p}
}

// Sanitize はメッセージ本文を安全なHTMLにして返す。
// 空白のみ、またはサニタイズ後に空になるメッセージはokがfalseになる。
// 上限を超える本文は切り詰める。
func (s *Sanitizer) Sanitize(text string) (string, bool) {
	clean := strings.TrimSpace(s.policy.Sanitize(text))
	if clean == "" {
		return "", false
	}
	if r := []rune(clean); len(r) > maxMessageRunes {
		clean = string(r[:maxMessageRunes])
	}
	return clean, true
}
