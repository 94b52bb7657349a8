package rendering

import (
	"regexp"
	"strings"
)

var (
	styleBlockPattern  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	scriptBlockPattern = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	tagPattern         = regexp.MustCompile(`(?s)<[^>]+>`)
	whitespacePattern  = regexp.MustCompile(`\s+`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&amp;", "&",
	)
)

// HTMLToText produces the plain-text alternative of an HTML email body.
// Style and script blocks are dropped, tags stripped, the standard entities
// decoded and whitespace collapsed.
func HTMLToText(html string) string {
	text := styleBlockPattern.ReplaceAllString(html, "")
	text = scriptBlockPattern.ReplaceAllString(text, "")
	text = tagPattern.ReplaceAllString(text, " ")
	text = entityReplacer.Replace(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
