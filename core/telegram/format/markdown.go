// Package format escapes user supplied text for the bot API parse modes.
package format

import "strings"

var (
	legacy = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)
	v2     = strings.NewReplacer(v2Pairs()...)
)

func v2Pairs() []string {
	const specials = "_*[]()~`>#+-=|{}.!\\"
	pairs := make([]string, 0, 2*len(specials))
	for _, r := range specials {
		pairs = append(pairs, string(r), `\`+string(r))
	}
	return pairs
}

// MD escapes text for the legacy Markdown mode used by operator messages.
func MD(text string) string { return legacy.Replace(text) }

// MDV2 escapes text for MarkdownV2.
func MDV2(text string) string { return v2.Replace(text) }
