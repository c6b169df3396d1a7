package presenter

import "strings"

const (
	seeMorePadding = 500
	zeroWidthSpace = "\u200b"
)

// Fold hides body behind KakaoTalk's "see more" button by padding the
// preview with zero-width spaces. A header repeated on the first line of
// body is dropped so it only shows once.
func Fold(body, header string) string {
	if strings.TrimSpace(body) == "" {
		return body
	}
	header = strings.TrimSpace(header)
	body = stripLeadingHeader(body, header)

	var b strings.Builder
	b.Grow(len(body) + len(header) + seeMorePadding*len(zeroWidthSpace) + 1)
	b.WriteString(header)
	b.WriteString(strings.Repeat(zeroWidthSpace, seeMorePadding))
	if !strings.HasPrefix(body, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(body)
	return b.String()
}

func stripLeadingHeader(text, header string) string {
	if header == "" {
		return text
	}
	for _, c := range []string{header + "\r\n\r\n", header + "\n\n", header + "\r\n", header + "\n", header} {
		if strings.HasPrefix(text, c) {
			return strings.TrimPrefix(text, c)
		}
	}
	return text
}
