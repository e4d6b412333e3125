package mailbox

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/onebox/internal/model"
)

// Normalize transforms raw protocol data into the canonical message
// record. It returns nil when the message has no resolvable sender or no
// extractable body; callers skip such messages rather than failing the
// batch. Repeated normalization of the same raw input yields the same id.
func Normalize(accountID, folder string, raw RawMessage) *model.Message {
	if raw.Envelope == nil {
		return nil
	}
	env := raw.Envelope

	var from string
	if len(env.From) > 0 {
		from = formatAddress(env.From[0])
	}
	if from == "" {
		return nil
	}

	to := make([]string, 0, len(env.To))
	for _, a := range env.To {
		if addr := formatAddress(a); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		// Keep the record addressable even when the header is absent.
		to = []string{accountID}
	}

	body := extractBody(raw.Body)
	if body == "" {
		return nil
	}

	date := env.Date
	if date.IsZero() {
		date = raw.InternalDate
	}
	if date.IsZero() {
		date = time.Now()
	}

	flags := make([]string, 0, len(raw.Flags))
	for _, f := range raw.Flags {
		flags = append(flags, string(f))
	}

	return &model.Message{
		ID:        model.MessageID(accountID, uint32(raw.UID)),
		AccountID: accountID,
		Folder:    folder,
		Subject:   env.Subject,
		Body:      body,
		From:      from,
		To:        to,
		Date:      date,
		Category:  model.CategoryUncategorized,
		UID:       uint32(raw.UID),
		Flags:     flags,
		Size:      raw.Size,
	}
}

// formatAddress renders a structured address as a bare email, falling
// back to the display name when the address itself is missing.
func formatAddress(a imap.Address) string {
	if addr := a.Addr(); addr != "" {
		return addr
	}
	return strings.TrimSpace(strings.Trim(a.Name, "<>"))
}

// extractBody parses the raw RFC 2822 message and returns the cleaned
// plain-text body: text/plain preferred, stripped text/html otherwise.
func extractBody(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	textBody, htmlBody := parseMIMEBody(raw)

	body := textBody
	if body == "" && htmlBody != "" {
		body = stripHTML(htmlBody)
	}

	return collapseWhitespace(body)
}

// parseMIMEBody walks the MIME structure with go-message and collects
// the inline text/plain and text/html parts.
func parseMIMEBody(raw []byte) (textBody, htmlBody string) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not MIME we can walk; treat the payload as plain text.
		return string(raw), ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		content, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			if textBody == "" {
				textBody = string(content)
			}
		case strings.HasPrefix(contentType, "text/html"):
			if htmlBody == "" {
				htmlBody = string(content)
			}
		}
	}

	return textBody, htmlBody
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// entityReplacer decodes the minimal entity set worth handling without a
// full HTML parser.
var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
)

// stripHTML removes markup tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")
	return entityReplacer.Replace(result)
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// collapseWhitespace folds whitespace runs into single spaces and trims
// the result.
func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
