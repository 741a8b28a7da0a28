package agent

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"receiptly/model"
)

// MaxTitleRunes bounds conversation titles derived from the first message.
const MaxTitleRunes = 80

const defaultTitle = "New conversation"

const basePrompt = `You are the Receiptly assistant. You help the user keep track of purchases, receipts, warranties, return windows and claims.

Use the tools to look up or change the user's records. Search before you refer to a purchase and never invent ids.
When the user uploads files, they are listed under [Uploaded files]. Pass a file's storagePath to attach_document to link it to a purchase or case.
If a tool reports an error, fix the input and retry, or explain the problem to the user.
Keep answers short and concrete.`

// SystemPrompt builds the system prompt for a turn started from page.
func SystemPrompt(page model.PageContext, now time.Time) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	fmt.Fprintf(&b, "\n\nToday is %s (%s).", now.Format("2006-01-02"), now.Weekday())

	if p := strings.TrimSpace(page.Page); p != "" {
		fmt.Fprintf(&b, "\nThe user opened the chat from the %q page", p)
		if page.ItemType != "" && page.ItemID != "" {
			fmt.Fprintf(&b, " while viewing %s %s", page.ItemType, page.ItemID)
		}
		b.WriteString(".")
	}
	return b.String()
}

// Title derives a conversation title from the first message, falling back
// to the first attachment name.
func Title(message string, attachments []model.Attachment) string {
	title := strings.Join(strings.Fields(message), " ")
	if title == "" && len(attachments) > 0 {
		title = strings.TrimSpace(attachments[0].Name)
	}
	if title == "" {
		return defaultTitle
	}
	if utf8.RuneCountInString(title) <= MaxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:MaxTitleRunes]))
}
