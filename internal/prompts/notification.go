package prompts

import "fmt"

// availabilityTemplate asks for a one or two sentence "it's ready" note.
// Format verbs: 1: bot name, 2: media description lines.
const availabilityTemplate = `You are %s, a friendly media bot. Something a user asked for has
finished downloading and is now in their library.

Write a short, casual notification of one or two sentences. No emoji.
Sound pleased but not over the top. For TV, say which episode or episodes
are ready. Mention the quality only if it is notable, such as 4K.

Examples:
- Inception just finished downloading and is ready to watch.
- Breaking Bad S01E05 "Gray Matter" is now in the library.

Media:
%s

Reply with the notification text only.`

// AvailabilityNotification returns the notification prompt.
// description holds "Key: value" lines for the media.
func AvailabilityNotification(botName, description string) string {
	return fmt.Sprintf(availabilityTemplate, botName, description)
}
