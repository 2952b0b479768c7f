package avalon

import (
	"github.com/bwmarrin/discordgo"
)

// pongResponse answers a Discord verification ping.
func pongResponse() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponsePong,
	}
}

// deferredResponse acknowledges an application command immediately,
// telling Discord a followup is coming. This has to be sent within
// Discord's synchronous response window, before any model call starts.
func deferredResponse() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}
}

// ephemeralResponse builds a channel message response visible only to
// the invoking user.
func ephemeralResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

// followupParams builds webhook params for a normal followup message.
func followupParams(content string) *discordgo.WebhookParams {
	return &discordgo.WebhookParams{Content: content}
}

// ephemeralFollowupParams builds webhook params for a followup message
// visible only to the invoking user.
func ephemeralFollowupParams(content string) *discordgo.WebhookParams {
	return &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}
}

// chunkMessage splits content into ordered segments of at most chunkSize
// runes, covering the input exactly once. Discord rejects messages over
// 2000 characters, so callers pass a limit with some headroom. An empty
// input yields a single placeholder chunk so the user always receives a
// visible reply.
func chunkMessage(content string, chunkSize int) []string {
	if content == "" {
		return []string{discordEmptyResponsePlaceholder}
	}
	runes := []rune(content)
	chunks := make([]string, 0, (len(runes)/chunkSize)+1)
	for len(runes) > 0 {
		end := chunkSize
		if len(runes) < chunkSize {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[:end]))
		runes = runes[end:]
	}
	return chunks
}
