package classifier

import (
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const verdictFormat = `Answer with ONLY a JSON object, no markdown and no text around it:
{"confidence": <integer 0-100>, "isAI": <true|false|null>, "explanation": "<specific indicators you observed>", "sources": ["<analysis method>", ...]}`

const (
	textSystemPrompt = `You are an expert at detecting AI-generated writing.
Look for repetitive structure, generic phrasing, uniformly formal tone and a missing personal voice, and weigh them against human indicators such as idiosyncrasies, concrete personal detail and uneven rhythm.
` + verdictFormat

	imageSystemPrompt = `You are an expert at detecting AI-generated images.
Inspect skin and surface textures, lighting and shadow consistency, geometry, hands and text rendering, and compression or upscaling artifacts.
` + verdictFormat

	videoSystemPrompt = `You are an expert at detecting AI-generated video.
Consider physics violations, morphing objects, temporal inconsistencies, flickering detail and implausibly perfect camera work.
` + verdictFormat

	videoURLSystemPrompt = `You are an expert at detecting AI-generated video.
The video itself is not attached. Use what the URL and hosting platform reveal, say plainly that the content was not inspected directly, set "isAI" to null unless the source is conclusive, and give the user concrete things to check manually.
` + verdictFormat

	repairSystemPrompt = `Your previous answer could not be parsed. ` + verdictFormat
)

// buildMessages renders the chat conversation for content. Content must be
// valid.
func buildMessages(c Content) []openai.ChatCompletionMessage {
	switch c.Kind() {
	case "video_url":
		return []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: videoURLSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Assess whether the video at %s is likely AI-generated.", c.VideoURL)},
		}
	case "video":
		return []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: videoSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Assess this uploaded video for AI generation: motion artifacts, temporal anomalies and morphing objects."},
		}
	case "image":
		return []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: imageSystemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: "Assess this image for signs of AI generation."},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: c.Image, Detail: openai.ImageURLDetailHigh}},
			}},
		}
	default:
		return []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: textSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Assess this text for AI generation:\n\n%s", c.Text)},
		}
	}
}

// repairMessages asks the model to restate a malformed answer.
func repairMessages(previous string) []openai.ChatCompletionMessage {
	if len(previous) > 500 {
		previous = previous[:500]
	}
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: repairSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: "Restate your verdict as the JSON object only. Previous answer:\n" + previous},
	}
}
