package enrichment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"go-aftershock/types"
)

const systemPrompt = "You are an emergency assistant for visually impaired people during earthquakes. " +
	"Give short, concrete safety instructions that can be read aloud. Take the user's medical " +
	"information, position and the recent earthquakes into account."

// OpenAIClient produces guidance with a chat completion. Audio is
// transcribed with Whisper first and the image is sent inline.
type OpenAIClient struct {
	client *openai.Client
	model  string
	log    *logrus.Entry
}

func NewOpenAIClient(apiKey, model string, log *logrus.Entry) *OpenAIClient {
	return NewOpenAIClientWithConfig(openai.DefaultConfig(apiKey), model, log)
}

func NewOpenAIClientWithConfig(cfg openai.ClientConfig, model string, log *logrus.Entry) *OpenAIClient {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model, log: log}
}

func (c *OpenAIClient) Enrich(ctx context.Context, req types.EnrichmentRequest) (string, error) {
	var prompt strings.Builder
	prompt.WriteString(req.ProfileText)
	prompt.WriteString("\n")
	prompt.WriteString(req.EventContext)

	if len(req.Audio) > 0 {
		transcript, err := c.transcribe(ctx, req.Audio)
		if err != nil {
			return "", err
		}
		if transcript != "" {
			fmt.Fprintf(&prompt, "\nThe user said: %q\n", transcript)
		}
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.Image) > 0 {
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt.String()},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL(req.Image),
					Detail: openai.ImageURLDetailLow,
				},
			},
		}
	} else {
		user.Content = prompt.String()
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			user,
		},
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		return "", wrapOpenAIError("chat completion", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		c.log.Warn("openai returned an empty completion")
		return NoResponseText, nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) transcribe(ctx context.Context, audio []byte) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "voice.webm",
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", wrapOpenAIError("transcription", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func wrapOpenAIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{StatusCode: apiErr.HTTPStatusCode, Err: fmt.Errorf("openai %s: %w", op, err)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{StatusCode: reqErr.HTTPStatusCode, Err: fmt.Errorf("openai %s: %w", op, err)}
	}
	return &Error{Err: fmt.Errorf("openai %s: %w", op, err)}
}

func dataURL(b []byte) string {
	return "data:" + http.DetectContentType(b) + ";base64," + base64.StdEncoding.EncodeToString(b)
}
