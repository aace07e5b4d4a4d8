package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"go-aftershock/types"
)

// Enricher turns a profile and event context into guidance text.
type Enricher interface {
	Enrich(ctx context.Context, req types.EnrichmentRequest) (string, error)
}

// Error is any failed enrichment call: transport failure, a non-2xx status
// or a body that is not JSON.
type Error struct {
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("enrichment failed (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("enrichment failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type alertResponse struct {
	AIMessage *string `json:"ai_message"`
}

// Client calls the multimodal alert endpoint of the AI service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Entry
}

func NewClient(baseURL string, timeout time.Duration, log *logrus.Entry) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Enrich posts the request as multipart form data. A reply without
// ai_message yields NoResponseText and no error.
func (c *Client) Enrich(ctx context.Context, req types.EnrichmentRequest) (string, error) {
	body, contentType, err := encodeMultipart(req)
	if err != nil {
		return "", &Error{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/multimodal_alert", body)
	if err != nil {
		return "", &Error{Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(snippet)))}
	}

	var out alertResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding reply: %w", err)}
	}
	if out.AIMessage == nil {
		c.log.Warn("AI service reply had no ai_message")
		return NoResponseText, nil
	}
	return *out.AIMessage, nil
}

func encodeMultipart(req types.EnrichmentRequest) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	if err := w.WriteField("user_profile", req.ProfileText); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("earthquake_data", req.EventContext); err != nil {
		return nil, "", err
	}
	if len(req.Image) > 0 {
		if err := writeFile(w, "image", "image.jpg", req.Image); err != nil {
			return nil, "", err
		}
	}
	if len(req.Audio) > 0 {
		if err := writeFile(w, "audio", "voice.webm", req.Audio); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, field, filename string, data []byte) error {
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", field, err)
	}
	_, err = part.Write(data)
	return err
}
