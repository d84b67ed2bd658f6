// Package llm provides a client for OpenAI-compatible vision chat models.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lexicon-go/internal/config"
	"lexicon-go/pkg/log"
)

// ErrRefused 表示模型明确拒绝回答（例如触发内容过滤）。
var ErrRefused = errors.New("model refused the request")

// ErrEmptyCompletion 表示模型返回了空内容。
var ErrEmptyCompletion = errors.New("empty completion from model")

// Image 是随请求发送的一张图片。
type Image struct {
	Data     []byte
	MimeType string
}

// DataURL 将图片编码为 data URL。
func (img Image) DataURL() string {
	mime := img.MimeType
	if mime == "" {
		mime = http.DetectContentType(img.Data)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// VisionClient 是“给定图片和提示词，返回自由文本”的模型能力。
type VisionClient interface {
	DescribeImages(ctx context.Context, prompt string, images []Image) (string, error)
}

// APIError 是模型服务返回的非 200 响应。
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vision api returned status %d: %s", e.StatusCode, e.Body)
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient 创建一个 OpenAI 兼容（含 Ollama /v1）的视觉模型客户端。
func NewClient(cfg config.LLMConfig) VisionClient {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout()},
	}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			Refusal          string `json:"refusal"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// DescribeImages 把所有图片和提示词放进同一条 user 消息，返回模型的原始文本。
func (c *openAICompatibleClient) DescribeImages(ctx context.Context, prompt string, images []Image) (string, error) {
	parts := make([]contentPart, 0, len(images)+1)
	parts = append(parts, contentPart{Type: "text", Text: prompt})
	for _, img := range images {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img.DataURL()}})
	}

	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: []message{{Role: "user", Content: parts}},
		Stream:   false,
	}
	if c.cfg.Temperature != 0 {
		t := c.cfg.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.MaxTokens != 0 {
		m := c.cfg.MaxTokens
		reqBody.MaxTokens = &m
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call vision api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	log.Debugf("[VisionClient] model=%s images=%d prompt_tokens=%d completion_tokens=%d elapsed=%s",
		c.cfg.Model, len(images), chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens, time.Since(start))

	if len(chatResp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	choice := chatResp.Choices[0]
	if choice.FinishReason == "content_filter" || choice.Message.Refusal != "" {
		return "", fmt.Errorf("%w: %s", ErrRefused, choice.Message.Refusal)
	}

	content := choice.Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyCompletion
	}
	// 部分推理模型把思考过程放在单独字段里，拼回去交给解析器统一剥离
	if choice.Message.ReasoningContent != "" {
		content = "<think>" + choice.Message.ReasoningContent + "</think>" + content
	}
	return content, nil
}
