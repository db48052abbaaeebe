package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider implements Chatter and Embedder against any
// OpenAI-compatible API (OpenAI, Groq, OpenRouter, VLLM, etc.)
type OpenAIProvider struct {
	name           string
	apiKey         string
	apiBase        string
	defaultModel   string
	embeddingModel string
	embeddingDim   int
	client         *http.Client
	retryConfig    RetryConfig
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

// WithEmbeddings returns the provider configured for embedding calls.
func (p *OpenAIProvider) WithEmbeddings(model string, dim int) *OpenAIProvider {
	p.embeddingModel = model
	p.embeddingDim = dim
	return p
}

func (p *OpenAIProvider) Name() string    { return p.name }
func (p *OpenAIProvider) Dimensions() int { return p.embeddingDim }

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": req.Messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.ResponseSchema != nil {
		body["response_format"] = map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   "response",
				"strict": true,
				"schema": req.ResponseSchema,
			},
		}
	}

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, "/chat/completions", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var oaiResp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&oaiResp); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
		}

		result := &ChatResponse{FinishReason: "stop"}
		if len(oaiResp.Choices) > 0 {
			result.Content = oaiResp.Choices[0].Message.Content
			if fr := oaiResp.Choices[0].FinishReason; fr != "" {
				result.FinishReason = fr
			}
		}
		if oaiResp.Usage != nil {
			result.Usage = &Usage{
				PromptTokens:     oaiResp.Usage.PromptTokens,
				CompletionTokens: oaiResp.Usage.CompletionTokens,
				TotalTokens:      oaiResp.Usage.TotalTokens,
			}
		}
		return result, nil
	})
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := map[string]interface{}{
		"model": p.embeddingModel,
		"input": texts,
	}

	return RetryDo(ctx, p.retryConfig, func() ([][]float32, error) {
		respBody, err := p.doRequest(ctx, "/embeddings", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var embResp openAIEmbeddingResponse
		if err := json.NewDecoder(respBody).Decode(&embResp); err != nil {
			return nil, fmt.Errorf("%s: decode embeddings: %w", p.name, err)
		}
		if len(embResp.Data) != len(texts) {
			return nil, fmt.Errorf("%s: got %d embeddings for %d inputs", p.name, len(embResp.Data), len(texts))
		}

		// The API may return data out of order; index is authoritative.
		out := make([][]float32, len(texts))
		for _, d := range embResp.Data {
			if d.Index < 0 || d.Index >= len(out) {
				return nil, fmt.Errorf("%s: embedding index %d out of range", p.name, d.Index)
			}
			out[d.Index] = d.Embedding
		}
		return out, nil
	})
}

func (p *OpenAIProvider) doRequest(ctx context.Context, path string, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", p.name, string(respBody)),
			RetryAfter: retryAfter,
		}
	}

	return resp.Body, nil
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}
