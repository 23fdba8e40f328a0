package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/llm"
)

var _ llm.Provider = (*Client)(nil)

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete implements llm.Provider using chat/completions. Timeouts, 429 and
// 5xx responses are retried with backoff; other failures return at once.
func (c *Client) Complete(ctx context.Context, in llm.Completion) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	if c.cfg.APIKey == "" {
		return "", &llm.ProviderError{Message: "no API key configured"}
	}

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "system", "content": in.System},
			{"role": "user", "content": in.User},
		},
	}
	if in.JSONMode {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	c.logger.Info("llm.complete.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"json_mode", in.JSONMode,
		"prompt_len", len(in.System)+len(in.User),
	)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	var raw []byte
	err := common.WithRetry(ctx, func() error {
		var sendErr error
		raw, sendErr = llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
		if sendErr == nil {
			return nil
		}
		var pe *llm.ProviderError
		if errors.As(sendErr, &pe) && !pe.Temporary() {
			return common.Permanent(sendErr)
		}
		if ctx.Err() != nil {
			return common.Permanent(sendErr)
		}
		return sendErr
	}, common.RetryOptions{
		MaxAttempts:  c.cfg.MaxAttempts,
		InitialDelay: c.cfg.RetryDelay,
		MaxDelay:     10 * time.Second,
	})
	if err != nil {
		c.logger.Error("llm.complete.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		var pe *llm.ProviderError
		if errors.As(err, &pe) {
			return "", err
		}
		return "", &llm.ProviderError{Message: "request failed", Err: err}
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.complete.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", &llm.ProviderError{Message: "decode response", Err: err}
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.complete.no_choices", "req_id", rid, "raw", string(raw))
		return "", &llm.ProviderError{Message: "no choices in response"}
	}
	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	if content == "" {
		return "", &llm.ProviderError{Message: "empty completion"}
	}

	c.logger.Info("llm.complete.ok",
		"req_id", rid,
		"chars", len(content),
		"finish_reason", cc.Choices[0].FinishReason,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}
