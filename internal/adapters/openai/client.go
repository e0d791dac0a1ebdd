package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rs/zerolog"

	"github.com/qqringman/Degrade/internal/config"
	"github.com/qqringman/Degrade/internal/domain"
)

type Client struct {
	key     string
	model   string
	timeout time.Duration
	cli     openai.Client
	log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	model := cfg.OpenAIModel
	if strings.TrimSpace(model) == "" {
		model = "gpt-4.1-mini"
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.OpenAIKey))
	return &Client{key: cfg.OpenAIKey, model: model, timeout: cfg.OpenAITimeout, cli: cli, log: log}
}

// SummarizeWeekly turns the weekly degrade ratios into a short narrative for
// the digest message.
func (c *Client) SummarizeWeekly(ctx context.Context, weeks []domain.WeeklyStat) (string, error) {
	if strings.TrimSpace(c.key) == "" {
		return "", errors.New("openai: missing key")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	c.log.Info().Str("model", c.model).Int("weeks", len(weeks)).Msg("openai summarize call")

	b := &strings.Builder{}
	for _, w := range weeks {
		fmt.Fprintf(b, "%s: %d degrade, %d resolved, %.2f%%\n", w.Week, w.DegradeCount, w.ResolvedCount, w.Percentage)
	}
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a QA lead. Given weekly degrade-to-resolved ratios, write a two sentence trend summary. Call out spikes and improvements, no preamble."),
			openai.UserMessage(b.String()),
		},
	}
	resp, err := c.cli.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
