package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/vogohq/concierge/internal/config"
	"github.com/vogohq/concierge/internal/conversation"
	"github.com/vogohq/concierge/internal/notify"
	"github.com/vogohq/concierge/pkg/logging"
)

// buildLLMClient assembles the configured provider. In "auto" mode Bedrock
// is primary with Gemini as fallback when both are configured.
func buildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.LLMClient, string, func(), error) {
	noop := func() {}

	newBedrock := func() (conversation.LLMClient, string) {
		client := conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
		return client, cfg.BedrockModelID
	}
	newGemini := func() (*conversation.GeminiLLMClient, string, error) {
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, "", err
		}
		return client, cfg.GeminiModelID, nil
	}

	switch cfg.LLMProvider {
	case "bedrock":
		client, model := newBedrock()
		logger.Info("using Bedrock LLM provider", "model", model)
		return client, model, noop, nil

	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, "", noop, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
		client, model, err := newGemini()
		if err != nil {
			return nil, "", noop, err
		}
		logger.Info("using Gemini LLM provider", "model", model)
		return client, model, func() { _ = client.Close() }, nil

	case "auto":
		primary, model := newBedrock()
		if cfg.GeminiAPIKey == "" {
			logger.Info("using Bedrock LLM provider (no fallback configured)", "model", model)
			return primary, model, noop, nil
		}
		gemini, _, err := newGemini()
		if err != nil {
			logger.Warn("gemini fallback unavailable", "error", err)
			return primary, model, noop, nil
		}
		logger.Info("using Bedrock LLM provider with Gemini fallback", "model", model)
		client := conversation.NewFallbackLLMClient(primary, gemini, logger.Named("llm"))
		return client, model, func() { _ = gemini.Close() }, nil

	default:
		return nil, "", noop, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

// buildEmailSender picks the operator notification channel. Returns a stub
// that only logs when nothing is configured.
func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger.Named("email"))
		if sender != nil {
			return sender
		}
		logger.Warn("sendgrid selected but not configured, falling back to stub sender")

	case "ses":
		sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger.Named("email"))
		if sender != nil {
			return sender
		}
		logger.Warn("ses selected but not configured, falling back to stub sender")
	}

	return notify.NewStubEmailSender(logger.Named("email"))
}
