// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

const (
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultOpenAISecretPath = "/run/secrets/openai_api_key"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	// APIKey falls back to OPENAI_API_KEY, then to SecretPath.
	APIKey string `yaml:"-"`

	// Model defaults to gpt-4o-mini.
	Model string `yaml:"model"`

	// BaseURL overrides the API endpoint (Azure, proxies, tests).
	BaseURL string `yaml:"base_url"`

	// SecretPath is a file holding the key, mounted as a container secret.
	SecretPath string `yaml:"secret_path"`
}

// OpenAIClient generates with the OpenAI chat completion API.
//
// It cannot ground a call in a document data store and rejects requests
// that ask for one with ErrRetrievalUnsupported. In the search pipeline it
// serves the formatting stage, which only needs the masked provenance
// already embedded in its prompt.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient resolves the API key and builds a client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		secretPath := cfg.SecretPath
		if secretPath == "" {
			secretPath = defaultOpenAISecretPath
		}
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read the OpenAI API key from secret file", "path", secretPath)
		} else {
			slog.Error("OPENAI_API_KEY not set and secret not found", "path", secretPath)
			return nil, errors.New("openai: API key not configured")
		}
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
		slog.Warn("OpenAI model not set, using default", "model", model)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Model implements Generator.
func (o *OpenAIClient) Model() string {
	return o.model
}

// Generate implements Generator.
func (o *OpenAIClient) Generate(ctx context.Context, req *GenerateRequest) (*datatypes.GenerationResult, error) {
	if req.Datastore != "" {
		return nil, ErrRetrievalUnsupported
	}
	if len(req.Attachments) > 0 {
		return nil, errors.New("openai: binary attachments are not supported")
	}
	slog.Debug("Generating text via OpenAI", "model", o.model)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemInstruction,
		})
	}
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	}
	if req.Params.Temperature != nil {
		chatReq.Temperature = *req.Params.Temperature
	}
	if req.Params.MaxTokens != nil {
		chatReq.MaxCompletionTokens = *req.Params.MaxTokens
	}
	if req.Params.TopP != nil {
		chatReq.TopP = *req.Params.TopP
	}
	if len(req.Params.Stop) > 0 {
		chatReq.Stop = req.Params.Stop
	}
	if req.ResponseMIMEType == "application/json" {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	slog.Debug("Received response from OpenAI", "finish_reason", choice.FinishReason)
	result := datatypes.NewTextResult(choice.Message.Content)
	result.Model = resp.Model
	result.FinishReason = string(choice.FinishReason)
	return result, nil
}

var _ Generator = (*OpenAIClient)(nil)
