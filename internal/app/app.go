// Package app assembles the analytics agent from configuration. Both the
// Lambda entrypoint and the HTTP server build through here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"shopify-analytics-agent/handler"
	"shopify-analytics-agent/internal/cache"
	"shopify-analytics-agent/internal/config"
	"shopify-analytics-agent/internal/conversation"
	"shopify-analytics-agent/internal/executor"
	"shopify-analytics-agent/internal/formatter"
	"shopify-analytics-agent/internal/integrations/anthropic"
	"shopify-analytics-agent/internal/integrations/gemini"
	"shopify-analytics-agent/internal/integrations/openai"
	"shopify-analytics-agent/internal/integrations/paramstore"
	"shopify-analytics-agent/internal/integrations/shopify"
	"shopify-analytics-agent/internal/intent"
	"shopify-analytics-agent/internal/planner"
	"shopify-analytics-agent/internal/repository"
	"shopify-analytics-agent/internal/shopifyql"
	"shopify-analytics-agent/internal/usecase"
)

type generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// App is a wired agent. Close releases background resources.
type App struct {
	Handler *handler.Handler

	closers []func()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Build wires every component named by cfg. AWS configuration is only
// loaded when a component needs it.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}
	loadAWS := lazyAWS(ctx)

	var params paramstore.Getter
	parameters := func() (paramstore.Getter, error) {
		if params != nil {
			return params, nil
		}
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		c, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		params = c
		return c, nil
	}

	// Tokens
	var tokens usecase.TokenSource
	if cfg.ShopifyAccessToken != "" {
		tokens = paramstore.Static(cfg.ShopifyAccessToken)
	} else {
		getter, err := parameters()
		if err != nil {
			return nil, err
		}
		resolver, err := paramstore.NewTokenResolver(getter, cfg.ParamPrefix, cfg.TokenCacheTTL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, resolver.Close)
		tokens = resolver
	}

	// Cache
	var answers cache.Cache
	switch cfg.CacheBackend {
	case config.BackendRedis:
		r, client, err := cache.NewRedisFromURL(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		answers = r
	default:
		m := cache.NewMemory(cfg.CacheTTL, cfg.CacheCapacity)
		a.closers = append(a.closers, m.Close)
		answers = m
	}

	// Conversations
	var conversations conversation.Store
	switch cfg.ConversationBackend {
	case config.BackendDynamoDB:
		awsCfg, err := loadAWS()
		if err != nil {
			a.Close()
			return nil, err
		}
		repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, cfg.MaxTurns, cfg.ConversationTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		conversations = repo
	default:
		m := conversation.NewMemory(cfg.MaxTurns, cfg.ConversationTTL)
		a.closers = append(a.closers, m.Close)
		conversations = m
	}

	// Language model
	var classifier usecase.Classifier = intent.NewKeyword()
	fmtOpts := []formatter.Option{formatter.WithLogger(logger), formatter.WithTimeout(cfg.LLMTimeout)}
	if cfg.LLMConfigured() {
		getter, err := parameters()
		if err != nil {
			a.Close()
			return nil, err
		}
		gen, err := newGenerator(cfg, getter)
		if err != nil {
			a.Close()
			return nil, err
		}
		llm, err := intent.NewLLM(gen, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		classifier = llm
		fmtOpts = append(fmtOpts, formatter.WithGenerator(gen))
	}

	// Query path
	validator, err := shopifyql.NewValidator(shopifyql.DefaultRegistry())
	if err != nil {
		a.Close()
		return nil, err
	}
	client := shopify.NewClient(shopify.WithAPIVersion(cfg.ShopifyAPIVersion), shopify.WithLogger(logger))
	exec, err := executor.New(client, client, shopify.NewBuilder(0),
		executor.WithPolicy(executor.Policy{
			MaxAttempts:    cfg.RetryMaxAttempts,
			BaseDelay:      cfg.RetryBaseDelay,
			Multiplier:     cfg.RetryMultiplier,
			MaxDelay:       cfg.RetryMaxDelay,
			AttemptTimeout: cfg.ExecTimeout,
		}),
		executor.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	svc, err := usecase.NewAnalyzeService(usecase.Dependencies{
		Classifier:    classifier,
		Planner:       planner.New(),
		Validator:     validator,
		Executor:      exec,
		Formatter:     formatter.New(fmtOpts...),
		Cache:         answers,
		Conversations: conversations,
		Tokens:        tokens,
	},
		usecase.WithMaxQuestionLength(cfg.MaxQuestionLength),
		usecase.WithCacheTTL(cfg.CacheTTL),
		usecase.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	h, err := handler.NewHandler(svc, validator,
		handler.WithHealth(handler.HealthInfo{
			LLMConfigured:       cfg.LLMConfigured(),
			CacheBackend:        cfg.CacheBackend,
			ConversationBackend: cfg.ConversationBackend,
		}),
		handler.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Handler = h
	return a, nil
}

func newGenerator(cfg config.Config, getter paramstore.Getter) (generator, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		return openai.NewClient(getter, cfg.ParamPrefix, openai.WithModel(cfg.LLMModel))
	case config.ProviderAnthropic:
		return anthropic.NewClient(getter, cfg.ParamPrefix, anthropic.WithModel(cfg.LLMModel))
	case config.ProviderGemini:
		return gemini.NewClient(getter, cfg.ParamPrefix, gemini.WithModel(cfg.LLMModel))
	default:
		return nil, fmt.Errorf("app: unknown llm provider %q", cfg.LLMProvider)
	}
}

func lazyAWS(ctx context.Context) func() (aws.Config, error) {
	var (
		once sync.Once
		cfg  aws.Config
		err  error
	)
	return func() (aws.Config, error) {
		once.Do(func() {
			cfg, err = awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				err = fmt.Errorf("app: load aws config: %w", err)
			}
		})
		return cfg, err
	}
}
