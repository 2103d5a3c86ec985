package main

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/Koko12137/tasking-community-sub000/internal/config"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
	"github.com/Koko12137/tasking-community-sub000/pkg/model/anthropicclient"
	"github.com/Koko12137/tasking-community-sub000/pkg/model/bedrockclient"
	"github.com/Koko12137/tasking-community-sub000/pkg/model/openaiclient"
)

// embedCacheTTL bounds how long a cached embedding is reused before the
// underlying text is re-embedded.
const embedCacheTTL = 30 * time.Minute

// buildModelClient selects and constructs the pkg/model adapter named by
// s.ModelProvider, wrapping it in an embedding cache and an adaptive rate
// limiter when s.EmbedCacheSize/s.ModelTokensPerMinute are set.
func buildModelClient(ctx context.Context, s config.Settings) (model.Client, error) {
	client, err := buildRawModelClient(ctx, s)
	if err != nil {
		return nil, err
	}
	client = model.NewEmbedCache(client, s.EmbedCacheSize, embedCacheTTL)
	if s.ModelTokensPerMinute <= 0 {
		return client, nil
	}
	limiter := model.NewAdaptiveRateLimiter(float64(s.ModelTokensPerMinute), float64(s.ModelTokensPerMinute))
	return limiter.Wrap(client), nil
}

func buildRawModelClient(ctx context.Context, s config.Settings) (model.Client, error) {
	switch s.ModelProvider {
	case "anthropic":
		return anthropicclient.NewFromAPIKey(s.ModelAPIKey, s.ModelName)
	case "openai":
		return openaiclient.NewFromAPIKey(s.ModelAPIKey, s.ModelName, s.EmbeddingModel)
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.BedrockRegion))
		if err != nil {
			return nil, fmt.Errorf("tasking: load aws config: %w", err)
		}
		rt := bedrockruntime.NewFromConfig(awsCfg)
		return bedrockclient.NewFromConfig(rt, bedrockclient.Options{
			DefaultModel: s.ModelName,
			MaxTokens:    s.ModelMaxTokens,
		})
	default:
		return nil, fmt.Errorf("tasking: unknown model provider %q", s.ModelProvider)
	}
}
