package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/dfsio/parfs/internal/logger"
	"github.com/dfsio/parfs/pkg/engine"
	badgerEngine "github.com/dfsio/parfs/pkg/engine/badger"
	memoryEngine "github.com/dfsio/parfs/pkg/engine/memory"
	s3Engine "github.com/dfsio/parfs/pkg/engine/s3"
)

// CreateEngine creates a storage engine based on configuration.
//
// The Engine.Type field selects the implementation, and the matching
// type-specific options section is decoded into that engine's config.
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: The loaded configuration
//
// Returns:
//   - engine.Engine: The constructed engine, not yet initialized
//   - error: Configuration or construction error
func CreateEngine(ctx context.Context, cfg *Config) (engine.Engine, error) {
	switch cfg.Engine.Type {
	case "memory":
		return createMemoryEngine(cfg)
	case "badger":
		return createBadgerEngine(cfg.Engine.Badger)
	case "s3":
		return createS3Engine(ctx, cfg.Engine.S3)
	default:
		return nil, fmt.Errorf("unknown engine type: %q", cfg.Engine.Type)
	}
}

// createMemoryEngine creates an in-process engine with the session pool
// pre-provisioned, since Connect never creates pools.
func createMemoryEngine(cfg *Config) (engine.Engine, error) {
	store := memoryEngine.NewStore()
	if err := store.ProvisionPool(cfg.Session.Pool); err != nil {
		return nil, fmt.Errorf("failed to provision pool %q: %w", cfg.Session.Pool, err)
	}
	return memoryEngine.New(store), nil
}

// createBadgerEngine creates a BadgerDB-backed engine.
func createBadgerEngine(options map[string]any) (engine.Engine, error) {
	type BadgerEngineConfig struct {
		Dir string `mapstructure:"dir"`
	}

	var engCfg BadgerEngineConfig
	if err := mapstructure.Decode(options, &engCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger engine config: %w", err)
	}

	if engCfg.Dir == "" {
		return nil, fmt.Errorf("badger engine: dir is required")
	}

	eng, err := badgerEngine.Open(engCfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger engine: %w", err)
	}
	return eng, nil
}

// createS3Engine creates an S3-backed engine.
func createS3Engine(ctx context.Context, options map[string]any) (engine.Engine, error) {
	type S3EngineConfig struct {
		Region          string `mapstructure:"region"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var engCfg S3EngineConfig
	if err := mapstructure.Decode(options, &engCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 engine config: %w", err)
	}

	if engCfg.Region == "" {
		return nil, fmt.Errorf("S3 engine: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(engCfg.Region))

	// Custom endpoint for MinIO, Localstack, etc.
	if engCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               engCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Static credentials if provided, otherwise the default chain.
	if engCfg.AccessKeyID != "" && engCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			engCfg.AccessKeyID,
			engCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := engCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awsS3.NewFromConfig(awsCfg, func(o *awsS3.Options) {
		// Path-style addressing for MinIO/Localstack compatibility
		if engCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	logger.Info("S3 engine initialized: region=%s, endpoint=%s", engCfg.Region, engCfg.Endpoint)

	return s3Engine.New(client), nil
}
