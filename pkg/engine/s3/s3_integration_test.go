package s3

import (
	"context"
	"os"
	"testing"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dfsio/parfs/pkg/engine"
	"github.com/dfsio/parfs/pkg/engine/enginetest"
)

// TestS3Engine runs the engine conformance suite against a real bucket.
//
// Requires PARFS_S3_TEST_BUCKET (and optionally PARFS_S3_TEST_ENDPOINT for
// MinIO/Localstack) plus the usual AWS credential environment. Skipped
// otherwise, so the suite stays runnable offline.
func TestS3Engine(t *testing.T) {
	bucket := os.Getenv("PARFS_S3_TEST_BUCKET")
	if bucket == "" {
		t.Skip("PARFS_S3_TEST_BUCKET not set, skipping S3 integration test")
	}

	ctx := context.Background()
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		t.Fatalf("load AWS config: %v", err)
	}

	endpoint := os.Getenv("PARFS_S3_TEST_ENDPOINT")
	client := awsS3.NewFromConfig(cfg, func(o *awsS3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		}
	})

	suite := &enginetest.Suite{
		NewEngine: func(t *testing.T) (engine.Engine, string) {
			return New(client), bucket
		},
	}
	suite.Run(t)
}
