package db

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"
	"github.com/jackc/pgx/v5"

	"github.com/stacklok/jobwatch/internal/config"
)

const awsRegionDetect = "detect"

// ConnectionString returns a postgres:// URL for the database. With RDS IAM
// configured the password is a freshly generated token, so the result is
// only good for a few minutes.
func ConnectionString(ctx context.Context, cfg *config.DatabaseConfig) (string, error) {
	if cfg.AWSRDSIAM == nil {
		return cfg.GetConnectionString()
	}

	region, err := rdsRegion(ctx, cfg.AWSRDSIAM)
	if err != nil {
		return "", err
	}
	token, err := rdsToken(ctx, cfg, region)
	if err != nil {
		return "", err
	}
	return cfg.ConnectionStringWithPassword(token), nil
}

// rdsRegion resolves the configured region, asking IMDS when set to "detect"
func rdsRegion(ctx context.Context, iam *config.AWSRDSIAMConfig) (string, error) {
	if iam.Region == "" {
		return "", fmt.Errorf("AWS RDS IAM region is not configured")
	}
	if iam.Region != awsRegionDetect {
		return iam.Region, nil
	}

	imdsClient := imds.New(imds.Options{
		HTTPClient: &http.Client{Timeout: 2 * time.Second},
	})
	out, err := imdsClient.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get region from IMDS: %w", err)
	}
	return out.Region, nil
}

func rdsToken(ctx context.Context, cfg *config.DatabaseConfig, region string) (string, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return "", fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	token, err := auth.BuildAuthToken(ctx, endpoint, region, cfg.User, awsCfg.Credentials)
	if err != nil {
		return "", fmt.Errorf("failed to build authentication token: %w", err)
	}
	return token, nil
}

// rdsBeforeConnect sets a new IAM token on every connection the pool opens
func rdsBeforeConnect(
	ctx context.Context,
	cfg *config.DatabaseConfig,
) (func(context.Context, *pgx.ConnConfig) error, error) {
	region, err := rdsRegion(ctx, cfg.AWSRDSIAM)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, connConfig *pgx.ConnConfig) error {
		token, err := rdsToken(ctx, cfg, region)
		if err != nil {
			return err
		}
		connConfig.Password = token
		return nil
	}, nil
}
