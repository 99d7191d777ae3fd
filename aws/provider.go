// Package aws adapts AWS SDK v2 clients to the broker's RoleProvider and to
// the object store used by the file proxy.
package aws

import (
	"context"
	"fmt"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/pdfchat/rolebroker/broker"
)

type configLoader interface {
	LoadDefaultConfig(ctx context.Context, optFns ...func(*config.LoadOptions) error) (awsv2.Config, error)
}

type defaultConfigLoader struct{}

func (defaultConfigLoader) LoadDefaultConfig(ctx context.Context, optFns ...func(*config.LoadOptions) error) (awsv2.Config, error) {
	return config.LoadDefaultConfig(ctx, optFns...)
}

type stsAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

type iamAPI interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
}

type clientFactory interface {
	NewSTS(cfg awsv2.Config) stsAPI
	NewIAM(cfg awsv2.Config) iamAPI
}

type defaultClientFactory struct{}

func (defaultClientFactory) NewSTS(cfg awsv2.Config) stsAPI {
	return sts.NewFromConfig(cfg)
}

func (defaultClientFactory) NewIAM(cfg awsv2.Config) iamAPI {
	return iam.NewFromConfig(cfg)
}

// Provider implements broker.RoleProvider with STS AssumeRole and IAM
// GetRole, using the server's own ambient AWS credentials.
type Provider struct {
	sts stsAPI
	iam iamAPI
}

var _ broker.RoleProvider = (*Provider)(nil)

// NewProvider loads the default AWS configuration for region and builds the
// STS and IAM clients.
func NewProvider(ctx context.Context, region string) (*Provider, error) {
	return newProvider(ctx, defaultConfigLoader{}, defaultClientFactory{}, region)
}

func newProvider(ctx context.Context, loader configLoader, factory clientFactory, region string) (*Provider, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := loader.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Provider{
		sts: factory.NewSTS(cfg),
		iam: factory.NewIAM(cfg),
	}, nil
}

// AssumeRole calls sts:AssumeRole. Errors from the SDK are returned
// unchanged so the broker can classify them.
func (p *Provider) AssumeRole(ctx context.Context, in broker.AssumeRoleInput) (broker.Credentials, error) {
	params := &sts.AssumeRoleInput{
		RoleArn:         awsv2.String(in.RoleARN),
		RoleSessionName: awsv2.String(in.SessionName),
	}
	if in.Duration > 0 {
		params.DurationSeconds = awsv2.Int32(int32(in.Duration / time.Second))
	}
	if in.ExternalID != "" {
		params.ExternalId = awsv2.String(in.ExternalID)
	}

	out, err := p.sts.AssumeRole(ctx, params)
	if err != nil {
		return broker.Credentials{}, err
	}
	if out == nil || out.Credentials == nil {
		return broker.Credentials{}, broker.ErrNoCredentials
	}
	return broker.Credentials{
		AccessKeyID:     awsv2.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: awsv2.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    awsv2.ToString(out.Credentials.SessionToken),
		Expiration:      awsv2.ToTime(out.Credentials.Expiration),
	}, nil
}

// RoleExists calls iam:GetRole for roleName.
func (p *Provider) RoleExists(ctx context.Context, roleName string) error {
	_, err := p.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: awsv2.String(roleName)})
	return err
}
