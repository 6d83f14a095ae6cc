// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"github.com/telekom/lessonplan-mailer/pkg/dkim"
)

// SESConfig holds the AWS settings of the SES transport. Static credentials
// are optional; the default AWS credential chain is used otherwise.
type SESConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ConfigurationSet string
}

// SendEmailAPI is the SES v2 SendEmail operation, satisfied by *sesv2.Client.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport delivers raw MIME messages through AWS SES v2. SES is
// connectionless, so Open only checks that a client is configured.
type SESTransport struct {
	client           SendEmailAPI
	configurationSet string
	renderer         renderer
	log              *zap.SugaredLogger
}

var _ Transport = (*SESTransport)(nil)

// NewSESTransport loads the AWS configuration and builds an SES client.
func NewSESTransport(ctx context.Context, cfg SESConfig, fromName string, signer *dkim.Signer, log *zap.SugaredLogger) (*SESTransport, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	t := NewSESTransportWithClient(sesv2.NewFromConfig(awsCfg), fromName, signer, log)
	t.configurationSet = cfg.ConfigurationSet
	t.log.Infow("Initializing SES transport",
		"region", awsCfg.Region,
		"configurationSet", cfg.ConfigurationSet,
		"dkim", signer != nil)
	return t, nil
}

// NewSESTransportWithClient uses the given client, for tests and custom endpoints.
func NewSESTransportWithClient(client SendEmailAPI, fromName string, signer *dkim.Signer, log *zap.SugaredLogger) *SESTransport {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SESTransport{
		client:   client,
		renderer: renderer{fromName: fromName, signer: signer},
		log:      log.Named("ses"),
	}
}

func (t *SESTransport) Name() string { return "ses" }

func (t *SESTransport) Open(ctx context.Context) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.client == nil {
		return nil, errors.New("ses client is not configured")
	}
	return &sesConnection{t: t}, nil
}

type sesConnection struct {
	t *SESTransport
}

func (c *sesConnection) Send(ctx context.Context, msg *EmailMessage, from string) error {
	raw, err := c.t.renderer.render(msg, from)
	if err != nil {
		return err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: msg.Recipients,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}
	if c.t.configurationSet != "" {
		input.ConfigurationSetName = aws.String(c.t.configurationSet)
	}

	out, err := c.t.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	if out != nil && out.MessageId != nil {
		c.t.log.Debugw("SES accepted message", "id", msg.ID, "sesMessageId", aws.ToString(out.MessageId))
	}
	return nil
}

func (c *sesConnection) Close() error { return nil }
