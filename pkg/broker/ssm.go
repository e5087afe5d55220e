package broker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alpacax/ssmtunnel/pkg/session"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

type ssmAPI interface {
	StartSession(ctx context.Context, params *ssm.StartSessionInput, optFns ...func(*ssm.Options)) (*ssm.StartSessionOutput, error)
	TerminateSession(ctx context.Context, params *ssm.TerminateSessionInput, optFns ...func(*ssm.Options)) (*ssm.TerminateSessionOutput, error)
}

// SSMOptions selects the account and region the client talks to.
type SSMOptions struct {
	Region  string
	Profile string
	// Documents maps session documents to broker-side document names.
	Documents  map[string]string
	HTTPClient *http.Client
}

// SSMClient is a Client backed by AWS Systems Manager.
type SSMClient struct {
	api       ssmAPI
	region    string
	documents map[string]string
}

// NewSSMClient loads the default AWS credential chain for opts.Region and
// opts.Profile.
func NewSSMClient(ctx context.Context, opts SSMOptions) (*SSMClient, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(opts.HTTPClient))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load AWS configuration: %w", ErrBroker, err)
	}
	return newSSMClient(ssm.NewFromConfig(cfg), opts.Region, opts.Documents), nil
}

func newSSMClient(api ssmAPI, region string, documents map[string]string) *SSMClient {
	return &SSMClient{api: api, region: region, documents: documents}
}

func (c *SSMClient) StartSession(ctx context.Context, call session.BrokerCall) (*session.Credentials, error) {
	input := &ssm.StartSessionInput{
		Target: aws.String(call.TargetID),
	}
	if name := DocumentName(c.documents, call.Document); name != "" {
		input.DocumentName = aws.String(name)
	}
	if len(call.Parameters) > 0 {
		input.Parameters = call.Parameters
	}

	log.Debug().Msgf("Starting session on %s in %s (document: %q).", call.TargetID, c.region, aws.ToString(input.DocumentName))

	out, err := c.api.StartSession(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBroker, err)
	}

	creds := &session.Credentials{
		SessionID: aws.ToString(out.SessionId),
		Token:     aws.ToString(out.TokenValue),
		StreamURL: aws.ToString(out.StreamUrl),
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBroker, err)
	}

	log.Debug().Object("session", creds).Msg("Session accepted by broker.")
	return creds, nil
}

func (c *SSMClient) TerminateSession(ctx context.Context, sessionID string) error {
	_, err := c.api.TerminateSession(ctx, &ssm.TerminateSessionInput{
		SessionId: aws.String(sessionID),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to terminate session %s: %w", ErrBroker, sessionID, err)
	}
	return nil
}

var _ Client = (*SSMClient)(nil)
