// Package limits resolves rate limit parameter overrides from SSM so a
// deployment can tune the limiter without a rollout.
package limits

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/craddockd/msgwall/internal/log"
	"github.com/craddockd/msgwall/internal/xerrors"
)

// Params are the tunable limiter parameters.
type Params struct {
	Limit  int
	Window time.Duration
}

// ssmParams is the wire shape of the SSM parameter value.
type ssmParams struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}

// GetParameterAPI is the slice of the SSM client the resolver needs.
type GetParameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type ResolverOptions struct {
	Logger log.Logger

	// Param is the SSM parameter name holding JSON {limit, window_seconds}.
	Param string

	// Client overrides the SSM client (tests). Nil uses the default AWS config.
	Client GetParameterAPI
}

type Resolver struct {
	client GetParameterAPI
	param  string
	logger log.Logger
}

func NewResolver(ctx context.Context, opts ResolverOptions) (*Resolver, error) {
	if opts.Param == "" {
		return nil, xerrors.New("Param is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	client := opts.Client
	if client == nil {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
		client = ssm.NewFromConfig(awsCfg)
	}

	return &Resolver{client: client, param: opts.Param, logger: opts.Logger}, nil
}

// Fetch reads and validates the override parameters. Defaults in, overrides
// out: fields the parameter leaves at zero keep the passed-in values.
func (r *Resolver) Fetch(ctx context.Context, defaults Params) (Params, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(r.param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return defaults, xerrors.Wrapf(err, "get SSM parameter %q", r.param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return defaults, xerrors.Newf("SSM parameter %q has no value", r.param)
	}

	var wire ssmParams
	if err := json.Unmarshal([]byte(*out.Parameter.Value), &wire); err != nil {
		return defaults, xerrors.Wrapf(err, "parse SSM parameter %q", r.param)
	}

	p := defaults
	if wire.Limit > 0 {
		p.Limit = wire.Limit
	}
	if wire.WindowSeconds > 0 {
		p.Window = time.Duration(wire.WindowSeconds) * time.Second
	}

	r.logger.Info(ctx, "rate limit overrides resolved",
		"param", r.param,
		"limit", p.Limit,
		"window", p.Window.String(),
	)
	return p, nil
}
