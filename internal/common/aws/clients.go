// internal/common/aws/clients.go
package aws

import (
	"context"
	"fmt"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Clients resolves the default credential chain once and hands out the SES
// and SNS clients used by the email and SMS providers.
type Clients struct {
	region string

	once sync.Once
	cfg  awssdk.Config
	err  error
}

func NewClients(region string) *Clients {
	return &Clients{region: region}
}

// Config returns the shared SDK configuration, loading it on first use.
func (c *Clients) Config(ctx context.Context) (awssdk.Config, error) {
	c.once.Do(func() {
		c.cfg, c.err = config.LoadDefaultConfig(ctx, config.WithRegion(c.region))
		if c.err != nil {
			c.err = fmt.Errorf("load aws config: %w", c.err)
		}
	})
	return c.cfg, c.err
}

func (c *Clients) SES(ctx context.Context) (*ses.Client, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	return ses.NewFromConfig(cfg), nil
}

func (c *Clients) SNS(ctx context.Context) (*sns.Client, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(cfg), nil
}
