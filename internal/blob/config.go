package blob

import (
	"net/url"
	"strings"
)

const defaultRegion = "us-east-1"

// S3Config is the resolved storage profile
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	Region          string `mapstructure:"region"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BaseURL         string `mapstructure:"base_url"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

func (c *S3Config) Validate() error {
	if c == nil {
		return NewConfigurationError("profile", "no storage profile configured")
	}
	if c.Endpoint == "" {
		return NewConfigurationError("endpoint", "endpoint required")
	}
	if c.AccessKeyID == "" {
		return NewConfigurationError("access_key_id", "access key id required")
	}
	if c.SecretAccessKey == "" {
		return NewConfigurationError("secret_access_key", "secret access key required")
	}
	if c.BucketName == "" {
		return NewConfigurationError("bucket_name", "bucket name required")
	}
	if _, err := url.Parse(c.EndpointURL()); err != nil {
		return NewConfigurationError("endpoint", "invalid endpoint url "+c.Endpoint)
	}
	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return NewConfigurationError("base_url", "invalid base url "+c.BaseURL)
		}
	}
	return nil
}

// EndpointURL returns the endpoint with a scheme, honoring UseSSL for bare hosts
func (c *S3Config) EndpointURL() string {
	endpoint := strings.TrimRight(c.Endpoint, "/")
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if c.UseSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func (c *S3Config) region() string {
	if c.Region == "" {
		return defaultRegion
	}
	return c.Region
}
