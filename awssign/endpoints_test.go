package awssign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		service string
		region  string
		opts    EndpointOptions
		want    string
	}{
		{"regional", "s3", "eu-west-1", EndpointOptions{}, "s3.eu-west-1.amazonaws.com"},
		{"global service", "iam", "eu-west-1", EndpointOptions{}, "iam.amazonaws.com"},
		{"china partition", "s3", "cn-north-1", EndpointOptions{}, "s3.cn-north-1.amazonaws.com.cn"},
		{"dual stack s3", "s3", "us-west-2", EndpointOptions{DualStack: true}, "s3.dualstack.us-west-2.amazonaws.com"},
		{"dual stack other", "dynamodb", "us-west-2", EndpointOptions{DualStack: true}, "dynamodb.us-west-2.api.aws"},
		{"fips", "sts", "us-gov-west-1", EndpointOptions{FIPS: true}, "sts-fips.us-gov-west-1.amazonaws.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveEndpoint(tt.service, tt.region, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ResolveEndpoint("", "us-east-1", EndpointOptions{})
	assert.ErrorIs(t, err, ErrMissingService)

	_, err = ResolveEndpoint("dynamodb", "", EndpointOptions{})
	assert.ErrorIs(t, err, ErrMissingRegion)
}

func TestInferFromHost(t *testing.T) {
	tests := []struct {
		host        string
		wantService string
		wantRegion  string
	}{
		{"s3.amazonaws.com", "s3", "us-east-1"},
		{"s3.eu-central-1.amazonaws.com", "s3", "eu-central-1"},
		{"s3-us-west-2.amazonaws.com", "s3", "us-west-2"},
		{"mybucket.s3.ap-southeast-1.amazonaws.com", "s3", "ap-southeast-1"},
		{"s3.dualstack.us-east-2.amazonaws.com", "s3", "us-east-2"},
		{"dynamodb.us-west-2.amazonaws.com", "dynamodb", "us-west-2"},
		{"iam.amazonaws.com", "iam", "us-east-1"},
		{"sts.eu-west-2.amazonaws.com", "sts", "eu-west-2"},
		{"s3.cn-north-1.amazonaws.com.cn", "s3", "cn-north-1"},
		{"DYNAMODB.US-WEST-2.AMAZONAWS.COM:443", "dynamodb", "us-west-2"},
		{"example.com", "", ""},
		{"localhost:9000", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			service, region := InferFromHost(tt.host)
			assert.Equal(t, tt.wantService, service)
			assert.Equal(t, tt.wantRegion, region)
		})
	}
}
