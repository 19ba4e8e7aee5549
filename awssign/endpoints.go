package awssign

import (
	"fmt"
	"strings"
)

// Services signing against the global endpoint in us-east-1.
var globalServices = map[string]bool{
	"iam":        true,
	"route53":    true,
	"cloudfront": true,
	"waf":        true,
	"sts":        true,
}

// knownRegions is the precomputed region set used by hostname
// inference, covering commercial, China, and GovCloud partitions.
var knownRegions = map[string]bool{
	"us-east-1": true, "us-east-2": true, "us-west-1": true, "us-west-2": true,
	"af-south-1": true,
	"ap-east-1":  true, "ap-south-1": true, "ap-south-2": true,
	"ap-southeast-1": true, "ap-southeast-2": true, "ap-southeast-3": true, "ap-southeast-4": true,
	"ap-northeast-1": true, "ap-northeast-2": true, "ap-northeast-3": true,
	"ca-central-1": true, "ca-west-1": true,
	"eu-west-1": true, "eu-west-2": true, "eu-west-3": true,
	"eu-central-1": true, "eu-central-2": true,
	"eu-north-1": true, "eu-south-1": true, "eu-south-2": true,
	"il-central-1": true, "me-central-1": true, "me-south-1": true,
	"sa-east-1":  true,
	"cn-north-1": true, "cn-northwest-1": true,
	"us-gov-east-1": true, "us-gov-west-1": true,
}

// EndpointOptions tune endpoint construction.
type EndpointOptions struct {
	// DualStack selects the dual-stack (IPv4+IPv6) endpoint variant.
	DualStack bool

	// FIPS selects the reduced-availability FIPS endpoint variant.
	FIPS bool
}

// ResolveEndpoint builds the conventional hostname for a service and
// region. Global services collapse to their partition-wide endpoint.
func ResolveEndpoint(service, region string, opts EndpointOptions) (string, error) {
	if service == "" {
		return "", ErrMissingService
	}

	suffix := "amazonaws.com"
	if strings.HasPrefix(region, "cn-") {
		suffix = "amazonaws.com.cn"
	}

	if globalServices[service] && !opts.FIPS && !opts.DualStack {
		return fmt.Sprintf("%s.%s", service, suffix), nil
	}
	if region == "" {
		return "", ErrMissingRegion
	}

	name := service
	if opts.FIPS {
		name += "-fips"
	}
	if opts.DualStack {
		if service == "s3" {
			return fmt.Sprintf("%s.dualstack.%s.%s", name, region, suffix), nil
		}
		return fmt.Sprintf("%s.%s.api.aws", name, region), nil
	}
	return fmt.Sprintf("%s.%s.%s", name, region, suffix), nil
}

// InferFromHost recovers service and region from a hostname, for
// requests that carry neither explicitly. Unknown hosts return empty
// strings rather than an error; signing then demands explicit values.
func InferFromHost(host string) (service, region string) {
	host = strings.ToLower(host)
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}

	host = strings.TrimSuffix(host, ".amazonaws.com.cn")
	trimmed := strings.TrimSuffix(host, ".amazonaws.com")
	if trimmed == host && !strings.HasSuffix(host, ".api.aws") {
		return "", ""
	}
	trimmed = strings.TrimSuffix(trimmed, ".api.aws")

	labels := strings.Split(trimmed, ".")
	// Drop a virtual-hosted bucket prefix: everything left of the
	// label that looks like a service.
	for len(labels) > 1 && !serviceLabel(labels[0], labels[1:]) {
		labels = labels[1:]
	}
	if len(labels) == 0 {
		return "", ""
	}

	service = normalizeServiceLabel(labels[0])
	region = "us-east-1"
	for _, label := range labels[1:] {
		if label == "dualstack" || label == "fips" {
			continue
		}
		if knownRegions[label] {
			region = label
			break
		}
	}

	// Legacy object-storage form: s3-<region>.
	if strings.HasPrefix(labels[0], "s3-") {
		candidate := strings.TrimPrefix(labels[0], "s3-")
		if knownRegions[candidate] {
			service, region = "s3", candidate
		}
	}

	return service, region
}

// serviceLabel reports whether the label plausibly names the service.
// A service label is directly followed by a region or variant label;
// anything else (a virtual-hosted bucket, say) is a prefix to drop.
func serviceLabel(label string, rest []string) bool {
	if strings.HasPrefix(label, "s3") {
		return true
	}
	if globalServices[normalizeServiceLabel(label)] {
		return true
	}
	// "<service>.amazonaws.com" form: single remaining label.
	if len(rest) == 0 {
		return true
	}
	return knownRegions[rest[0]] || rest[0] == "dualstack" || rest[0] == "fips"
}

// normalizeServiceLabel strips endpoint-variant decorations from a
// service label. s3-accesspoint and friends still sign as s3.
func normalizeServiceLabel(label string) string {
	label = strings.TrimSuffix(label, "-fips")
	if strings.HasPrefix(label, "s3-") && !knownRegions[strings.TrimPrefix(label, "s3-")] {
		return "s3"
	}
	return label
}
