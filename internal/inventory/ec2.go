package inventory

import (
	"context"
	"fmt"
	"sort"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/conveyorci/conveyor/internal/config"
)

// EC2API defines the EC2 operations used by the resolver.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// ClientFactory builds an EC2 client for a region. Tests substitute fakes.
type ClientFactory func(ctx context.Context, region string) (EC2API, error)

// EC2Source resolves running instances matching tag predicates across one or
// more regions.
type EC2Source struct {
	regions     []string
	filters     map[string]string
	addressFrom string
	newClient   ClientFactory
}

// EC2Option customizes source construction.
type EC2Option func(*EC2Source)

// WithClientFactory injects a custom client factory (for testing).
func WithClientFactory(factory ClientFactory) EC2Option {
	return func(s *EC2Source) { s.newClient = factory }
}

// NewEC2Source builds a source from the inventory configuration.
func NewEC2Source(cfg *config.InventoryConfig, opts ...EC2Option) (*EC2Source, error) {
	if len(cfg.Regions) == 0 {
		return nil, fmt.Errorf("ec2 inventory requires at least one region")
	}
	addressFrom := cfg.AddressFrom
	if addressFrom == "" {
		addressFrom = "public"
	}

	s := &EC2Source{
		regions:     cfg.Regions,
		filters:     cfg.Filters,
		addressFrom: addressFrom,
		newClient:   defaultClientFactory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Resolve queries every configured region and merges the results.
func (s *EC2Source) Resolve(ctx context.Context) ([]Host, error) {
	var hosts []Host
	for _, region := range s.regions {
		client, err := s.newClient(ctx, region)
		if err != nil {
			return nil, fmt.Errorf("ec2 client for region %q: %w", region, err)
		}
		regionHosts, err := s.resolveRegion(ctx, client, region)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, regionHosts...)
	}
	return hosts, nil
}

func (s *EC2Source) resolveRegion(ctx context.Context, client EC2API, region string) ([]Host, error) {
	filters := []ec2types.Filter{
		{
			Name:   awsv2.String("instance-state-name"),
			Values: []string{"running"},
		},
	}
	for _, key := range sortedKeys(s.filters) {
		filters = append(filters, ec2types.Filter{
			Name:   awsv2.String("tag:" + key),
			Values: []string{s.filters[key]},
		})
	}

	var hosts []Host
	var nextToken *string
	for {
		out, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters:   filters,
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe instances in %q: %w", region, err)
		}

		for _, reservation := range out.Reservations {
			for _, instance := range reservation.Instances {
				host, ok := s.hostFromInstance(instance)
				if !ok {
					continue
				}
				hosts = append(hosts, host)
			}
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return hosts, nil
}

// hostFromInstance composes a Host; instances without a usable address are
// dropped rather than surfacing an unreachable entry.
func (s *EC2Source) hostFromInstance(instance ec2types.Instance) (Host, bool) {
	address := ""
	switch s.addressFrom {
	case "private":
		if instance.PrivateIpAddress != nil {
			address = *instance.PrivateIpAddress
		}
	default:
		if instance.PublicIpAddress != nil {
			address = *instance.PublicIpAddress
		} else if instance.PrivateIpAddress != nil {
			address = *instance.PrivateIpAddress
		}
	}
	if address == "" {
		return Host{}, false
	}

	tags := make(map[string]string, len(instance.Tags))
	for _, tag := range instance.Tags {
		if tag.Key == nil || tag.Value == nil {
			continue
		}
		tags[*tag.Key] = *tag.Value
	}

	name := tags["Name"]
	if name == "" && instance.InstanceId != nil {
		name = *instance.InstanceId
	}

	return Host{Name: name, Address: address, Tags: tags}, true
}

func defaultClientFactory(ctx context.Context, region string) (EC2API, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return ec2.NewFromConfig(cfg), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
