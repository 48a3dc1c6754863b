package inventory

import (
	"context"
	"testing"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/internal/config"
)

// fakeEC2 returns one page of instances per call, keyed by NextToken.
type fakeEC2 struct {
	pages   [][]ec2types.Instance
	filters []ec2types.Filter
}

func (f *fakeEC2) DescribeInstances(_ context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.filters = params.Filters

	idx := 0
	if params.NextToken != nil {
		idx = int((*params.NextToken)[0] - '0')
	}
	out := &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{Instances: f.pages[idx]}},
	}
	if idx+1 < len(f.pages) {
		out.NextToken = awsv2.String(string(rune('0' + idx + 1)))
	}
	return out, nil
}

func instanceFixture(id, publicIP, privateIP string, tags map[string]string) ec2types.Instance {
	inst := ec2types.Instance{InstanceId: awsv2.String(id)}
	if publicIP != "" {
		inst.PublicIpAddress = awsv2.String(publicIP)
	}
	if privateIP != "" {
		inst.PrivateIpAddress = awsv2.String(privateIP)
	}
	for k, v := range tags {
		inst.Tags = append(inst.Tags, ec2types.Tag{Key: awsv2.String(k), Value: awsv2.String(v)})
	}
	return inst
}

func newFakeEC2Source(t *testing.T, cfg *config.InventoryConfig, fake *fakeEC2) *EC2Source {
	t.Helper()
	src, err := NewEC2Source(cfg, WithClientFactory(func(_ context.Context, _ string) (EC2API, error) {
		return fake, nil
	}))
	require.NoError(t, err)
	return src
}

func TestEC2Source(t *testing.T) {
	t.Parallel()

	t.Run("filters on running state and tags", func(t *testing.T) {
		t.Parallel()

		fake := &fakeEC2{pages: [][]ec2types.Instance{{
			instanceFixture("i-0abc", "203.0.113.10", "10.0.0.1", map[string]string{"Name": "web-1", "Role": "web"}),
		}}}
		src := newFakeEC2Source(t, &config.InventoryConfig{
			Source:  "ec2",
			Regions: []string{"us-east-1"},
			Filters: map[string]string{"Role": "web", "Env": "prod"},
		}, fake)

		hosts, err := src.Resolve(context.Background())
		require.NoError(t, err)
		require.Len(t, hosts, 1)
		assert.Equal(t, "web-1", hosts[0].Name)
		assert.Equal(t, "203.0.113.10", hosts[0].Address)

		require.Len(t, fake.filters, 3)
		assert.Equal(t, "instance-state-name", *fake.filters[0].Name)
		assert.Equal(t, []string{"running"}, fake.filters[0].Values)
		assert.Equal(t, "tag:Env", *fake.filters[1].Name)
		assert.Equal(t, "tag:Role", *fake.filters[2].Name)
	})

	t.Run("follows pagination", func(t *testing.T) {
		t.Parallel()

		fake := &fakeEC2{pages: [][]ec2types.Instance{
			{instanceFixture("i-1", "203.0.113.1", "", nil)},
			{instanceFixture("i-2", "203.0.113.2", "", nil)},
		}}
		src := newFakeEC2Source(t, &config.InventoryConfig{Source: "ec2", Regions: []string{"us-east-1"}}, fake)

		hosts, err := src.Resolve(context.Background())
		require.NoError(t, err)
		assert.Len(t, hosts, 2)
	})

	t.Run("public address falls back to private", func(t *testing.T) {
		t.Parallel()

		fake := &fakeEC2{pages: [][]ec2types.Instance{{
			instanceFixture("i-1", "", "10.0.0.9", nil),
		}}}
		src := newFakeEC2Source(t, &config.InventoryConfig{Source: "ec2", Regions: []string{"us-east-1"}}, fake)

		hosts, err := src.Resolve(context.Background())
		require.NoError(t, err)
		require.Len(t, hosts, 1)
		assert.Equal(t, "10.0.0.9", hosts[0].Address)
	})

	t.Run("private addressing ignores public ip", func(t *testing.T) {
		t.Parallel()

		fake := &fakeEC2{pages: [][]ec2types.Instance{{
			instanceFixture("i-1", "203.0.113.1", "10.0.0.9", nil),
		}}}
		src := newFakeEC2Source(t, &config.InventoryConfig{
			Source: "ec2", Regions: []string{"us-east-1"}, AddressFrom: "private",
		}, fake)

		hosts, err := src.Resolve(context.Background())
		require.NoError(t, err)
		require.Len(t, hosts, 1)
		assert.Equal(t, "10.0.0.9", hosts[0].Address)
	})

	t.Run("addressless instances are dropped", func(t *testing.T) {
		t.Parallel()

		fake := &fakeEC2{pages: [][]ec2types.Instance{{
			instanceFixture("i-1", "", "", nil),
			instanceFixture("i-2", "203.0.113.2", "", nil),
		}}}
		src := newFakeEC2Source(t, &config.InventoryConfig{Source: "ec2", Regions: []string{"us-east-1"}}, fake)

		hosts, err := src.Resolve(context.Background())
		require.NoError(t, err)
		require.Len(t, hosts, 1)
		assert.Equal(t, "i-2", hosts[0].Name)
	})

	t.Run("name defaults to instance id", func(t *testing.T) {
		t.Parallel()

		fake := &fakeEC2{pages: [][]ec2types.Instance{{
			instanceFixture("i-0def", "203.0.113.3", "", map[string]string{"Role": "db"}),
		}}}
		src := newFakeEC2Source(t, &config.InventoryConfig{Source: "ec2", Regions: []string{"us-east-1"}}, fake)

		hosts, err := src.Resolve(context.Background())
		require.NoError(t, err)
		require.Len(t, hosts, 1)
		assert.Equal(t, "i-0def", hosts[0].Name)
	})

	t.Run("requires a region", func(t *testing.T) {
		t.Parallel()

		_, err := NewEC2Source(&config.InventoryConfig{Source: "ec2"})
		require.Error(t, err)
	})
}
