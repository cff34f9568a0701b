package compute

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// ASGGroup implements Group over AWS Auto Scaling groups, resolving private
// IPs through EC2. One adapter serves all tiers; the group name selects the ASG.
type ASGGroup struct {
	asg     *autoscaling.Client
	ec2c    *ec2.Client
	timeout time.Duration
}

// NewASGGroup builds the AWS adapter using the default credential chain.
// region may be empty to defer to the environment. timeout applies to each
// provider call.
func NewASGGroup(ctx context.Context, region string, timeout time.Duration) (*ASGGroup, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("compute: load aws config: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ASGGroup{
		asg:     autoscaling.NewFromConfig(cfg),
		ec2c:    ec2.NewFromConfig(cfg),
		timeout: timeout,
	}, nil
}

// Expand raises the group's desired capacity by delta, capped at the ASG's
// own max size by the provider.
func (g *ASGGroup) Expand(ctx context.Context, group string, delta int) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.asg.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{group},
	})
	if err != nil {
		return fmt.Errorf("compute: describe group %s: %w", group, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return fmt.Errorf("compute: group %s not found", group)
	}
	current := aws.ToInt32(out.AutoScalingGroups[0].DesiredCapacity)
	max := aws.ToInt32(out.AutoScalingGroups[0].MaxSize)
	desired := current + int32(delta)
	if desired > max {
		desired = max
	}
	if desired == current {
		return nil
	}
	_, err = g.asg.SetDesiredCapacity(ctx, &autoscaling.SetDesiredCapacityInput{
		AutoScalingGroupName: aws.String(group),
		DesiredCapacity:      aws.Int32(desired),
		HonorCooldown:        aws.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("compute: set desired capacity for %s: %w", group, err)
	}
	return nil
}

// ListInstances returns the group's members with their private IPs. Only
// InService members report Running true.
func (g *ASGGroup) ListInstances(ctx context.Context, group string) ([]Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.asg.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{group},
	})
	if err != nil {
		return nil, fmt.Errorf("compute: describe group %s: %w", group, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, fmt.Errorf("compute: group %s not found", group)
	}

	var ids []string
	running := make(map[string]bool)
	for _, inst := range out.AutoScalingGroups[0].Instances {
		id := aws.ToString(inst.InstanceId)
		ids = append(ids, id)
		running[id] = inst.LifecycleState == "InService"
	}
	if len(ids) == 0 {
		return nil, nil
	}

	ips := make(map[string]string)
	desc, err := g.ec2c.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
	if err != nil {
		return nil, fmt.Errorf("compute: describe instances: %w", err)
	}
	for _, res := range desc.Reservations {
		for _, inst := range res.Instances {
			id := aws.ToString(inst.InstanceId)
			ips[id] = aws.ToString(inst.PrivateIpAddress)
			if inst.State != nil && inst.State.Name != ec2types.InstanceStateNameRunning {
				running[id] = false
			}
		}
	}

	instances := make([]Instance, 0, len(ids))
	for _, id := range ids {
		instances = append(instances, Instance{
			ID:        id,
			PrivateIP: ips[id],
			Running:   running[id],
		})
	}
	return instances, nil
}

// Terminate requests termination of one instance and lets the group shrink
// with it so a replacement is not launched.
func (g *ASGGroup) Terminate(ctx context.Context, instanceID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.asg.TerminateInstanceInAutoScalingGroup(ctx, &autoscaling.TerminateInstanceInAutoScalingGroupInput{
		InstanceId:                     aws.String(instanceID),
		ShouldDecrementDesiredCapacity: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("compute: terminate %s: %w", instanceID, err)
	}
	return nil
}
