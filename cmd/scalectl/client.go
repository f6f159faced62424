package main

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/sirupsen/logrus"

	"kinesis-shard-autoscaler/internal/streamcontrol"
)

// buildControl resolves default AWS credentials for region and wraps a
// Kinesis client in the StreamControl adapter used by both the daemon
// and this CLI.
func buildControl(ctx context.Context, region string) (*streamcontrol.Kinesis, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, newUsageError("resolving aws credentials: %v", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	client := kinesis.NewFromConfig(awsCfg)
	return streamcontrol.NewKinesis(client, log), nil
}
