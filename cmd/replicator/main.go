package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dashjay/s3_replication/pkg/config"
	"github.com/dashjay/s3_replication/pkg/logging"
	"github.com/dashjay/s3_replication/pkg/replicate"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logrus.WithError(err).Fatalln("load config")
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		logrus.WithError(err).Fatalln("setup logging")
	}

	client, err := replicate.NewClient(context.Background(), replicate.ClientConfig{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKey,
		SecretAccessKey: cfg.S3.SecretKey,
		UsePathStyle:    cfg.S3.PathStyle,
	})
	if err != nil {
		logrus.WithError(err).Fatalln("create s3 client")
	}

	d, err := replicate.New(replicate.Config{
		DestinationBucket: cfg.Replication.DestinationBucket,
		SkipCheckMarker:   cfg.Replication.SkipCheckMarker,
		Blacklist:         cfg.BlacklistSet(),
		DecodeKeys:        cfg.Replication.DecodeKeys,
	}, client)
	if err != nil {
		logrus.WithError(err).Fatalln("create dispatcher")
	}
	logrus.WithField("blacklist", cfg.Replication.Blacklist).Debugln("replicator ready")
	lambda.Start(d.Handle)
}
