package main

import (
	"net/http"

	"github.com/dashjay/s3_replication/pkg/config"
	"github.com/dashjay/s3_replication/pkg/gateway"
	"github.com/dashjay/s3_replication/pkg/logging"
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
	db, err := gateway.Open(cfg.Gateway.Database)
	if err != nil {
		logrus.WithError(err).Fatalln("failed to connect database")
	}
	logrus.WithField("addr", cfg.Gateway.ListenAddr).Infoln("gateway listening")
	if err := http.ListenAndServe(cfg.Gateway.ListenAddr, gateway.NewS3Proxy(db)); err != nil {
		logrus.WithError(err).Fatalln("serve")
	}
}
