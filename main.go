package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-wap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logrus.WithError(err).Error("[APP] command failed")
		os.Exit(1)
	}
}
