package config

import (
	"context"
	"os"
	"strings"

	"github.com/caarlos0/env"
	"github.com/sirupsen/logrus"
)

func init() {
	env.Parse(&Config)

	setupLogrus()
	if Config.OpenTelemetryEnabled {
		err := setupTraceProvider(context.Background())
		if err != nil {
			panic(err)
		}
	}
}

func setupLogrus() {
	l, err := logrus.ParseLevel(Config.LogrusLevel)
	if err != nil {
		logrus.WithField("err", err).Fatalf("failed to set logrus level:%s", Config.LogrusLevel)
	}
	logrus.SetLevel(l)
	logrus.SetOutput(os.Stderr)
	switch Config.LogrusFormat {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.Warnf("unexpected logrus format: %s, should be one of: text, json", Config.LogrusFormat)
	}
}

// GithubTokenForOrg resolves the per-organization credential from the
// environment: GITHUB_TOKEN_<ORG> with the organization name uppercased
// and dashes replaced by underscores. Each organization carries an
// independent credential.
func GithubTokenForOrg(org string) string {
	name := "GITHUB_TOKEN_" + strings.ToUpper(strings.ReplaceAll(org, "-", "_"))
	return os.Getenv(name)
}
