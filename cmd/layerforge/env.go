package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// environment holds the LAYERFORGE_* overrides, usually set through .env.
type environment struct {
	Config   string `env:"CONFIG" envDefault:"collections/config.json"`
	Root     string `env:"ROOT" envDefault:"collections"`
	Seed     *int64 `env:"SEED"`
	Workers  int    `env:"WORKERS"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	S3 s3Env `envPrefix:"S3_"`
}

type s3Env struct {
	Endpoint  string `env:"ENDPOINT"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"true"`
}

func parseEnv() (environment, error) {
	var e environment
	if err := env.ParseWithOptions(&e, env.Options{Prefix: "LAYERFORGE_"}); err != nil {
		return environment{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}
