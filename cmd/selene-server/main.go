// Package main runs the selene results server.
package main

import (
	"context"

	"github.com/KubeRocketCI/selene/logging"
	"github.com/KubeRocketCI/selene/server"
	"github.com/KubeRocketCI/selene/store"
)

func main() {
	cfg := server.LoadConfig()
	log := logging.Init(cfg.LogLevel, cfg.LogFormat)

	log.Println("Starting selene results server")

	st, err := store.Connect(context.Background(), store.DefaultURI)
	if err != nil {
		log.WithError(err).Error("Failed to connect to MongoDB")
	}

	defer func() {
		_ = st.Close(context.Background())
	}()

	srv := server.New(func(branch, build string) server.BuildStore {
		return st.Build(branch, build)
	}, cfg, logging.C("server"))

	if err := srv.Start(); err != nil {
		log.WithError(err).Fatal("Server failed to start")
	}
}
