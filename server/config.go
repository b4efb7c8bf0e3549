package server

import (
	"github.com/spf13/viper"
)

// Config is read from SELENE_* environment variables. The MongoDB target is
// not configurable.
type Config struct {
	Host              string
	Port              string
	UploadCredentials string
	LogLevel          string
	LogFormat         string
}

func LoadConfig() Config {
	v := viper.New()
	v.SetEnvPrefix("selene")
	v.AutomaticEnv()

	v.SetDefault("host", "localhost")
	v.SetDefault("port", "8080")
	v.SetDefault("upload_credentials", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	return Config{
		Host:              v.GetString("host"),
		Port:              v.GetString("port"),
		UploadCredentials: v.GetString("upload_credentials"),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
	}
}
