package server

import "github.com/toolgate-io/toolgate/internal/config"

type Config struct {
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int
}

func ConfigFromSettings(s config.Settings) Config {
	return Config{
		Port:            s.Port,
		ReadTimeout:     s.ReadTimeout,
		WriteTimeout:    s.WriteTimeout,
		ShutdownTimeout: s.ShutdownTimeout,
	}
}
