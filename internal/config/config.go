package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr              string        `env:"DOCFLOW_ADDR" envDefault:":8080"`
	DBPath            string        `env:"DOCFLOW_DB" envDefault:"docflow.db"`
	PollInterval      time.Duration `env:"DOCFLOW_POLL_INTERVAL" envDefault:"250ms"`
	QueueCacheTTL     time.Duration `env:"DOCFLOW_QUEUE_CACHE_TTL" envDefault:"1s"`
	SchedulerInterval time.Duration `env:"DOCFLOW_SCHEDULER_INTERVAL" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"DOCFLOW_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Pretty            bool          `env:"DOCFLOW_PRETTY_LOG" envDefault:"true"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
