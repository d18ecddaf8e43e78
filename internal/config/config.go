package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local"`
	Telegram struct {
		ApiKey        string  `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:"" validate:"required"`
		BotName       string  `yaml:"bot_name" env-default:"SportRelayBot"`
		AdminId       int64   `yaml:"admin_id" env:"TELEGRAM_ADMIN_ID" env-default:"0"`
		TargetChatId  int64   `yaml:"target_chat_id" env:"TELEGRAM_TARGET_CHAT_ID" env-default:"0" validate:"required"`
		WebhookSecret string  `yaml:"webhook_secret" env:"TELEGRAM_WEBHOOK_SECRET" env-default:""`
		RatePerSec    float64 `yaml:"rate_per_sec" env-default:"3"`
	} `yaml:"telegram"`
	Mongo struct {
		Host     string `yaml:"host" env:"MONGO_HOST" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env:"MONGO_PORT" env-default:"27017"`
		User     string `yaml:"user" env:"MONGO_USER" env-default:""`
		Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:""`
		Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"sportrelay" validate:"required"`
	} `yaml:"mongo"`
	Listen struct {
		BindIP string `yaml:"bind_ip" env-default:"127.0.0.1"`
		Port   string `yaml:"port" env:"LISTEN_PORT" env-default:"9200"`
	} `yaml:"listen"`
	Worker struct {
		BatchSize   int `yaml:"batch_size" env:"WORKER_BATCH_SIZE" env-default:"5" validate:"gte=1,lte=100"`
		MaxAttempts int `yaml:"max_attempts" env:"WORKER_MAX_ATTEMPTS" env-default:"10" validate:"gte=1"`
	} `yaml:"worker"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("%s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
		if err = validator.New().Struct(instance); err != nil {
			instance = nil
			log.Fatal(fmt.Errorf("config validation: %w", err))
		}
	})
	return instance
}
