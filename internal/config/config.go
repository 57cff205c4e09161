package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string `yaml:"env" env-default:"local"`
	Tokens     `yaml:"tokens"`
	Passwords  `yaml:"passwords"`
	Features   `yaml:"features"`
	Mojang     `yaml:"mojang"`
	RabbitMQ   `yaml:"rabbitmq"`
	Email      `yaml:"email"`
	Postgres   `yaml:"postgres"`
	Redis      `yaml:"redis"`
	HTTPServer `yaml:"http_server"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Postgres struct {
	Host     string `yaml:"host" env-default:"postgres"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"password" env-required:"true"`
	DBName   string `yaml:"dbname" env-required:"true"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type Redis struct {
	Addr     string `yaml:"addr" env-default:"localhost:6379"`
	Password string `yaml:"password" env-default:""`
	DB       int    `yaml:"db" env-default:"0"`
}

type Tokens struct {
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env-default:"5m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env-default:"720h"`
	CodeTTL         time.Duration `yaml:"code_ttl" env-default:"5m"`
	Secret          string        `yaml:"secret" env-required:"true"`
	Issuer          string        `yaml:"issuer" env-default:"account_service"`
	Audience        string        `yaml:"audience" env-default:"account_service_clients"`
}

type Passwords struct {
	// Scheme selects the password hashing scheme: "sha256" (deterministic,
	// compatible with existing stored hashes) or "bcrypt".
	Scheme string `yaml:"scheme" env-default:"sha256"`
}

type Features struct {
	MailActivation   bool `yaml:"mail_activation" env-default:"true"`
	ExternalIdentity bool `yaml:"external_identity" env-default:"false"`
}

type Mojang struct {
	ProfileURL string        `yaml:"profile_url" env-default:"https://api.mojang.com/users/profiles/minecraft"`
	SessionURL string        `yaml:"session_url" env-default:"https://sessionserver.mojang.com/session/minecraft/profile"`
	Timeout    time.Duration `yaml:"timeout" env-default:"5s"`
}

type Email struct {
	Host     string `yaml:"host" env-default:"smtp.yandex.ru"`
	Port     int    `yaml:"port" env-default:"465"`
	Username string `yaml:"username" env-default:""`
	Password string `yaml:"password" env-default:""`
}

type RabbitMQ struct {
	URL       string `yaml:"url" env-required:"true"`
	QueueName string `yaml:"queue_name" env-default:"mail"`
}

func MustLoad(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("Config file does not exist" + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("Failed to read config" + err.Error())
	}

	return &cfg
}
