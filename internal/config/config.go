package config

import "time"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	Database  Database  `envPrefix:"DB_"`
	Payments  Payments  `envPrefix:"PAYMENTS_"`
	Scheduler Scheduler `envPrefix:"SCHEDULER_"`
	Notify    Notify    `envPrefix:"NOTIFY_"`

	Paypal    Paypal    `envPrefix:"PAYPAL_"`
	BrainTree Braintree `envPrefix:"BRAINTREE_"`
	Revolut   Revolut   `envPrefix:"REVOLUT_"`
}

type Database struct {
	Driver string `env:"DRIVER" envDefault:"mysql"` // mysql or sqlite
	URL    string `env:"URL"`
	Seed   bool   `env:"SEED" envDefault:"true"`
}

type Payments struct {
	Currency       string        `env:"CURRENCY" envDefault:"EUR"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`
}

type Scheduler struct {
	Enabled   bool          `env:"ENABLED" envDefault:"true"`
	Spec      string        `env:"SPEC" envDefault:"0 3 * * *"`
	LeaseTTL  time.Duration `env:"LEASE_TTL" envDefault:"10m"`
	BatchSize int           `env:"BATCH_SIZE" envDefault:"100"`
}

type Notify struct {
	SQSQueueURL string `env:"SQS_QUEUE_URL"`
	AWSRegion   string `env:"AWS_REGION" envDefault:"eu-west-1"`
}

type Paypal struct {
	BaseApiURL   string `env:"BASE_API_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	WebhookID    string `env:"WEBHOOK_ID"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

type Braintree struct {
	Environment string `env:"ENVIRONMENT" envDefault:"sandbox"`
	MerchantID  string `env:"MERCHANT_ID"`
	PublicKey   string `env:"PUBLIC_KEY"`
	PrivateKey  string `env:"PRIVATE_KEY"`
}

type Revolut struct {
	BaseApiURL    string `env:"BASE_API_URL" envDefault:"https://sandbox-merchant.revolut.com"`
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	APIVersion    string `env:"API_VERSION" envDefault:"2024-09-01"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}
