package config

import (
	"runtime"
	"time"
)

type GeneralConfig struct {
	LogDirectory string `yaml:"logDirectory"`
	LogColors    bool   `yaml:"logColors"`
	JsonLogs     bool   `yaml:"jsonLogs"`
	LogLevel     string `yaml:"logLevel"`

	LogRetentionDays int `yaml:"logRetentionDays"`
}

type WorkersConfig struct {
	NumWorkers           int `yaml:"numWorkers"`
	MaxConcurrentLoads   int `yaml:"maxConcurrentLoads"`
	MaxConcurrentFetches int `yaml:"maxConcurrentFetches"`
	TimeoutSeconds       int `yaml:"timeoutSeconds"`
}

// Workers returns the decode pool size, falling back to the core count.
func (c WorkersConfig) Workers() int {
	if c.NumWorkers <= 0 {
		return runtime.NumCPU()
	}
	return c.NumWorkers
}

func (c WorkersConfig) Loads() int {
	if c.MaxConcurrentLoads <= 0 {
		return c.Workers() * 4
	}
	return c.MaxConcurrentLoads
}

func (c WorkersConfig) Fetches() int {
	if c.MaxConcurrentFetches <= 0 {
		return c.Loads()
	}
	return c.MaxConcurrentFetches
}

func (c WorkersConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type MemoryCacheConfig struct {
	MaxSizeBytes int64 `yaml:"maxSizeBytes"`
}

type DiskCacheConfig struct {
	Enabled                 bool   `yaml:"enabled"`
	Type                    string `yaml:"type"`
	Path                    string `yaml:"path"`
	MaxSizeBytes            int64  `yaml:"maxSizeBytes"`
	MaxAgeDays              int    `yaml:"maxAgeDays"`
	EvictionIntervalMinutes int    `yaml:"evictionIntervalMinutes"`
}

func (c DiskCacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DbNum     int    `yaml:"databaseNumber"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type HttpSourceConfig struct {
	TimeoutSeconds int      `yaml:"timeoutSeconds"`
	UserAgent      string   `yaml:"userAgent"`
	MaxBytes       int64    `yaml:"maxBytes"`
	BackoffAt      int      `yaml:"backoffAt"`
	AllowedHosts   []string `yaml:"allowedHosts,flow"`
}

type FileSourceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RootPath string `yaml:"rootPath"`
}

type S3SourceConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint"`
	AccessKeyId  string `yaml:"accessKeyId"`
	AccessSecret string `yaml:"accessSecret"`
	Region       string `yaml:"region"`
	Ssl          bool   `yaml:"ssl"`
}

type BlurhashConfig struct {
	Punch  int `yaml:"punch"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type IdenticonConfig struct {
	Enabled bool `yaml:"enabled"`
	Size    int  `yaml:"size"`
}

type SourcesConfig struct {
	Http       HttpSourceConfig `yaml:"http"`
	File       FileSourceConfig `yaml:"file"`
	S3         S3SourceConfig   `yaml:"s3"`
	Blurhash   BlurhashConfig   `yaml:"blurhash"`
	Identicons IdenticonConfig  `yaml:"identicons"`
}

type ThumbnailsConfig struct {
	MaxSourceBytes int64    `yaml:"maxSourceBytes"`
	MaxPixels      int      `yaml:"maxPixels"`
	Types          []string `yaml:"types,flow"`
}

type DownloadsConfig struct {
	FailureCacheMinutes int `yaml:"failureCacheMinutes"`
}

type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BindAddress string `yaml:"bindAddress"`
	Port        int    `yaml:"port"`
}

type SentryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dsn         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
	Debug       bool   `yaml:"debug"`
}

type MainConfig struct {
	General     GeneralConfig     `yaml:"general"`
	Workers     WorkersConfig     `yaml:"workers"`
	MemoryCache MemoryCacheConfig `yaml:"memoryCache"`
	DiskCache   DiskCacheConfig   `yaml:"diskCache"`
	Redis       RedisConfig       `yaml:"redis"`
	Sources     SourcesConfig     `yaml:"sources"`
	Thumbnails  ThumbnailsConfig  `yaml:"thumbnails"`
	Downloads   DownloadsConfig   `yaml:"downloads"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Sentry      SentryConfig      `yaml:"sentry"`
}
