package config

func NewDefaultConfig() *MainConfig {
	return &MainConfig{
		General: GeneralConfig{
			LogDirectory: "logs",
			LogColors:    false,
			JsonLogs:     false,
			LogLevel:     "info",

			LogRetentionDays: 14,
		},
		Workers: WorkersConfig{
			NumWorkers:           0, // core count
			MaxConcurrentLoads:   0, // 4x workers
			MaxConcurrentFetches: 0, // same as loads
			TimeoutSeconds:       30,
		},
		MemoryCache: MemoryCacheConfig{
			MaxSizeBytes: 134217728, // 128mb
		},
		DiskCache: DiskCacheConfig{
			Enabled:                 true,
			Type:                    "file",
			Path:                    "image_cache",
			MaxSizeBytes:            524288000, // 500mb
			MaxAgeDays:              30,
			EvictionIntervalMinutes: 10,
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			DbNum:     0,
			KeyPrefix: "image-loader:",
		},
		Sources: SourcesConfig{
			Http: HttpSourceConfig{
				TimeoutSeconds: 30,
				UserAgent:      "image-loader",
				MaxBytes:       52428800, // 50mb
				BackoffAt:      10,
				AllowedHosts:   []string{"*"},
			},
			File: FileSourceConfig{
				Enabled:  true,
				RootPath: "/",
			},
			S3: S3SourceConfig{
				Enabled: false,
				Ssl:     true,
			},
			Blurhash: BlurhashConfig{
				Punch:  1,
				Width:  32,
				Height: 32,
			},
			Identicons: IdenticonConfig{
				Enabled: true,
				Size:    96,
			},
		},
		Thumbnails: ThumbnailsConfig{
			MaxSourceBytes: 52428800, // 50mb
			MaxPixels:      32000000, // 32M
			Types: []string{
				"image/jpeg",
				"image/jpg",
				"image/png",
				"image/gif",
				"image/webp",
				"image/bmp",
				"image/tiff",
			},
		},
		Downloads: DownloadsConfig{
			FailureCacheMinutes: 1,
		},
		Metrics: MetricsConfig{
			Enabled:     false,
			BindAddress: "localhost",
			Port:        9000,
		},
		Sentry: SentryConfig{
			Enabled:     false,
			Dsn:         "not supplied",
			Environment: "",
			Debug:       false,
		},
	}
}
