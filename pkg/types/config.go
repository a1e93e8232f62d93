package types

type Config struct {
	Environment      string `envconfig:"ENVIRONMENT" default:"development"`
	ServerPort       uint   `envconfig:"SERVER_PORT" default:"8080"`
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"8"`
	ReadTimeoutSec   uint   `envconfig:"READ_TIMEOUT_SEC" default:"30"`
	WriteTimeoutSec  uint   `envconfig:"WRITE_TIMEOUT_SEC" default:"150"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`

	// Document processing service
	ProcessorURL        string  `envconfig:"PROCESSOR_URL" default:"https://publication-api.onrender.com/process"`
	ProcessorTimeoutSec uint    `envconfig:"PROCESSOR_TIMEOUT_SEC" default:"120"`
	ProcessorRatePerSec float64 `envconfig:"PROCESSOR_RATE_PER_SEC" default:"2"`

	// auto | button
	DownloadPolicy string `envconfig:"DOWNLOAD_POLICY" default:"button"`
	DownloadTTLSec uint   `envconfig:"DOWNLOAD_TTL_SEC" default:"3600"`
	MaxUploadMB    int64  `envconfig:"MAX_UPLOAD_MB" default:"25"`
	SweepEverySec  uint   `envconfig:"SWEEP_EVERY_SEC" default:"60"`

	// Download handle storage: local | s3
	StorageBackend    string `envconfig:"STORAGE_BACKEND" default:"local"`
	StorageDir        string `envconfig:"STORAGE_DIR" default:"data/downloads"`
	StorageBucketName string `envconfig:"STORAGE_BUCKET_NAME"`

	// Sessions
	SessionMaxAgeSec int `envconfig:"SESSION_MAX_AGE_SEC" default:"86400"` // 1 day

	// Cookie encryption keys (base64 encoded)
	// openssl rand -base64 32
	// to generate values
	CookieHashKey  string `envconfig:"COOKIE_HASH_KEY"`  // 32 or 64 bytes
	CookieBlockKey string `envconfig:"COOKIE_BLOCK_KEY"` // 16, 24, or 32 bytes

	// HMAC key for signed download links (base64 encoded)
	DownloadTokenKey string `envconfig:"DOWNLOAD_TOKEN_KEY"`
}
