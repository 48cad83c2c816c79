package config

const (
	defaultIncomingDir            = "~/.local/share/nasferry/incoming"
	defaultLibraryDir             = "~/library/tv"
	defaultStateDir               = "~/.local/share/nasferry"
	defaultLogDir                 = "~/.local/share/nasferry/logs"
	defaultRemotePort             = 22
	defaultConnectTimeoutSeconds  = 30
	defaultRetryAttempts          = 3
	defaultRetryDelaySeconds      = 5
	defaultSettleSeconds          = 300
	defaultDownloadWorkers        = 4
	defaultTransferTimeoutSeconds = 3600
	defaultHashAlgorithm          = "crc32"
	defaultRoutingWorkers         = 4
	defaultLookupTimeoutSeconds   = 30
	defaultBackend                = BackendSQLite
	defaultSQLiteFile             = "nasferry.db"
	defaultMaxConnections         = 8
	defaultTMDBLanguage           = "en-US"
	defaultTMDBBaseURL            = "https://api.themoviedb.org/3"
	defaultTMDBTimeoutSeconds     = 10
	defaultTMDBCacheSize          = 256
	defaultTMDBCacheTTLSeconds    = 3600
	defaultAPIBind                = "127.0.0.1:7488"
	defaultCron                   = "*/15 * * * *"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Backend names accepted by database.backend.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// DefaultExcludedExtensions lists file extensions the crawler never reports.
func DefaultExcludedExtensions() []string {
	return []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".nfo", ".sfv"}
}

// DefaultExcludedKeywords lists name fragments the crawler never reports.
func DefaultExcludedKeywords() []string {
	return []string{"sample", "screens", "thumbs.db", ".ds_store"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			IncomingDir: defaultIncomingDir,
			LibraryDir:  defaultLibraryDir,
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
		},
		Remote: Remote{
			Port:                  defaultRemotePort,
			ConnectTimeoutSeconds: defaultConnectTimeoutSeconds,
			RetryAttempts:         defaultRetryAttempts,
			RetryDelaySeconds:     defaultRetryDelaySeconds,
		},
		Crawl: Crawl{
			SettleSeconds:      defaultSettleSeconds,
			ExcludedExtensions: DefaultExcludedExtensions(),
			ExcludedKeywords:   DefaultExcludedKeywords(),
		},
		Download: Download{
			Workers:                defaultDownloadWorkers,
			TransferTimeoutSeconds: defaultTransferTimeoutSeconds,
			HashAlgorithm:          defaultHashAlgorithm,
		},
		Routing: Routing{
			Workers:              defaultRoutingWorkers,
			LookupTimeoutSeconds: defaultLookupTimeoutSeconds,
		},
		Database: Database{
			Backend:        defaultBackend,
			MaxConnections: defaultMaxConnections,
		},
		TMDB: TMDB{
			BaseURL:         defaultTMDBBaseURL,
			Language:        defaultTMDBLanguage,
			TimeoutSeconds:  defaultTMDBTimeoutSeconds,
			CacheSize:       defaultTMDBCacheSize,
			CacheTTLSeconds: defaultTMDBCacheTTLSeconds,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Schedule: Schedule{
			Cron:           defaultCron,
			RouteAfterSync: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
