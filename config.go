package main

import (
	"flag"
	"log"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sehnem/verified-sources/fsys"
)

// defaultConfigFile is read when present in the working directory.
const defaultConfigFile = "config.yaml"

// Config represents the application configuration defined through various sources
// such as command line arguments, environment variables or a YAML file.
type Config struct {

	// BucketURL the base location files are enumerated under: a local path,
	// "file:///..." URL, "s3://bucket/prefix" or "webdav(s)://host/path".
	BucketURL string `yaml:"bucket_url"`

	// Glob the path filter applied to the enumeration, all files when empty.
	Glob string `yaml:"glob"`

	// ChunkSize the number of files per batch and records per record batch.
	ChunkSize int `yaml:"chunk_size"`

	// ExtractContent materializes file content at discovery time.
	ExtractContent bool `yaml:"extract_content"`

	// StoragePath the local directory the copy command writes files under.
	StoragePath string `yaml:"storage_path"`

	// TableName the destination table of the load commands.
	TableName string `yaml:"table_name"`

	// CursorField the timestamp-like field driving the incremental csv load.
	CursorField string `yaml:"cursor_field"`

	// CursorColumns a comma-separated subset of csv columns to keep, all when empty.
	CursorColumns string `yaml:"cursor_columns"`

	// InitialCursor the high-water mark used before the first committed batch,
	// for example "2023-01-01".
	InitialCursor string `yaml:"initial_cursor"`

	// Credentials the filesystem credentials passed through to client construction.
	Credentials fsys.Credentials `yaml:"credentials"`

	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBSSLMode  bool   `yaml:"db_ssl_mode"`

	IMAPHost        string `yaml:"imap_host"`
	IMAPPort        int    `yaml:"imap_port"`
	IMAPUser        string `yaml:"imap_user"`
	IMAPPassword    string `yaml:"imap_password"`
	IMAPFolder      string `yaml:"imap_folder"`
	FilterEmails    string `yaml:"filter_emails"`
	FilterMimeTypes string `yaml:"filter_mime_types"`

	// SinceDate keeps only messages delivered after the given date, for
	// example "2023-01-01". Empty keeps all messages.
	SinceDate string `yaml:"since_date"`

	JSONLogs    bool `yaml:"json_logs"`
	DevLogs     bool `yaml:"dev_logs"`
	VerboseLogs bool `yaml:"verbose"`
	TraceLogs   bool `yaml:"trace"`
}

// Singleton initialization - it is lazy-loaded and thread-safe
var (
	// instance the actual configuration after checking all possible configuration sources
	instance *Config
	once     sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		// first read the command line arguments because they can affect the rest of the initialization
		var argsInstance = &Config{}
		argsInstance.loadFromArguments()
		// now initialize the configuration
		instance = &Config{ChunkSize: 10, DBPort: 5432, IMAPPort: 993}
		// Load configuration from various sources (in order of precedence)
		instance.loadFromFile()
		instance.loadFromEnv()
		instance.override(argsInstance) // some arguments can override other configuration sources
	})
	return instance
}

func (c *Config) loadFromEnv() {
	if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
		c.Credentials.AWSAccessKeyID = accessKey
	}
	if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
		c.Credentials.AWSSecretAccessKey = secretKey
	}
	if sessionToken := os.Getenv("AWS_SESSION_TOKEN"); sessionToken != "" {
		c.Credentials.AWSSessionToken = sessionToken
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		c.Credentials.AWSRegion = region
	}
	if password := os.Getenv("SOURCES_DB_PASSWORD"); password != "" {
		c.DBPassword = password
	}
	if password := os.Getenv("SOURCES_IMAP_PASSWORD"); password != "" {
		c.IMAPPassword = password
	}
}

// loadFromFile loads the YAML configuration file when one exists in the
// working directory.
func (c *Config) loadFromFile() {
	content, err := os.ReadFile(defaultConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("failed to read %s: %v", defaultConfigFile, err)
		}
		return
	}
	if err := yaml.Unmarshal(content, c); err != nil {
		log.Fatalf("failed to parse %s: %v", defaultConfigFile, err)
	}
}

// loadFromArguments Define command-line flags
func (c *Config) loadFromArguments() {
	// First we define the structure of the command line arguments - before actually parsing them.
	// Don't try to initialize any configurations here because it will not work before flag.Parse()
	jsonLogs := flag.Bool("json-logs", false,
		"Enable production JSON-formatted logs (false by default)")
	verboseLogs := flag.Bool("verbose", false,
		"Enable verbose DEBUG-level logging (false by default)")
	developmentLogs := flag.Bool("dev-logs", false,
		"Enable development logs formatting with time stamps and source files (false by default)")
	traceLogs := flag.Bool("trace", false,
		"Enable row-level TRACE logging (false by default)")

	bucketURL := flag.String("bucket-url", "",
		"Base location to enumerate files under (local path, file://, s3:// or webdav://)")
	glob := flag.String("glob", "",
		"Glob pattern filtering the enumerated files (all files by default)")
	chunkSize := flag.Int("chunk-size", 0,
		"Number of files per batch and records per record batch (10 by default)")
	extractContent := flag.Bool("extract-content", false,
		"Materialize file content at discovery time instead of on first read")
	storagePath := flag.String("storage-path", "",
		"Local directory the copy command writes files under")

	tableName := flag.String("table", "",
		"Destination table of the load commands")
	cursorField := flag.String("cursor-field", "",
		"Timestamp-like field driving the incremental csv load")
	cursorColumns := flag.String("columns", "",
		"Comma-separated subset of csv columns to keep (all by default)")
	initialCursor := flag.String("initial-cursor", "",
		"High-water mark used before the first committed batch, e.g. 2023-01-01")

	filterEmails := flag.String("filter-emails", "",
		"Comma-separated sender addresses the inbox commands keep (all by default)")
	filterMimeTypes := flag.String("filter-mime-types", "",
		"Comma-separated MIME types the inbox attachment command keeps (all by default)")
	sinceDate := flag.String("since", "",
		"Keep only messages delivered after this date, e.g. 2023-01-01 (all by default)")

	flag.Parse()

	c.JSONLogs = *jsonLogs
	c.VerboseLogs = *verboseLogs
	c.DevLogs = *developmentLogs
	c.TraceLogs = *traceLogs
	c.BucketURL = *bucketURL
	c.Glob = *glob
	c.ChunkSize = *chunkSize
	c.ExtractContent = *extractContent
	c.StoragePath = *storagePath
	c.TableName = *tableName
	c.CursorField = *cursorField
	c.CursorColumns = *cursorColumns
	c.InitialCursor = *initialCursor
	c.FilterEmails = *filterEmails
	c.FilterMimeTypes = *filterMimeTypes
	c.SinceDate = *sinceDate
}

// override applies the non-empty command line values on top of the file and
// environment configuration.
func (c *Config) override(args *Config) {
	c.JSONLogs = c.JSONLogs || args.JSONLogs
	c.VerboseLogs = c.VerboseLogs || args.VerboseLogs
	c.DevLogs = c.DevLogs || args.DevLogs
	c.TraceLogs = c.TraceLogs || args.TraceLogs
	c.ExtractContent = c.ExtractContent || args.ExtractContent
	if args.BucketURL != "" {
		c.BucketURL = args.BucketURL
	}
	if args.Glob != "" {
		c.Glob = args.Glob
	}
	if args.ChunkSize > 0 {
		c.ChunkSize = args.ChunkSize
	}
	if args.StoragePath != "" {
		c.StoragePath = args.StoragePath
	}
	if args.TableName != "" {
		c.TableName = args.TableName
	}
	if args.CursorField != "" {
		c.CursorField = args.CursorField
	}
	if args.CursorColumns != "" {
		c.CursorColumns = args.CursorColumns
	}
	if args.InitialCursor != "" {
		c.InitialCursor = args.InitialCursor
	}
	if args.FilterEmails != "" {
		c.FilterEmails = args.FilterEmails
	}
	if args.FilterMimeTypes != "" {
		c.FilterMimeTypes = args.FilterMimeTypes
	}
	if args.SinceDate != "" {
		c.SinceDate = args.SinceDate
	}
}

// splitList splits a comma-separated flag value into its trimmed items.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	ret := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ret = append(ret, trimmed)
		}
	}
	return ret
}
