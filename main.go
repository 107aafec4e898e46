package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"github.com/sehnem/verified-sources/extract"
	"github.com/sehnem/verified-sources/inbox"
	"github.com/sehnem/verified-sources/pipeline"
	"github.com/sehnem/verified-sources/utils"
)

func main() {
	// reading configuration shall be the very first action because it also configures the logger
	conf := GetConfig()
	utils.InitLogger(conf.JSONLogs, conf.DevLogs, conf.VerboseLogs, conf.TraceLogs)
	logger.Info("Starting the application")

	command := flag.Arg(0)
	if command == "" {
		logger.Fatal("missing command: expected copy, csv, jsonl, parquet, inbox-messages or inbox-attachments")
	}

	ctx := context.Background()
	loader := pipeline.NewLoader(conf.DBHost, conf.DBPort, conf.DBName, conf.DBUser, conf.DBPassword, conf.DBSSLMode)
	if err := loader.Connect(ctx); err != nil {
		logger.Fatal("Error connecting to the database: ", zap.Error(err))
	}
	defer loader.Close(ctx)

	state, err := pipeline.NewStateStore(loader.ConnectionString)
	if err != nil {
		logger.Fatal("Error opening the state store: ", zap.Error(err))
	}
	defer state.Close()
	if err := state.Init(ctx); err != nil {
		logger.Fatal("Error initializing the state store: ", zap.Error(err))
	}

	runner := &pipeline.Runner{
		BucketURL:      conf.BucketURL,
		Glob:           conf.Glob,
		Credentials:    &conf.Credentials,
		ChunkSize:      conf.ChunkSize,
		ExtractContent: conf.ExtractContent,
		Loader:         loader,
		State:          state,
	}

	startTime := time.Now()
	rows := 0
	switch command {
	case "copy":
		rows, err = runner.CopyAndLoadListing(ctx, conf.StoragePath, tableOr(conf, "filesystem"))
	case "csv":
		var initial time.Time
		if conf.InitialCursor != "" {
			initial, err = extract.NormalizeTime(conf.InitialCursor)
			if err != nil {
				logger.Fatal("Invalid initial cursor: ", zap.Error(err))
			}
		}
		rows, err = runner.LoadCSV(ctx, tableOr(conf, "csv_data"),
			splitList(conf.CursorColumns), conf.CursorField, initial)
	case "jsonl":
		rows, err = runner.LoadJSONL(ctx, tableOr(conf, "jsonl_data"))
	case "parquet":
		rows, err = runner.LoadParquet(ctx, tableOr(conf, "parquet_data"))
	case "inbox-messages":
		rows, err = loadInboxMessages(ctx, conf, loader)
	case "inbox-attachments":
		rows, err = loadInboxAttachments(ctx, conf, loader)
	default:
		logger.Fatal("Unknown command", zap.String("command", command))
	}
	if err != nil {
		logger.Fatal("ERROR: ", zap.Error(err))
	}
	logger.Info("Done", zap.String("command", command), zap.Int("rows", rows),
		zap.Duration("time", time.Since(startTime)))
}

// tableOr returns the configured destination table, falling back to the
// command's default table name.
func tableOr(conf *Config, fallback string) string {
	if conf.TableName != "" {
		return conf.TableName
	}
	return fallback
}

// newInboxSource builds the IMAP source from the configuration.
func newInboxSource(conf *Config) (*inbox.InboxSource, error) {
	var since time.Time
	if conf.SinceDate != "" {
		var err error
		since, err = extract.NormalizeTime(conf.SinceDate)
		if err != nil {
			return nil, err
		}
	}
	return &inbox.InboxSource{
		Host:            conf.IMAPHost,
		Port:            conf.IMAPPort,
		Username:        conf.IMAPUser,
		Password:        conf.IMAPPassword,
		Folder:          conf.IMAPFolder,
		FilterEmails:    splitList(conf.FilterEmails),
		FilterMimeTypes: splitList(conf.FilterMimeTypes),
		Since:           since,
	}, nil
}

// loadInboxMessages merges the mailbox messages into the destination on message_uid.
func loadInboxMessages(ctx context.Context, conf *Config, loader *pipeline.Loader) (int, error) {
	src, err := newInboxSource(conf)
	if err != nil {
		return 0, err
	}
	batches, err := src.Messages(conf.ChunkSize)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, batch := range batches {
		count, err := loader.Load(ctx, tableOr(conf, "messages"), "message_uid", pipeline.DispositionMerge, batch)
		if err != nil {
			return total, err
		}
		total += count
	}
	return total, nil
}

// loadInboxAttachments copies the mailbox attachments under the storage path
// and merges their listing into the destination on file_url.
func loadInboxAttachments(ctx context.Context, conf *Config, loader *pipeline.Loader) (int, error) {
	src, err := newInboxSource(conf)
	if err != nil {
		return 0, err
	}
	batches, err := src.Attachments(conf.ChunkSize)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, batch := range batches {
		items, err := pipeline.CopyFiles(batch, conf.StoragePath)
		if err != nil {
			return total, err
		}
		records := make([]extract.Record, 0, len(items))
		for _, item := range items {
			records = append(records, item.Record())
		}
		count, err := loader.Load(ctx, tableOr(conf, "attachments"), "file_url", pipeline.DispositionMerge, records)
		if err != nil {
			return total, err
		}
		total += count
	}
	return total, nil
}
