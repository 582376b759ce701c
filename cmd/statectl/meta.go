package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-statesync/pkg/storage"
	"github.com/goliatone/go-statesync/pkg/storage/boltdb"
	"github.com/mitchellh/cli"
	"go.uber.org/zap"
)

// Meta holds state shared by every command.
type Meta struct {
	Ui cli.Ui

	dbPath  string
	bucket  string
	verbose bool
}

func (m *Meta) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&m.dbPath, "db", "", "path to the bbolt file")
	fs.StringVar(&m.bucket, "bucket", boltdb.DefaultBucket, "bucket holding the records")
	fs.BoolVar(&m.verbose, "verbose", false, "log storage and migration activity")
	return fs
}

// open returns an engine over the bbolt file and a function that closes it.
func (m *Meta) open() (storage.Engine, func(), error) {
	if m.dbPath == "" {
		return nil, nil, fmt.Errorf("-db is required")
	}
	backend, err := boltdb.Open(boltdb.Config{Path: m.dbPath, Bucket: m.bucket})
	if err != nil {
		return nil, nil, err
	}
	return storage.Wrap(backend), func() { _ = backend.Close() }, nil
}

func (m *Meta) logger() *zap.Logger {
	if !m.verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func (m *Meta) fail(err error) int {
	m.Ui.Error(err.Error())
	return 1
}

func commandContext() context.Context {
	return context.Background()
}

const commonOptions = `
  -db=path           Path to the bbolt file.

  -bucket=name       Bucket holding the records. Defaults to "statesync".

  -verbose           Log storage and migration activity.
`

func helpText(usage, body string) string {
	return strings.TrimSpace(usage+"\n\n"+body+"\n\nOptions:\n"+commonOptions) + "\n"
}
