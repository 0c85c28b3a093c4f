package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "coinpulse/config"
	"coinpulse/logger"
	"coinpulse/models"
)

// historyRecord is one buffered sample in the archive schema.
type historyRecord struct {
	Symbol       string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timeframe    string  `parquet:"name=timeframe, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp    int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Price        float64 `parquet:"name=price, type=DOUBLE"`
	SnapshotTime int64   `parquet:"name=snapshot_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// Archive exports every history buffer of a snapshot as a parquet file,
// either into a local directory or to S3.
type Archive struct {
	dir    string
	prefix string
	bucket string
	s3     s3API
	log    *logger.Log
	now    func() time.Time
}

// NewArchive returns nil when archiving is disabled.
func NewArchive(ctx context.Context, cfg *appconfig.Config) (*Archive, error) {
	ac := cfg.Persistence.Archive
	if !ac.Enabled {
		return nil, nil
	}
	if ac.Dir != "" {
		return &Archive{dir: ac.Dir, prefix: ac.Prefix, log: logger.GetLogger(), now: time.Now}, nil
	}
	client, err := newS3Client(ctx, cfg.Storage.S3)
	if err != nil {
		return nil, err
	}
	return newS3Archive(client, cfg.Storage.S3.Bucket, ac.Prefix), nil
}

func newS3Archive(client s3API, bucket, prefix string) *Archive {
	return &Archive{s3: client, bucket: bucket, prefix: prefix, log: logger.GetLogger(), now: time.Now}
}

// Write stores snap and returns the object key or file path with its size.
func (a *Archive) Write(ctx context.Context, snap models.Snapshot) (string, int64, error) {
	records := flattenSnapshot(snap, a.now())
	if len(records) == 0 {
		return "", 0, nil
	}
	key := a.objectKey()
	start := time.Now()

	var (
		size int64
		err  error
	)
	if a.dir != "" {
		key = filepath.Join(a.dir, filepath.FromSlash(key))
		size, err = writeLocalParquet(key, records)
	} else {
		size, err = a.upload(ctx, key, records)
	}
	if err != nil {
		return "", 0, err
	}

	logger.LogPerformanceEntry(a.log.WithComponent("archive"), "archive", "write_parquet", time.Since(start), logger.Fields{
		"records": len(records),
		"bytes":   size,
	})
	return key, size, nil
}

func (a *Archive) objectKey() string {
	now := a.now().UTC()
	name := fmt.Sprintf("history_%s_%s.parquet", now.Format("20060102150405"), uuid.NewString())
	return path.Join(a.prefix, "date="+now.Format("2006-01-02"), name)
}

func (a *Archive) upload(ctx context.Context, key string, records []historyRecord) (int64, error) {
	mem := newMemFile()
	if err := writeParquet(mem, records); err != nil {
		return 0, err
	}
	data := mem.Bytes()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	_, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"compression":  "snappy",
		},
	})
	if err != nil {
		return 0, fmt.Errorf("upload history parquet: %w", err)
	}
	return int64(len(data)), nil
}

func writeLocalParquet(p string, records []historyRecord) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("create archive dir: %w", err)
	}
	fw, err := local.NewLocalFileWriter(p)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", p, err)
	}
	if err := writeParquet(fw, records); err != nil {
		fw.Close()
		return 0, err
	}
	if err := fw.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", p, err)
	}
	info, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func writeParquet(fw source.ParquetFile, records []historyRecord) error {
	pw, err := writer.NewParquetWriter(fw, new(historyRecord), 1)
	if err != nil {
		return fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return fmt.Errorf("write history record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize history parquet: %w", err)
	}
	return nil
}

// flattenSnapshot emits rows ordered by symbol, then timeframe, then time.
func flattenSnapshot(snap models.Snapshot, at time.Time) []historyRecord {
	syms := make([]string, 0, len(snap.Prices))
	for sym, rec := range snap.Prices {
		if rec != nil {
			syms = append(syms, sym)
		}
	}
	sort.Strings(syms)

	stamp := at.UnixMilli()
	var out []historyRecord
	for _, sym := range syms {
		rec := snap.Prices[sym]
		for _, tf := range models.TimeframeNames() {
			for _, s := range rec.History[tf] {
				out = append(out, historyRecord{
					Symbol:       sym,
					Timeframe:    tf,
					Timestamp:    s.Timestamp,
					Price:        s.Price,
					SnapshotTime: stamp,
				})
			}
		}
	}
	return out
}
