// Package backup takes encrypted snapshots of the events database and
// optionally ships them to S3-compatible storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "modernc.org/sqlite"
)

const (
	filePrefix = "famevents-"
	fileSuffix = ".db.enc"
	stampFmt   = "2006-01-02T150405Z"
)

// s3Client is the subset of the S3 API used here.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Prefix    string `yaml:"prefix"`
}

// Enabled reports whether uploads are configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	Dir        string
	Passphrase string
	// Retention is how long snapshots are kept. Zero keeps everything.
	Retention time.Duration
	S3        S3Config
}

// Result describes one completed snapshot.
type Result struct {
	Path     string
	Key      string
	Size     int64
	Uploaded bool
}

type Manager struct {
	db     *sql.DB
	cfg    Config
	client s3Client
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(db *sql.DB, cfg Config, logger *slog.Logger) *Manager {
	m := &Manager{db: db, cfg: cfg, logger: logger, now: time.Now}
	if cfg.S3.Enabled() {
		m.client = newS3Client(cfg.S3)
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Run snapshots the database, encrypts it into the backup directory and
// uploads it when S3 is configured, then prunes expired snapshots.
func (m *Manager) Run(ctx context.Context) (Result, error) {
	if err := os.MkdirAll(m.cfg.Dir, 0o700); err != nil {
		return Result{}, fmt.Errorf("create backup dir: %w", err)
	}

	name := filePrefix + m.now().UTC().Format(stampFmt) + fileSuffix
	raw := filepath.Join(m.cfg.Dir, "."+name+".tmp")
	defer os.Remove(raw)

	// VACUUM INTO produces a consistent copy without blocking writers.
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO '`+strings.ReplaceAll(raw, "'", "''")+`'`); err != nil {
		return Result{}, fmt.Errorf("snapshot database: %w", err)
	}
	plain, err := os.ReadFile(raw)
	if err != nil {
		return Result{}, fmt.Errorf("read snapshot: %w", err)
	}

	var buf bytes.Buffer
	if err := Seal(&buf, plain, m.cfg.Passphrase); err != nil {
		return Result{}, err
	}

	res := Result{Path: filepath.Join(m.cfg.Dir, name), Size: int64(buf.Len())}
	if err := os.WriteFile(res.Path, buf.Bytes(), 0o600); err != nil {
		return Result{}, fmt.Errorf("write snapshot: %w", err)
	}

	if m.client != nil {
		res.Key = m.cfg.S3.Prefix + name
		_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(m.cfg.S3.Bucket),
			Key:           aws.String(res.Key),
			Body:          bytes.NewReader(buf.Bytes()),
			ContentLength: aws.Int64(res.Size),
		})
		if err != nil {
			return res, fmt.Errorf("upload to s3: %w", err)
		}
		res.Uploaded = true
	}

	m.logger.Info("backup complete", "path", res.Path, "bytes", res.Size, "uploaded", res.Uploaded)

	if m.cfg.Retention > 0 {
		if err := m.Prune(ctx); err != nil {
			m.logger.Warn("prune backups", "error", err)
		}
	}
	return res, nil
}

// Prune removes snapshots older than the retention period, locally and in
// the bucket.
func (m *Manager) Prune(ctx context.Context) error {
	cutoff := m.now().UTC().Add(-m.cfg.Retention)

	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return fmt.Errorf("read backup dir: %w", err)
	}
	for _, e := range entries {
		if ts, ok := snapshotTime(e.Name()); ok && ts.Before(cutoff) {
			if err := os.Remove(filepath.Join(m.cfg.Dir, e.Name())); err != nil {
				m.logger.Warn("remove old backup", "file", e.Name(), "error", err)
			}
		}
	}

	if m.client == nil {
		return nil
	}
	out, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Prefix: aws.String(m.cfg.S3.Prefix + filePrefix),
	})
	if err != nil {
		return fmt.Errorf("list s3 backups: %w", err)
	}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		ts, ok := snapshotTime(strings.TrimPrefix(key, m.cfg.S3.Prefix))
		if !ok || !ts.Before(cutoff) {
			continue
		}
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete s3 backup", "key", key, "error", err)
		}
	}
	return nil
}

// List returns the local snapshot files, newest first.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if _, ok := snapshotTime(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func snapshotTime(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	ts, err := time.Parse(stampFmt, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Restore decrypts the snapshot at src, checks its integrity and writes it
// to dbPath. The server must not be running against dbPath.
func Restore(ctx context.Context, src, dbPath, passphrase string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	plain, err := Open(data, passphrase)
	if err != nil {
		return err
	}

	tmp := dbPath + ".restore"
	if err := os.WriteFile(tmp, plain, 0o600); err != nil {
		return fmt.Errorf("write restored db: %w", err)
	}
	defer os.Remove(tmp)

	if err := integrityCheck(ctx, tmp); err != nil {
		return err
	}

	if err := os.Rename(tmp, dbPath); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")
	return nil
}

func integrityCheck(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
