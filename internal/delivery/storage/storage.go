// Package storage implements the storage delivery channel (§4.10): write
// an export's bytes to a local path or S3 object, keyed by a path
// template, with optional autoCleanup after N days.
package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	aerrors "github.com/auditrail/auditrail/internal/errors"
)

// Provider names a storage backend.
type Provider string

const (
	ProviderLocal Provider = "local"
	ProviderS3    Provider = "s3"
)

// Config parameterizes one storage delivery.
type Config struct {
	Provider        Provider
	PathTemplate    string // may reference {organizationId}, {reportId}, {ext}
	Bucket          string // s3 only
	AutoCleanupDays int    // 0 disables cleanup
}

// TemplateVars fills a PathTemplate.
type TemplateVars struct {
	OrganizationID string
	ReportID       string
	Ext            string
}

func renderPath(tmpl string, vars TemplateVars) string {
	r := strings.NewReplacer(
		"{organizationId}", vars.OrganizationID,
		"{reportId}", vars.ReportID,
		"{ext}", vars.Ext,
	)
	return r.Replace(tmpl)
}

// s3API is the narrow S3 surface Channel calls.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Channel implements the storage delivery channel over local disk or S3.
type Channel struct {
	s3Client s3API
	baseDir  string
}

// NewChannel builds a Channel. s3Client may be nil when only local
// delivery is used.
func NewChannel(s3Client s3API, baseDir string) *Channel {
	return &Channel{s3Client: s3Client, baseDir: baseDir}
}

// Write places data at the config's templated path.
func (c *Channel) Write(ctx context.Context, cfg Config, vars TemplateVars, data []byte) (string, error) {
	path := renderPath(cfg.PathTemplate, vars)

	switch cfg.Provider {
	case ProviderS3:
		if c.s3Client == nil {
			return "", aerrors.New(aerrors.KindConfig, "storage", "s3 client not configured")
		}
		if _, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(cfg.Bucket), Key: aws.String(path), Body: bytes.NewReader(data),
		}); err != nil {
			return "", aerrors.Wrap(aerrors.KindNetwork, "storage", err)
		}
		return "s3://" + cfg.Bucket + "/" + path, nil
	case ProviderLocal:
		full := filepath.Join(c.baseDir, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return "", aerrors.Wrap(aerrors.KindInternal, "storage", err)
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return "", aerrors.Wrap(aerrors.KindInternal, "storage", err)
		}
		return full, nil
	default:
		return "", aerrors.New(aerrors.KindConfig, "storage", "unknown storage provider: "+string(cfg.Provider))
	}
}

// CleanupOlderThan deletes objects/files under prefix older than
// AutoCleanupDays, implementing §4.10's "retention (autoCleanup after N
// days)".
func (c *Channel) CleanupOlderThan(ctx context.Context, cfg Config, prefix string) (int, error) {
	if cfg.AutoCleanupDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -cfg.AutoCleanupDays)

	switch cfg.Provider {
	case ProviderS3:
		if c.s3Client == nil {
			return 0, aerrors.New(aerrors.KindConfig, "storage", "s3 client not configured")
		}
		out, err := c.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(cfg.Bucket), Prefix: aws.String(prefix)})
		if err != nil {
			return 0, aerrors.Wrap(aerrors.KindNetwork, "storage", err)
		}
		deleted := 0
		for _, obj := range out.Contents {
			if obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				if _, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(cfg.Bucket), Key: obj.Key}); err != nil {
					return deleted, aerrors.Wrap(aerrors.KindNetwork, "storage", err)
				}
				deleted++
			}
		}
		return deleted, nil
	case ProviderLocal:
		dir := filepath.Join(c.baseDir, prefix)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return 0, nil
			}
			return 0, aerrors.Wrap(aerrors.KindInternal, "storage", err)
		}
		deleted := 0
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
					deleted++
				}
			}
		}
		return deleted, nil
	default:
		return 0, aerrors.New(aerrors.KindConfig, "storage", "unknown storage provider: "+string(cfg.Provider))
	}
}
