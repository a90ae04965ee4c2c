package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the s3:// destination. Empty fields fall back to the
// SDK's default chain (AWS_REGION, AWS_ACCESS_KEY_ID, shared config...).
type S3Config struct {
	Region          string
	Endpoint        string // S3-compatible stores (MinIO, R2...)
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// PutObjectAPI is the slice of the S3 client the sink uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds a client from cfg.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(dest string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(dest, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %s", dest)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url needs a bucket and key: %s", dest)
	}
	return bucket, key, nil
}

// Writer delivers an encoded export to its destination.
type Writer struct {
	Stdout io.Writer
	// S3 is created on first use when nil.
	S3       PutObjectAPI
	S3Config S3Config
}

// Write sends data to dest: "-" for stdout, s3://bucket/key, or a file path.
// Files are written atomically.
func (w *Writer) Write(ctx context.Context, dest string, data []byte, format Format) error {
	switch {
	case dest == "-":
		out := w.Stdout
		if out == nil {
			out = os.Stdout
		}
		_, err := out.Write(data)
		return err
	case strings.HasPrefix(dest, "s3://"):
		return w.writeS3(ctx, dest, data, format)
	case dest == "":
		return errors.New("export destination is required")
	default:
		return writeFile(dest, data)
	}
}

func (w *Writer) writeS3(ctx context.Context, dest string, data []byte, format Format) error {
	bucket, key, err := ParseS3URL(dest)
	if err != nil {
		return err
	}
	if w.S3 == nil {
		client, err := NewS3Client(ctx, w.S3Config)
		if err != nil {
			return err
		}
		w.S3 = client
	}
	contentType := "application/json"
	if format == FormatYAML {
		contentType = "application/yaml"
	}
	_, err = w.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("S3 put object failed: %w", err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".export-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
