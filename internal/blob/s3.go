// Package blob issues presigned URLs for attachment objects in S3.
package blob

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/roelfdiedericks/chatgate/internal/config"
	. "github.com/roelfdiedericks/chatgate/internal/logging"
)

const (
	// UploadPrefix is prepended to every uploaded object key
	UploadPrefix = "users/uploads/"

	DefaultExpiry    = time.Hour
	DefaultMaxUpload = 20 * 1024 * 1024
)

var (
	// ErrTooLarge is returned for uploads above the configured size limit
	ErrTooLarge = errors.New("file size too large")
	// ErrInvalidSize is returned when the declared size is not a number
	ErrInvalidSize = errors.New("invalid file size")
	// ErrNoBucket is returned when no bucket is configured
	ErrNoBucket = errors.New("blob: no bucket configured")
)

var (
	whitespace  = regexp.MustCompile(`\s+`)
	unsafeChars = regexp.MustCompile(`[^\w.-]`)
)

// SanitizeFileName makes a client file name safe for use in an object key
func SanitizeFileName(name string) string {
	return unsafeChars.ReplaceAllString(whitespace.ReplaceAllString(name, "_"), "")
}

// Upload is a presigned PUT target handed to the client
type Upload struct {
	URL    string `json:"url"`
	Key    string `json:"key"`
	FileID string `json:"fileId"`
}

// Presigner signs GET and PUT requests against one bucket
type Presigner struct {
	presign      *s3.PresignClient
	bucket       string
	readExpiry   time.Duration
	uploadExpiry time.Duration
	maxUpload    int64
}

// NewPresigner creates a presigner from the blob config. Static keys are
// used when set; otherwise the default AWS credential chain applies.
func NewPresigner(ctx context.Context, cfg config.BlobConfig) (*Presigner, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	p := &Presigner{
		presign:      s3.NewPresignClient(client),
		bucket:       cfg.Bucket,
		readExpiry:   seconds(cfg.ReadExpirySeconds, DefaultExpiry),
		uploadExpiry: seconds(cfg.UploadExpirySeconds, DefaultExpiry),
		maxUpload:    cfg.MaxUploadBytes,
	}
	if p.maxUpload <= 0 {
		p.maxUpload = DefaultMaxUpload
	}

	L_info("blob: presigner ready", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)
	return p, nil
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// ReadURL returns a time-limited GET URL for key
func (p *Presigner) ReadURL(ctx context.Context, key string) (string, error) {
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.readExpiry))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return req.URL, nil
}

// UploadURL returns a presigned PUT for a new object. fileSize is the
// decimal byte count as sent by the client.
func (p *Presigner) UploadURL(ctx context.Context, fileName, fileSize, fileType string) (*Upload, error) {
	size, err := strconv.ParseInt(strings.TrimSpace(fileSize), 10, 64)
	if err != nil || size < 0 {
		return nil, ErrInvalidSize
	}
	if size > p.maxUpload {
		return nil, ErrTooLarge
	}

	fileID := uuid.NewString() + "_" + SanitizeFileName(fileName)
	key := UploadPrefix + fileID

	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}
	if fileType != "" {
		input.ContentType = aws.String(fileType)
	}
	req, err := p.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(p.uploadExpiry))
	if err != nil {
		return nil, fmt.Errorf("presign put %s: %w", key, err)
	}

	L_debug("blob: upload url issued", "key", key, "size", size, "type", fileType)
	return &Upload{URL: req.URL, Key: key, FileID: fileID}, nil
}
