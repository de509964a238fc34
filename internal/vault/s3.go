package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"geosync/internal/config"
	"geosync/internal/server"
)

const (
	s3VersionKey     = "version"
	s3DefaultTimeout = 10 * time.Minute
)

// s3API is the subset of the S3 client used by S3Vault.
type s3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Vault stores content and metadata as objects in an S3 bucket:
//
//	<prefix>/content/<checksum>
//	<prefix>/metadata/<scope>/<name>   (version in object metadata)
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   s3API
	uploader *manager.Uploader
	timeout  time.Duration
}

var _ server.Vault = (*S3Vault)(nil)

// NewS3Vault creates a vault over the configured bucket. Static credentials
// are used when an access key is configured, the default AWS credential
// chain otherwise.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})
	return newS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

func newS3Vault(name, bucket, prefix string, client s3API) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
		timeout:  s3DefaultTimeout,
	}
}

func (v *S3Vault) contentKey(checksum string) string {
	return path.Join(v.prefix, "content", checksum)
}

func (v *S3Vault) metadataKey(scope, name string) string {
	return path.Join(v.prefix, "metadata", scope, name)
}

func (v *S3Vault) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), v.timeout)
}

// PutContent uploads content under its checksum.
func (v *S3Vault) PutContent(checksum string, r io.Reader, size int64) error {
	if err := validateName(checksum); err != nil {
		return err
	}
	return v.put(v.contentKey(checksum), r, size, nil)
}

// GetContent downloads content by checksum into w.
func (v *S3Vault) GetContent(checksum string, w io.Writer) error {
	if err := validateName(checksum); err != nil {
		return err
	}
	return v.get(v.contentKey(checksum), w, fmt.Sprintf("content not found: %s", checksum))
}

// PutMetadata uploads a metadata item with its version in the object metadata.
func (v *S3Vault) PutMetadata(scope string, name string, r io.Reader, size int64, version int64) error {
	if err := validateName(scope); err != nil {
		return err
	}
	meta := map[string]string{s3VersionKey: strconv.FormatInt(version, 10)}
	return v.put(v.metadataKey(scope, name), r, size, meta)
}

// GetMetadata downloads a metadata item into w.
func (v *S3Vault) GetMetadata(scope string, name string, w io.Writer) error {
	if err := validateName(scope); err != nil {
		return err
	}
	return v.get(v.metadataKey(scope, name), w, fmt.Sprintf("metadata %q not found in scope: %s", name, scope))
}

// GetMetadataVersion reads the version of a metadata item, 0 when absent.
func (v *S3Vault) GetMetadataVersion(scope string, name string) (int64, error) {
	if err := validateName(scope); err != nil {
		return 0, err
	}
	ctx, cancel := v.context()
	defer cancel()

	out, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.metadataKey(scope, name)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading metadata version: %w", err)
	}
	raw, ok := out.Metadata[s3VersionKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the bucket is reachable.
func (v *S3Vault) ValidateSetup() error {
	ctx, cancel := v.context()
	defer cancel()
	if _, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func (v *S3Vault) put(key string, r io.Reader, size int64, meta map[string]string) error {
	ctx, cancel := v.context()
	defer cancel()

	counter := &countingReader{r: r}
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(v.bucket),
		Key:      aws.String(key),
		Body:     counter,
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	if counter.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	return nil
}

func (v *S3Vault) get(key string, w io.Writer, notFoundMsg string) error {
	ctx, cancel := v.context()
	defer cancel()

	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s", notFoundMsg)
		}
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
