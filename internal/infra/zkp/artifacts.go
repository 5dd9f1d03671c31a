package zkp

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
)

// Artifact names served to clients.
const (
	ArtifactCircuit         = "circuit.wasm"
	ArtifactProvingKey      = "circuit_final.zkey"
	ArtifactVerificationKey = "verification_key.json"
)

// ArtifactPaths locates the circuit artifacts. Each path is a local file or s3://bucket/key.
type ArtifactPaths struct {
	Circuit         string
	ProvingKey      string
	VerificationKey string
}

// S3Settings configures access to artifacts stored in S3 compatible storage.
type S3Settings struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// ObjectFetcher downloads a remote object.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// Artifacts holds the loaded circuit files and the parsed verifying key.
type Artifacts struct {
	blobs map[string][]byte
	Key   *VerifyingKey
}

// Get returns a loaded artifact by its public name.
func (a *Artifacts) Get(name string) ([]byte, bool) {
	blob, ok := a.blobs[name]
	return blob, ok
}

// ContentType maps an artifact name to its media type.
func ContentType(name string) string {
	switch name {
	case ArtifactCircuit:
		return "application/wasm"
	case ArtifactVerificationKey:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// LoadArtifacts reads every artifact. Any missing or unreadable artifact is a configuration error;
// the service must not start without them.
func LoadArtifacts(ctx context.Context, paths ArtifactPaths, fetcher ObjectFetcher, logger *zap.Logger) (*Artifacts, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := &Artifacts{blobs: make(map[string][]byte, 3)}
	for name, location := range map[string]string{
		ArtifactCircuit:         paths.Circuit,
		ArtifactProvingKey:      paths.ProvingKey,
		ArtifactVerificationKey: paths.VerificationKey,
	} {
		blob, err := readArtifact(ctx, location, fetcher)
		if err != nil {
			return nil, fmt.Errorf("%w: load %s: %v", domain.ErrProofEngineConfiguration, name, err)
		}
		if len(blob) == 0 {
			return nil, fmt.Errorf("%w: artifact %s is empty", domain.ErrProofEngineConfiguration, name)
		}
		out.blobs[name] = blob
		logger.Info("proof artifact loaded", zap.String("name", name), zap.Int("bytes", len(blob)))
	}

	vk, err := ParseVerifyingKey(out.blobs[ArtifactVerificationKey])
	if err != nil {
		return nil, err
	}
	out.Key = vk
	return out, nil
}

func readArtifact(ctx context.Context, location string, fetcher ObjectFetcher) ([]byte, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("path not configured")
	}
	if !strings.HasPrefix(location, "s3://") {
		return os.ReadFile(location)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("s3 location %s without s3 settings", location)
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", location, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return nil, fmt.Errorf("s3 location %s must be s3://bucket/key", location)
	}
	return fetcher.Fetch(ctx, u.Host, key)
}

// NeedsS3 reports whether any artifact lives in S3.
func (p ArtifactPaths) NeedsS3() bool {
	for _, location := range []string{p.Circuit, p.ProvingKey, p.VerificationKey} {
		if strings.HasPrefix(strings.TrimSpace(location), "s3://") {
			return true
		}
	}
	return false
}

// S3Fetcher reads objects with the AWS SDK.
type S3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher builds an S3 client. Static credentials are used when supplied, otherwise the
// default AWS credential chain applies.
func NewS3Fetcher(ctx context.Context, settings S3Settings) (*S3Fetcher, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(settings.Region)}
	if settings.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(settings.AccessKeyID, settings.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
		o.UsePathStyle = settings.UsePathStyle
	})
	return &S3Fetcher{client: client}, nil
}

// Fetch downloads bucket/key into memory.
func (f *S3Fetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s/%s: %w", bucket, key, err)
	}
	return blob, nil
}
