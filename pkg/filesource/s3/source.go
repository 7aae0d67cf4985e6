// Package s3 provides a [filesource.Source] backed by an S3-compatible bucket
// (AWS S3 or MinIO).
//
// Object keys below Config.Prefix play the role of file paths. Patterns use
// the same syntax as the local source ([path.Match]): '*' does not cross a
// '/'. Sizes reported by ListObjectsV2 are remembered so the collection can
// record them without a HEAD request per object.
package s3

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/MrWong99/photobox/pkg/filesource"
)

// Compile-time interface checks.
var (
	_ filesource.Source = (*Source)(nil)
	_ filesource.Sizer  = (*Source)(nil)
)

// Config holds the bucket location and optional static credentials. When
// AccessKeyID is empty the default AWS credential chain is used.
type Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// Source lists objects in one bucket.
type Source struct {
	client s3.ListObjectsV2APIClient
	bucket string
	prefix string

	mu    sync.RWMutex
	sizes map[string]int64
}

// New builds a Source from cfg using the AWS SDK default configuration.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 source: bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 source: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient returns a Source using an existing client. prefix is
// stripped from returned keys; a trailing slash is added if missing.
func NewWithClient(client s3.ListObjectsV2APIClient, bucket, prefix string) *Source {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Source{client: client, bucket: bucket, prefix: prefix, sizes: make(map[string]int64)}
}

// Glob implements [filesource.Source].
func (s *Source) Glob(ctx context.Context, pattern string) ([]string, error) {
	if strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("%w: %q must be relative to the bucket prefix", filesource.ErrBadPattern, pattern)
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", filesource.ErrBadPattern, pattern, err)
	}

	listPrefix := s.prefix + literalPrefix(pattern)
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(listPrefix),
	})

	var out []string
	found := make(map[string]int64)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 source: list %s/%s: %w", s.bucket, listPrefix, err)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if rel == "" || strings.HasSuffix(rel, "/") {
				continue
			}
			if ok, _ := path.Match(pattern, rel); !ok {
				continue
			}
			out = append(out, rel)
			found[rel] = aws.ToInt64(obj.Size)
		}
	}

	s.mu.Lock()
	for k, v := range found {
		s.sizes[k] = v
	}
	s.mu.Unlock()

	slices.Sort(out)
	return out, nil
}

// Size implements [filesource.Sizer] from the sizes seen by earlier Globs.
func (s *Source) Size(_ context.Context, key string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.sizes[key]
	return n, ok
}

// literalPrefix returns the part of pattern before its first meta character.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
