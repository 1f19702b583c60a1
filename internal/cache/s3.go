package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/snarg/yt-transcripts/internal/config"
	"github.com/snarg/yt-transcripts/internal/transcript"
	"github.com/snarg/yt-transcripts/internal/videoid"
)

const entryContentType = "application/json"

// S3Store stores entries as JSON objects in an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewS3Store creates an S3 transcript store from config.
func NewS3Store(cfg config.S3Config, log zerolog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log.With().Str("component", "s3-store").Logger(),
	}, nil
}

// HeadBucket checks that the bucket exists and credentials are valid.
func (s *S3Store) HeadBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &s.bucket,
	})
	return err
}

func (s *S3Store) Get(ctx context.Context, id videoid.ID) (*transcript.Entry, error) {
	key := s.objectKey(id)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("read", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, wrap("read", id, err)
	}
	entry, err := transcript.DecodeEntry(data)
	if err != nil {
		return nil, wrap("decode", id, err)
	}
	if entry.VideoID == "" {
		entry.VideoID = id.String()
	}
	if entry.FetchedAt.IsZero() && out.LastModified != nil {
		entry.FetchedAt = out.LastModified.UTC()
	}
	return entry, nil
}

func (s *S3Store) Put(ctx context.Context, id videoid.ID, t transcript.Transcript) error {
	return s.putEntry(ctx, newEntry(id, t))
}

func (s *S3Store) putEntry(ctx context.Context, e *transcript.Entry) error {
	id := videoid.ID(e.VideoID)
	data, err := transcript.EncodeEntry(e)
	if err != nil {
		return wrap("encode", id, err)
	}
	key := s.objectKey(id)
	ct := entryContentType
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &ct,
	})
	return wrap("write", id, err)
}

func (s *S3Store) Exists(ctx context.Context, id videoid.ID) (bool, error) {
	key := s.objectKey(id)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, wrap("stat", id, err)
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, id videoid.ID) error {
	key := s.objectKey(id)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	return wrap("delete", id, err)
}

func (s *S3Store) List(ctx context.Context) ([]videoid.ID, error) {
	prefix := s.keyPrefix()
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})

	var ids []videoid.ID
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, wrap("list", "", err)
		}
		for _, obj := range page.Contents {
			if id, ok := s.idFromKey(aws.ToString(obj.Key)); ok {
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *S3Store) Type() string { return "s3" }

func (s *S3Store) Close() error { return nil }

func (s *S3Store) keyPrefix() string {
	if s.prefix != "" {
		return s.prefix + "/transcripts/"
	}
	return "transcripts/"
}

func (s *S3Store) objectKey(id videoid.ID) string {
	return s.keyPrefix() + id.String() + entryExt
}

func (s *S3Store) idFromKey(key string) (videoid.ID, bool) {
	rest, ok := strings.CutPrefix(key, s.keyPrefix())
	if !ok || strings.Contains(rest, "/") || path.Ext(rest) != entryExt {
		return "", false
	}
	id, err := videoid.Validate(strings.TrimSuffix(rest, entryExt))
	return id, err == nil
}

// isNotFound reports whether err is the S3 "no such object" response. GetObject
// returns NoSuchKey; HeadObject has no body so it only carries NotFound.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
