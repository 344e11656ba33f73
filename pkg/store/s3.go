package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	log "github.com/rs/zerolog/log"

	"github.com/beam-cloud/vafs/pkg/vfserr"
)

// S3StoreOpts configures an S3Store.
type S3StoreOpts struct {
	Region    string
	AccessKey string // falls back to AWS_ACCESS_KEY_ID / default chain
	SecretKey string // falls back to AWS_SECRET_ACCESS_KEY / default chain
	Endpoint  string // optional S3-compatible endpoint override
}

// S3Store is the Store implementation backed by AWS S3 (or an
// S3-compatible object store reached via opts.Endpoint).
type S3Store struct {
	svc *s3.Client
}

// NewS3Store builds an S3Store, resolving credentials in order: explicit
// opts, then environment, then the SDK's default provider chain.
func NewS3Store(ctx context.Context, opts S3StoreOpts) (*S3Store, error) {
	accessKey := opts.AccessKey
	if accessKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	secretKey := opts.SecretKey
	if secretKey == "" {
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}

	var cfg aws.Config
	var err error
	if accessKey == "" || secretKey == "" {
		cfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
	} else {
		creds := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		cfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region), config.WithCredentialsProvider(creds))
	}
	if err != nil {
		return nil, vfserr.Wrap(vfserr.Transport, "load aws config", err)
	}

	var svcOpts []func(*s3.Options)
	if opts.Endpoint != "" {
		svcOpts = append(svcOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{svc: s3.NewFromConfig(cfg, svcOpts...)}, nil
}

func (s *S3Store) Head(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := s.svc.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, vfserr.Wrap(vfserr.NotFound, fmt.Sprintf("head %s/%s", bucket, key), err)
		}
		return ObjectInfo{}, vfserr.Wrap(vfserr.Transport, fmt.Sprintf("head %s/%s", bucket, key), err)
	}

	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return ObjectInfo{Size: size}, nil
}

func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.svc.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, vfserr.Wrap(vfserr.NotFound, fmt.Sprintf("get %s/%s", bucket, key), err)
		}
		return nil, vfserr.Wrap(vfserr.Transport, fmt.Sprintf("get %s/%s", bucket, key), err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, vfserr.Wrap(vfserr.Transport, fmt.Sprintf("read body %s/%s", bucket, key), err)
	}
	return b, nil
}

func (s *S3Store) GetRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error) {
	if offset < 0 || length <= 0 {
		return nil, vfserr.New(vfserr.InvalidFormat, fmt.Sprintf("invalid range offset=%d length=%d", offset, length))
	}

	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := s.svc.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, vfserr.Wrap(vfserr.NotFound, fmt.Sprintf("range get %s/%s", bucket, key), err)
		}
		return nil, vfserr.Wrap(vfserr.Transport, fmt.Sprintf("range get %s/%s [%s]", bucket, key, rangeHeader), err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, vfserr.Wrap(vfserr.Transport, fmt.Sprintf("read range body %s/%s", bucket, key), err)
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Int64("offset", offset).Int("bytes", len(b)).Msg("range read")
	return b, nil
}

func (s *S3Store) List(ctx context.Context, bucket, prefix, delim string) (ListResult, error) {
	var result ListResult
	var continuationToken *string

	for {
		out, err := s.svc.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String(delim),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return ListResult{}, vfserr.Wrap(vfserr.Transport, fmt.Sprintf("list %s/%s", bucket, prefix), err)
		}

		for _, cp := range out.CommonPrefixes {
			if cp.Prefix != nil {
				result.CommonPrefixes = append(result.CommonPrefixes, *cp.Prefix)
			}
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			size := int64(0)
			if obj.Size != nil {
				size = *obj.Size
			}
			result.Objects = append(result.Objects, ObjectEntry{Key: *obj.Key, Size: size})
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	return result, nil
}

func (s *S3Store) ListBuckets(ctx context.Context) ([]string, error) {
	out, err := s.svc.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, vfserr.Wrap(vfserr.Transport, "list buckets", err)
	}

	buckets := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		if b.Name != nil {
			buckets = append(buckets, *b.Name)
		}
	}
	return buckets, nil
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	var nb *types.NoSuchBucket
	if errors.As(err, &nf) || errors.As(err, &nb) {
		return true
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}

	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404")
}
