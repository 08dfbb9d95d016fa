package blob

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store implements Store on top of the AWS SDK. It works against AWS S3 and
// S3 compatible endpoints.
type S3Store struct {
	api    *s3.Client
	bucket *string
}

func NewS3Store(api *s3.Client, bucket string) *S3Store {
	return &S3Store{api: api, bucket: aws.String(bucket)}
}

// sharedHTTPClient is reused by every store so buckets on the same endpoint
// share idle connections. No client timeout: each operation's context bounds it.
var sharedHTTPClient = sync.OnceValue(func() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          128,
			MaxIdleConnsPerHost:   64,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
})

// OpenS3Store loads an SDK client for cfg. SDK retries are disabled, the
// transfer manager owns retrying.
func OpenS3Store(ctx context.Context, cfg *StoreConfig) (*S3Store, error) {
	creds := cfg.Credentials
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		),
		config.WithRegion(cfg.region()),
		config.WithHTTPClient(sharedHTTPClient()),
		config.WithRetryMaxAttempts(1),
		config.WithAppID(cfg.AppID),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		} else {
			o.UseAccelerate = cfg.Accelerate
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return NewS3Store(api, cfg.Bucket), nil
}

func (s *S3Store) Bucket() string {
	return *s.bucket
}

func (s *S3Store) HeadBucket(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: s.bucket,
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, *s.bucket)
		}
		return classify("head bucket", err)
	}
	return nil
}

// ListBuckets lists every bucket the credentials can see. It does not use
// the store's bucket, so it also verifies credentials before any is chosen.
func (s *S3Store) ListBuckets(ctx context.Context) ([]string, error) {
	var names []string
	paginator := s3.NewListBucketsPaginator(s.api, &s3.ListBucketsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list buckets", err)
		}
		for _, b := range page.Buckets {
			names = append(names, aws.ToString(b.Name))
		}
	}
	return names, nil
}

// CreateBucket creates the store's bucket in the client's region.
func (s *S3Store) CreateBucket(ctx context.Context) error {
	input := &s3.CreateBucketInput{Bucket: s.bucket}
	// us-east-1 is the default location and rejects an explicit constraint
	if region := s.api.Options().Region; region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	if _, err := s.api.CreateBucket(ctx, input); err != nil {
		return classify("create bucket", err)
	}
	return nil
}

func (s *S3Store) GetObject(ctx context.Context, key string) (*GetObjectResponse, error) {
	resp, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, classify("get", err)
	}

	return &GetObjectResponse{
		Body:         resp.Body,
		Size:         aws.ToInt64(resp.ContentLength),
		ETag:         stripQuotes(resp.ETag),
		LastModified: aws.ToTime(resp.LastModified),
		Metadata:     resp.Metadata,
	}, nil
}

func (s *S3Store) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	resp, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, classify("head", err)
	}

	return &ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(resp.ContentLength),
		ETag:         stripQuotes(resp.ETag),
		LastModified: aws.ToTime(resp.LastModified),
		Metadata:     resp.Metadata,
	}, nil
}

func (s *S3Store) PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error) {
	input := &s3.PutObjectInput{
		Bucket:        s.bucket,
		Key:           &params.Key,
		Body:          params.Body,
		ContentLength: aws.Int64(params.Size),
		Metadata:      params.Metadata,
	}
	if params.ContentType != "" {
		input.ContentType = aws.String(params.ContentType)
	}

	resp, err := s.api.PutObject(ctx, input, unsignedPayload)
	if err != nil {
		return nil, classify("put", err)
	}

	// s3.PutObjectOutput does not have LastModified
	return &PutObjectResponse{
		Key:          params.Key,
		Size:         params.Size,
		Version:      aws.ToString(resp.VersionId),
		ETag:         stripQuotes(resp.ETag),
		LastModified: time.Now().UTC(),
	}, nil
}

func (s *S3Store) CreateMultipartUpload(ctx context.Context, params *CreateMultipartUploadParams) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket:   s.bucket,
		Key:      &params.Key,
		Metadata: params.Metadata,
	}
	if params.ContentType != "" {
		input.ContentType = aws.String(params.ContentType)
	}

	result, err := s.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", classify("create multipart", err)
	}
	return aws.ToString(result.UploadId), nil
}

func (s *S3Store) UploadPart(ctx context.Context, params *UploadPartParams) (*CompletedPart, error) {
	resp, err := s.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        s.bucket,
		Key:           &params.Key,
		UploadId:      &params.UploadID,
		PartNumber:    aws.Int32(int32(params.PartNumber)),
		ContentLength: aws.Int64(params.Size),
		Body:          params.Body,
	}, unsignedPayload)
	if err != nil {
		return nil, classify("upload part", err)
	}

	return &CompletedPart{
		PartNumber: params.PartNumber,
		ETag:       aws.ToString(resp.ETag),
	}, nil
}

func (s *S3Store) CompleteMultipartUpload(ctx context.Context, params *CompleteMultipartUploadParams) (*PutObjectResponse, error) {
	completedParts := make([]types.CompletedPart, len(params.Parts))
	for i, part := range params.Parts {
		completedParts[i] = types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(int32(part.PartNumber)),
		}
	}

	res, err := s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   s.bucket,
		Key:      &params.Key,
		UploadId: &params.UploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		return nil, classify("complete multipart", err)
	}

	return &PutObjectResponse{
		Key:          params.Key,
		Version:      aws.ToString(res.VersionId),
		ETag:         stripQuotes(res.ETag),
		LastModified: time.Now().UTC(),
	}, nil
}

func (s *S3Store) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   s.bucket,
		Key:      &key,
		UploadId: &uploadID,
	})
	if err != nil {
		return classify("abort multipart", err)
	}
	return nil
}

func (s *S3Store) DeleteObject(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: s.bucket,
		Key:    &key,
	})
	if err != nil {
		return classify("delete", err)
	}
	return nil
}

func (s *S3Store) ListObjects(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	var objects []*ObjectInfo

	input := &s3.ListObjectsV2Input{
		Bucket: s.bucket,
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(s.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// directory markers created by consoles
			if strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, &ObjectInfo{
				Key:          key,
				ETag:         stripQuotes(obj.ETag),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

// unsignedPayload lets streaming, non-seekable bodies through over plain HTTP
// endpoints.
func unsignedPayload(o *s3.Options) {
	o.APIOptions = append(o.APIOptions, v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware)
}

func stripQuotes(etag *string) string {
	return strings.ReplaceAll(aws.ToString(etag), "\"", "")
}

var _ Store = (*S3Store)(nil)
