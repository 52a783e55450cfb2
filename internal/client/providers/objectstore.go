package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pixelartvj/officesync/internal/client/models"
)

// ObjectAPI is the subset of the S3 client used by ObjectStore.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) ObjectAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Config describes the bucket the object store provider writes to.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// ObjectStore keeps one JSON document per user and entity in a bucket.
type ObjectStore struct {
	api    ObjectAPI
	bucket string
}

// NewObjectStore builds an S3 client from cfg. A custom endpoint switches
// to path-style addressing for MinIO-like servers.
func NewObjectStore(ctx context.Context, cfg S3Config) (*ObjectStore, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	api := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewObjectStoreWithAPI(api, cfg.Bucket), nil
}

func NewObjectStoreWithAPI(api ObjectAPI, bucket string) *ObjectStore {
	return &ObjectStore{api: api, bucket: bucket}
}

func (o *ObjectStore) Name() string { return NameObjectStore }

func objectKey(userID, entity string) string {
	return fmt.Sprintf("officesync/%s/%s.json", userID, entity)
}

func isMissingObject(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (o *ObjectStore) FetchEntity(ctx context.Context, userID, entity string) ([]models.Record, error) {
	out, err := o.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(objectKey(userID, entity)),
	})
	if err != nil {
		if isMissingObject(err) {
			return nil, nil
		}
		return nil, err
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}

	var recs []models.Record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("object %s: %w", objectKey(userID, entity), err)
	}
	return recs, nil
}

func (o *ObjectStore) write(ctx context.Context, userID, entity string, recs []models.Record) error {
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	_, err = o.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(objectKey(userID, entity)),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (o *ObjectStore) PushEntity(ctx context.Context, userID, entity string, records []models.Record) error {
	current, err := o.FetchEntity(ctx, userID, entity)
	if err != nil {
		return err
	}
	return o.write(ctx, userID, entity, mergeByID(current, records))
}

func (o *ObjectStore) DeleteRecord(ctx context.Context, userID, entity, id string) error {
	current, err := o.FetchEntity(ctx, userID, entity)
	if err != nil {
		return err
	}
	return o.write(ctx, userID, entity, withoutID(current, id))
}

func (o *ObjectStore) HealthCheck(ctx context.Context) error {
	_, err := o.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(o.bucket)})
	return err
}
