package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/server/config"
)

const (
	backupPrefix        = "backups/"
	presignValidity     = 15 * time.Minute
	maxListedBackupKeys = 100
)

// Seams for tests; production code goes straight to the AWS SDK.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
	listObjects = func(c *s3.Client, ctx context.Context, in *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
		return c.ListObjectsV2(ctx, in)
	}
)

// BackupObject describes one uploaded backup.
type BackupObject struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// BackupService hands out presigned URLs so clients move backup files
// to and from object storage directly.
type BackupService struct {
	config *config.Config
	clock  clockwork.Clock
}

func NewBackupService(cfg *config.Config, clock clockwork.Clock) *BackupService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BackupService{config: cfg, clock: clock}
}

// StorageKey builds a fresh object key under the user's backup prefix.
func (s *BackupService) StorageKey(userID string) string {
	d := s.clock.Now().UTC()
	return fmt.Sprintf("%s%s/%04d/%02d/%02d/%s.json.gz", backupPrefix, userID, d.Year(), d.Month(), d.Day(), uuid.New())
}

func userPrefix(userID string) string {
	return backupPrefix + userID + "/"
}

func (s *BackupService) newClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.config.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// PresignUpload returns a new key and a PUT URL valid for 15 minutes.
func (s *BackupService) PresignUpload(ctx context.Context, userID string) (string, string, error) {
	client, err := s.newClient(ctx)
	if err != nil {
		return "", "", err
	}

	bucket := s.config.S3Bucket
	key := s.StorageKey(userID)

	req, err := presignPutObject(newS3PresignClient(client), ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignValidity))
	if err != nil {
		return "", "", err
	}
	return key, req.URL, nil
}

// PresignDownload returns a GET URL for one of the user's own backups.
func (s *BackupService) PresignDownload(ctx context.Context, userID, key string) (string, error) {
	if !strings.HasPrefix(key, userPrefix(userID)) {
		return "", common.ErrorUnauthorized
	}
	client, err := s.newClient(ctx)
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket
	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignValidity))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// List returns the user's most recent backups, newest first.
func (s *BackupService) List(ctx context.Context, userID string) ([]BackupObject, error) {
	client, err := s.newClient(ctx)
	if err != nil {
		return nil, err
	}

	out, err := listObjects(client, ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.config.S3Bucket),
		Prefix:  aws.String(userPrefix(userID)),
		MaxKeys: aws.Int32(maxListedBackupKeys),
	})
	if err != nil {
		return nil, err
	}

	objs := make([]BackupObject, 0, len(out.Contents))
	for _, o := range out.Contents {
		objs = append(objs, BackupObject{
			Key:          aws.ToString(o.Key),
			Size:         aws.ToInt64(o.Size),
			LastModified: aws.ToTime(o.LastModified),
		})
	}
	sort.SliceStable(objs, func(i, j int) bool {
		return objs[i].LastModified.After(objs[j].LastModified)
	})
	return objs, nil
}
