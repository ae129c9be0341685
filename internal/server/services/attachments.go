package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/notesync/internal/common"
	sc "github.com/dmitrijs2005/notesync/internal/server/config"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
)

// Presigned is an upload slot for one attachment.
type Presigned struct {
	Key       string
	URL       string
	ExpiresAt time.Time
}

// AttachmentService hands out presigned PUT URLs for note screenshots.
type AttachmentService struct {
	config *sc.Config
	now    func() time.Time
}

func NewAttachmentService(cfg *sc.Config) *AttachmentService {
	return &AttachmentService{config: cfg, now: time.Now}
}

// StorageKey places an attachment under its owner and note.
func StorageKey(userID, noteID string) string {
	return fmt.Sprintf("users/%s/notes/%s/%s", userID, noteID, uuid.NewString())
}

func (s *AttachmentService) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return newS3PresignClient(client), nil
}

// Presign returns a PUT URL for a new attachment of noteID.
func (s *AttachmentService) Presign(ctx context.Context, userID, noteID, contentType string) (*Presigned, error) {
	noteID = strings.TrimSpace(noteID)
	if noteID == "" || strings.Contains(noteID, "/") {
		return nil, common.NewValidationError("attachments.presign", "invalid note id")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("error creating presign client: %w", err)
	}

	bucket := s.config.S3Bucket
	key := StorageKey(userID, noteID)
	expires := s.now().Add(s.config.PresignTTL)

	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		ContentType: &contentType,
	}, s3.WithPresignExpires(s.config.PresignTTL))
	if err != nil {
		return nil, fmt.Errorf("error presigning upload: %w", err)
	}

	return &Presigned{Key: key, URL: req.URL, ExpiresAt: expires}, nil
}
