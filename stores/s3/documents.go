package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"studynotes-server/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// objectAPI is the part of the S3 client the store uses.
type objectAPI interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

type documentStore struct {
	client objectAPI
	bucket string
	prefix string
}

// NewDocumentStore stores each room as one text object under prefix.
func NewDocumentStore(ctx context.Context, bucket, prefix string) (core.DocumentStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newDocumentStore(awss3.NewFromConfig(cfg), bucket, prefix), nil
}

func newDocumentStore(client objectAPI, bucket, prefix string) *documentStore {
	return &documentStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *documentStore) key(roomID string) (string, error) {
	if !core.ValidRoomID(roomID) {
		return "", core.ErrInvalidRoomID
	}
	return path.Join(s.prefix, "rooms", core.RoomKey(roomID)+".txt"), nil
}

func (s *documentStore) Load(ctx context.Context, roomID string) (*core.Document, error) {
	key, err := s.key(roomID)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("room %s: %w", roomID, core.ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("get document for room %s: %w", roomID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read document for room %s: %w", roomID, err)
	}

	doc := &core.Document{Content: string(data)}
	if resp.LastModified != nil {
		doc.UpdatedAt = *resp.LastModified
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "key": key}).Debug("Document retrieved successfully")
	return doc, nil
}

func (s *documentStore) Save(ctx context.Context, roomID string, document *core.Document) error {
	key, err := s.key(roomID)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(document.Content)),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("put document for room %s: %w", roomID, err)
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "key": key}).Debug("Document saved successfully")
	return nil
}
