package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the minio-backed MessageStore used when the relay runs as
// a stateless fleet: any instance can serve a reconnecting recipient
// because buffered frames live in shared object storage rather than a
// single process's memory.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore connects to a minio (or any S3-compatible) endpoint and
// ensures the bucket exists.
func NewObjectStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*ObjectStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}

	return &ObjectStore{client: client, bucket: bucket}, nil
}

func objectKey(recipientID string, sequence uint32) string {
	return fmt.Sprintf("offline/%s/%010d", recipientID, sequence)
}

func recipientPrefix(recipientID string) string {
	return fmt.Sprintf("offline/%s/", recipientID)
}

// Enqueue implements MessageStore by writing one object per
// (recipient, sequence). Purge relies on the object store's own
// last-modified timestamp rather than embedded metadata to apply the
// retention window.
func (s *ObjectStore) Enqueue(ctx context.Context, msg StoredMessage) error {
	count, err := s.Count(ctx, msg.RecipientID)
	if err != nil {
		return err
	}
	if count >= DefaultCapacityPerRecipient {
		if err := s.evictOldest(ctx, msg.RecipientID); err != nil {
			return err
		}
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectKey(msg.RecipientID, msg.Sequence),
		bytes.NewReader(msg.Frame), int64(len(msg.Frame)), minio.PutObjectOptions{})
	return err
}

// Drain implements MessageStore: lists every object under the recipient's
// prefix, fetches each, then removes them all.
func (s *ObjectStore) Drain(ctx context.Context, recipientID string) ([]StoredMessage, error) {
	infos, err := s.listRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	messages := make([]StoredMessage, 0, len(infos))
	for _, info := range infos {
		obj, err := s.client.GetObject(ctx, s.bucket, info.Key, minio.GetObjectOptions{})
		if err != nil {
			continue
		}
		data, err := io.ReadAll(obj)
		obj.Close()
		if err != nil {
			continue
		}

		messages = append(messages, StoredMessage{
			RecipientID: recipientID,
			Sequence:    info.Sequence,
			Frame:       data,
			StoredAt:    info.StoredAt,
		})
		_ = s.client.RemoveObject(ctx, s.bucket, info.Key, minio.RemoveObjectOptions{})
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].Sequence < messages[j].Sequence })
	return messages, nil
}

// Count implements MessageStore.
func (s *ObjectStore) Count(ctx context.Context, recipientID string) (int, error) {
	infos, err := s.listRecipient(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	return len(infos), nil
}

// Purge implements MessageStore by scanning the whole bucket and removing
// anything stored before cutoff.
func (s *ObjectStore) Purge(ctx context.Context, cutoff time.Time) error {
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: "offline/", Recursive: true}) {
		if obj.Err != nil {
			continue
		}
		if obj.LastModified.Before(cutoff) {
			_ = s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{})
		}
	}
	return nil
}

type objectRef struct {
	Key      string
	Sequence uint32
	StoredAt time.Time
}

func (s *ObjectStore) listRecipient(ctx context.Context, recipientID string) ([]objectRef, error) {
	var refs []objectRef
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: recipientPrefix(recipientID), Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		parts := strings.Split(obj.Key, "/")
		seqStr := parts[len(parts)-1]
		var seq uint32
		if v, err := parseInt64(seqStr); err == nil {
			seq = uint32(v)
		}
		refs = append(refs, objectRef{Key: obj.Key, Sequence: seq, StoredAt: obj.LastModified})
	}
	return refs, nil
}

func (s *ObjectStore) evictOldest(ctx context.Context, recipientID string) error {
	refs, err := s.listRecipient(ctx, recipientID)
	if err != nil || len(refs) == 0 {
		return err
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Sequence < refs[j].Sequence })
	return s.client.RemoveObject(ctx, s.bucket, refs[0].Key, minio.RemoveObjectOptions{})
}

func parseInt64(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
