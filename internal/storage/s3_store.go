package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

const objectTypeMetaKey = "object-type"

// S3Config configures an S3-compatible object store.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// S3Store keeps objects in an S3-compatible bucket:
//
//	<prefix>/objects/<hash>
//	<prefix>/refs/<name>
type S3Store struct {
	client     *minio.Client
	bucketName string
	region     string
	prefix     string
	initOnce   sync.Once
	initErr    error
}

// NewS3Store returns a store for the bucket in cfg. The bucket is created on first use
// when missing.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Store{
		client:     client,
		bucketName: bucket,
		region:     region,
		prefix:     prefix,
	}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Put uploads obj under its content hash.
func (s *S3Store) Put(ctx context.Context, obj *Object) (objectid.ContentHash, error) {
	hash, err := contentHash(obj)
	if err != nil {
		return objectid.Empty, err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return objectid.Empty, fmt.Errorf("ensure bucket: %w", err)
	}

	exists, err := s.Exists(ctx, hash)
	if err != nil {
		return objectid.Empty, err
	}
	if exists {
		return hash, nil
	}

	meta := map[string]string{objectTypeMetaKey: string(obj.Type)}
	for k, v := range obj.Metadata.Custom {
		meta[k] = v
	}
	_, err = s.client.PutObject(ctx, s.bucketName, s.objectKey(hash), bytes.NewReader(obj.Data), int64(len(obj.Data)), minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: meta,
	})
	if err != nil {
		return objectid.Empty, fmt.Errorf("put object %s: %w", hash.Short(), err)
	}
	return hash, nil
}

// Get downloads the object stored under hash.
func (s *S3Store) Get(ctx context.Context, hash objectid.ContentHash) (*Object, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucketName, s.objectKey(hash), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(hash, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(hash, err)
	}
	info, err := obj.Stat()
	if err != nil {
		return nil, s.mapErr(hash, err)
	}

	custom := make(map[string]string, len(info.UserMetadata))
	var objectType ObjectType
	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, objectTypeMetaKey) {
			objectType = ObjectType(v)
			continue
		}
		custom[strings.ToLower(k)] = v
	}
	return &Object{
		Hash: hash,
		Type: objectType,
		Size: int64(len(data)),
		Data: data,
		Metadata: Metadata{
			CreatedAt:    info.LastModified,
			LastAccessed: info.LastModified,
			RefCount:     1,
			Custom:       custom,
		},
	}, nil
}

// Exists reports whether an object is stored under hash.
func (s *S3Store) Exists(ctx context.Context, hash objectid.ContentHash) (bool, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return false, fmt.Errorf("ensure bucket: %w", err)
	}
	_, err := s.client.StatObject(ctx, s.bucketName, s.objectKey(hash), minio.StatObjectOptions{})
	if err != nil {
		if isMissing(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the object stored under hash.
func (s *S3Store) Delete(ctx context.Context, hash objectid.ContentHash) error {
	exists, err := s.Exists(ctx, hash)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound{Hash: hash}
	}
	return s.client.RemoveObject(ctx, s.bucketName, s.objectKey(hash), minio.RemoveObjectOptions{})
}

// List returns the hashes of every object of objectType.
func (s *S3Store) List(ctx context.Context, objectType ObjectType) ([]objectid.ContentHash, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	prefix := s.prefix + "objects/"
	var hashes []objectid.ContentHash
	for info := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, info.Err
		}
		hash, err := objectid.ParseContentHash(strings.TrimPrefix(info.Key, prefix))
		if err != nil {
			continue
		}
		if objectType != "" {
			stat, err := s.client.StatObject(ctx, s.bucketName, info.Key, minio.StatObjectOptions{})
			if err != nil {
				return nil, err
			}
			if ObjectType(lookupFold(stat.UserMetadata, objectTypeMetaKey)) != objectType {
				continue
			}
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// SetRef points name at hash.
func (s *S3Store) SetRef(ctx context.Context, name string, hash objectid.ContentHash) error {
	if !validRefName(name) {
		return fmt.Errorf("invalid ref name %q", name)
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	body := []byte(hash.String())
	_, err := s.client.PutObject(ctx, s.bucketName, s.prefix+"refs/"+name, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	return err
}

// GetRef resolves name.
func (s *S3Store) GetRef(ctx context.Context, name string) (objectid.ContentHash, bool, error) {
	if !validRefName(name) {
		return objectid.Empty, false, fmt.Errorf("invalid ref name %q", name)
	}
	if err := s.ensureBucket(ctx); err != nil {
		return objectid.Empty, false, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucketName, s.prefix+"refs/"+name, minio.GetObjectOptions{})
	if err != nil {
		if isMissing(err) {
			return objectid.Empty, false, nil
		}
		return objectid.Empty, false, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isMissing(err) {
			return objectid.Empty, false, nil
		}
		return objectid.Empty, false, err
	}
	hash, err := objectid.ParseContentHash(strings.TrimSpace(string(data)))
	if err != nil {
		return objectid.Empty, false, fmt.Errorf("parse ref %s: %w", name, err)
	}
	return hash, true, nil
}

// Close is a no-op; the client holds no open resources.
func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) objectKey(hash objectid.ContentHash) string {
	return s.prefix + "objects/" + hash.String()
}

func (s *S3Store) mapErr(hash objectid.ContentHash, err error) error {
	if isMissing(err) {
		return ErrNotFound{Hash: hash}
	}
	return err
}

func isMissing(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func lookupFold(m map[string]string, key string) string {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
