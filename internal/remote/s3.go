package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // for S3-compatible services; empty uses AWS
	PathStyle       bool
	AccessKeyID     string // empty uses the default credential chain
	SecretAccessKey string
}

// S3Store is a tripsync.RemoteStore kept in an S3 bucket, one object per
// record at <prefix>/<scope>/<kind>/<id>.json.
//
// Cursors are object modification times. S3 reports them at coarse
// granularity, so a fetch includes objects modified at exactly the cursor
// time again; merging is idempotent so the repeat is harmless.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store creates an S3Store from opts.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 remote requires a bucket")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
	}, nil
}

func (s *S3Store) kindPrefix(scope string, kind model.Kind) string {
	return path.Join(s.prefix, scope, string(kind)) + "/"
}

func (s *S3Store) key(scope string, kind model.Kind, id string) string {
	return s.kindPrefix(scope, kind) + id + ".json"
}

func (s *S3Store) Put(ctx context.Context, scope string, rec *tripsync.Record) (tripsync.Ack, error) {
	if err := checkPut(scope, rec); err != nil {
		return tripsync.Ack{}, err
	}
	if !validName(scope) || !validName(rec.ID) {
		return tripsync.Ack{}, tripsync.NewSyncError(tripsync.PermanentRejection, "put", fmt.Errorf("invalid scope or id"))
	}
	data, err := json.Marshal(rec.ForRemote())
	if err != nil {
		return tripsync.Ack{}, tripsync.NewSyncError(tripsync.PermanentRejection, "put", err)
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(scope, rec.Kind, rec.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return tripsync.Ack{}, classifyS3("put", err)
	}
	return tripsync.Ack{ID: rec.ID, Kind: rec.Kind, StoredAt: time.Now()}, nil
}

func (s *S3Store) Get(ctx context.Context, scope string, kind model.Kind, id string) (*tripsync.Record, error) {
	if !validName(scope) || !validName(id) {
		return nil, nil
	}
	return s.getKey(ctx, s.key(scope, kind, id))
}

func (s *S3Store) getKey(ctx context.Context, key string) (*tripsync.Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, classifyS3("get", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, tripsync.NewSyncError(tripsync.TransientNetwork, "get", err)
	}
	var rec tripsync.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return &rec, nil
}

type s3Object struct {
	key      string
	modified time.Time
}

func (s *S3Store) Fetch(ctx context.Context, scope string, kind model.Kind, cursor tripsync.Cursor, limit int) (*tripsync.ChangeSet, error) {
	if !validName(scope) {
		return nil, tripsync.NewSyncError(tripsync.PermanentRejection, "fetch", fmt.Errorf("invalid scope"))
	}
	var since time.Time
	if cursor != "" {
		t, err := time.Parse(time.RFC3339Nano, string(cursor))
		if err != nil {
			return nil, tripsync.ErrCursorExpired
		}
		since = t
	}

	var objs []s3Object
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.kindPrefix(scope, kind)),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classifyS3("list", err)
		}
		for _, o := range page.Contents {
			if o.Key == nil || o.LastModified == nil || !strings.HasSuffix(*o.Key, ".json") {
				continue
			}
			if o.LastModified.Before(since) {
				continue
			}
			objs = append(objs, s3Object{key: *o.Key, modified: *o.LastModified})
		}
	}
	sort.Slice(objs, func(i, j int) bool {
		if !objs[i].modified.Equal(objs[j].modified) {
			return objs[i].modified.Before(objs[j].modified)
		}
		return objs[i].key < objs[j].key
	})

	cs := &tripsync.ChangeSet{Cursor: cursor}
	if limit > 0 && len(objs) > limit {
		// A page never splits objects sharing a modification time, or the
		// cursor could not advance past them.
		end := limit
		for end < len(objs) && objs[end].modified.Equal(objs[end-1].modified) {
			end++
		}
		cs.More = end < len(objs)
		objs = objs[:end]
	}
	for _, o := range objs {
		rec, err := s.getKey(ctx, o.key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		cs.Records = append(cs.Records, rec)
		cs.Cursor = tripsync.Cursor(o.modified.UTC().Format(time.RFC3339Nano))
	}
	return cs, nil
}

func (s *S3Store) ValidateSetup(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, classifyS3("head", err))
	}
	return nil
}

// classifyS3 maps S3 API error codes onto sync error kinds.
func classifyS3(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return tripsync.NewSyncError(tripsync.TransientNetwork, op, err)
	}
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return tripsync.NewSyncError(tripsync.TransientNetwork, op, err)
	}
	switch ae.ErrorCode() {
	case "ExpiredToken", "ExpiredTokenException", "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidToken":
		return tripsync.NewSyncError(tripsync.AuthExpired, op, err)
	case "SlowDown", "Throttling", "ThrottlingException", "TooManyRequests", "RequestLimitExceeded":
		return tripsync.NewSyncError(tripsync.RateLimited, op, err)
	case "AccessDenied", "EntityTooLarge", "InvalidArgument", "KeyTooLongError", "NoSuchBucket", "InvalidBucketName":
		return tripsync.NewSyncError(tripsync.PermanentRejection, op, err)
	}
	return tripsync.NewSyncError(tripsync.TransientNetwork, op, err)
}

var _ tripsync.RemoteStore = (*S3Store)(nil)
