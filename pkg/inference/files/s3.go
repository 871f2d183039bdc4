package files

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type S3Config struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
}

// S3Store uploads artifacts to an S3 compatible bucket.
type S3Store struct {
	api    *minio.Client
	bucket string
	prefix string
}

var _ Store = (*S3Store)(nil)

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create s3 client")
	}
	return &S3Store{api: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) Save(ctx context.Context, blob Blob) (Handle, error) {
	id := uuid.NewString()
	mimeType := normalizeMimeType(blob.MimeType)
	key := objectKey(s.prefix, id, blob.Name, mimeType)

	info, err := s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(blob.Data), int64(len(blob.Data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return Handle{}, errors.Wrapf(err, "could not upload %s", key)
	}
	log.Debug().Str("bucket", s.bucket).Str("key", key).Int64("size", info.Size).Msg("files: uploaded artifact")

	u := *s.api.EndpointURL()
	u.Path = path.Join("/", s.bucket, key)

	return Handle{
		ID:       id,
		URL:      u.String(),
		MimeType: mimeType,
		Size:     int64(len(blob.Data)),
		Transfer: TransferRemoteURL,
	}, nil
}

// objectKey builds "<prefix>/<id>/<name>" when a name hint is given and
// "<prefix>/<id><ext>" otherwise.
func objectKey(prefix, id, name, mimeType string) string {
	prefix = strings.Trim(prefix, "/")
	var obj string
	if name = path.Base(strings.TrimSpace(name)); name != "" && name != "." && name != "/" {
		obj = id + "/" + name
	} else {
		obj = id + extensionFor(mimeType)
	}
	if prefix == "" {
		return obj
	}
	return prefix + "/" + obj
}
