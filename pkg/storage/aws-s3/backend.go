package awss3

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/rs/zerolog/log"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
	"github.com/terrycain/tiles-server/pkg/storage/source"
	"github.com/terrycain/tiles-server/pkg/utils"
)

// Backend holds the one S3 client shared by every archive source.
type Backend struct {
	Session *session.Session
	Client  s3iface.S3API

	config s.StorageConfig
}

func New(config s.StorageConfig) (*Backend, error) {
	if config.Extension == "" {
		config.Extension = ".pmtiles"
	}
	config.Prefix = strings.Trim(config.Prefix, "/")
	return &Backend{config: config}, nil
}

func (b *Backend) Setup() error {
	if b.config.Bucket == "" {
		return &e.ConfigurationError{Field: "bucket"}
	}
	if b.config.Region == "" {
		return &e.ConfigurationError{Field: "region"}
	}
	if (b.config.AccessKeyID == "") != (b.config.SecretAccessKey == "") {
		return &e.ConfigurationError{Field: "access key", Reason: "access key id and secret access key must be set together"}
	}

	awsConfig := &aws.Config{
		Region:           aws.String(b.config.Region),
		S3ForcePathStyle: aws.Bool(b.config.ForcePathStyle),
		// Retry policy belongs to the caller.
		MaxRetries: aws.Int(0),
		HTTPClient: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
	}
	if b.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(b.config.Endpoint)
		awsConfig.DisableSSL = aws.Bool(strings.HasPrefix(b.config.Endpoint, "http://"))
	}
	if b.config.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(b.config.AccessKeyID, b.config.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return err
	}
	b.Session = sess
	b.Client = s3.New(sess)

	log.Debug().Str("bucket", b.config.Bucket).Str("region", b.config.Region).Str("endpoint", b.config.Endpoint).Msg("S3 storage backend ready")
	return nil
}

func (b *Backend) Type() string {
	return "s3"
}

func (b *Backend) CredentialModes() []string {
	return []string{s.CredentialModeDirect, s.CredentialModePresign}
}

func (b *Backend) ObjectKey(id string) string {
	return utils.ObjectKey(b.config.Prefix, id, b.config.Extension)
}

func (b *Backend) List(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.config.Bucket),
		Delimiter: aws.String("/"),
	}
	prefix := ""
	if b.config.Prefix != "" {
		prefix = b.config.Prefix + "/"
		input.Prefix = aws.String(prefix)
	}

	keys := make([]string, 0)
	err := b.Client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.StringValue(obj.Key), prefix))
		}
		return true
	})
	if err != nil {
		return nil, classifyError(b.config.Bucket, err)
	}

	return utils.ArchiveIDs(keys, b.config.Extension), nil
}

func (b *Backend) DirectSource(id string) (source.Source, error) {
	return &Source{
		client: b.Client,
		bucket: b.config.Bucket,
		key:    b.ObjectKey(id),
	}, nil
}

// Presign grants read access to the single archive object, never a prefix.
func (b *Backend) Presign(ctx context.Context, id string, expiry time.Duration) (string, error) {
	req, _ := b.Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.ObjectKey(id)),
	})
	req.SetContext(ctx)
	presignedURL, err := req.Presign(expiry)
	if err != nil {
		return "", err
	}

	return presignedURL, nil
}
