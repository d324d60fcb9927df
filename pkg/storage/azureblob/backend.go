package azureblob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
	"github.com/terrycain/tiles-server/pkg/storage/source"
	"github.com/terrycain/tiles-server/pkg/utils"
)

// Backend serves archives from an Azure blob container. Azure has no ambient
// identity in this server so archives are always read through SAS URLs.
type Backend struct {
	Client              azblob.ContainerClient
	container           string
	connectionString    string
	sharedKeyCredential *azblob.SharedKeyCredential
	config              s.StorageConfig
}

// ParsePartsFromConnectionString pulls account, key and container out of a
// connection string like AccountName=x;AccountKey=y;Container=z.
func ParsePartsFromConnectionString(connStr string) (string, string, string, bool) {
	container := ""
	account := ""
	key := ""

	for _, part := range strings.Split(connStr, ";") {
		if part == "" {
			continue
		}
		subParts := strings.SplitN(part, "=", 2)
		if len(subParts) < 2 {
			return "", "", "", false
		}

		switch subParts[0] {
		case "Container":
			container = subParts[1]
		case "AccountName":
			account = subParts[1]
		case "AccountKey":
			key = subParts[1]
		}
	}

	if account == "" || key == "" {
		return "", "", "", false
	}

	return account, key, container, true
}

func New(config s.StorageConfig) (*Backend, error) {
	if config.Extension == "" {
		config.Extension = ".pmtiles"
	}
	config.Prefix = strings.Trim(config.Prefix, "/")
	return &Backend{connectionString: config.AzureConnectionString, config: config}, nil
}

func (b *Backend) Setup() error {
	account, key, container, found := ParsePartsFromConnectionString(b.connectionString)
	if !found {
		return &e.ConfigurationError{Field: "azure connection string", Reason: "AccountName and AccountKey are required"}
	}
	if container == "" {
		container = b.config.Bucket
	}
	if container == "" {
		return &e.ConfigurationError{Field: "bucket", Reason: "azure container missing from connection string and bucket"}
	}

	creds, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return err
	}

	client, err := azblob.NewContainerClientFromConnectionString(b.connectionString, container, &azblob.ClientOptions{})
	if err != nil {
		return err
	}

	b.container = container
	b.Client = client
	b.sharedKeyCredential = creds
	return nil
}

func (b *Backend) Type() string {
	return "azureblob"
}

// CredentialModes is presign only, reads go through SAS URLs.
func (b *Backend) CredentialModes() []string {
	return []string{s.CredentialModePresign}
}

func (b *Backend) ObjectKey(id string) string {
	return utils.ObjectKey(b.config.Prefix, id, b.config.Extension)
}

func (b *Backend) List(ctx context.Context) ([]string, error) {
	prefix := ""
	options := &azblob.ContainerListBlobFlatSegmentOptions{}
	if b.config.Prefix != "" {
		prefix = b.config.Prefix + "/"
		options.Prefix = &prefix
	}

	keys := make([]string, 0)
	pager := b.Client.ListBlobsFlat(options)
	for pager.NextPage(ctx) {
		resp := pager.PageResponse()
		for _, item := range resp.ContainerListBlobFlatSegmentResult.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := strings.TrimPrefix(*item.Name, prefix)
			if strings.Contains(name, "/") {
				continue
			}
			keys = append(keys, name)
		}
	}
	if err := pager.Err(); err != nil {
		return nil, &e.TransportError{Key: b.container, Err: err}
	}

	return utils.ArchiveIDs(keys, b.config.Extension), nil
}

func (b *Backend) DirectSource(id string) (source.Source, error) {
	return nil, fmt.Errorf("azureblob direct reads: %w, use presign mode", e.ErrNotImplemented)
}

// Presign returns a read-only SAS URL for exactly one blob.
func (b *Backend) Presign(ctx context.Context, id string, expiry time.Duration) (string, error) {
	blobClient := b.Client.NewBlockBlobClient(b.ObjectKey(id))
	blobClientSharedKey, err := azblob.NewBlobClientWithSharedKey(blobClient.URL(), b.sharedKeyCredential, &azblob.ClientOptions{})
	if err != nil {
		return "", err
	}
	// Allow for clock skew between us and the storage account
	start := time.Now().Add(-1 * time.Minute)
	expire := time.Now().Add(expiry)

	resp, err := blobClientSharedKey.GetSASToken(azblob.BlobSASPermissions{Read: true}, start, expire)
	if err != nil {
		return "", err
	}

	return blobClient.URL() + "?" + resp.Encode(), nil
}
