package storage

import (
	"context"
	"errors"
	"time"

	"github.com/terrycain/tiles-server/pkg/s"
	s3 "github.com/terrycain/tiles-server/pkg/storage/aws-s3"
	"github.com/terrycain/tiles-server/pkg/storage/azureblob"
	"github.com/terrycain/tiles-server/pkg/storage/disk"
	"github.com/terrycain/tiles-server/pkg/storage/source"
)

type Source = source.Source

type Backend interface {
	Setup() error
	Type() string
	// List returns archive ids in the order the store enumerates them.
	List(ctx context.Context) ([]string, error)
	ObjectKey(id string) string
	// CredentialModes lists the credential modes reads can be served in.
	CredentialModes() []string
	// DirectSource addresses the object with the process' own identity.
	DirectSource(id string) (Source, error)
	// Presign returns a URL granting read access to exactly one archive object.
	Presign(ctx context.Context, id string, expiry time.Duration) (string, error)
}

func GetStorageBackend(backend string, config s.StorageConfig) (Backend, error) {
	var b Backend
	var err error

	switch backend {
	case "s3":
		b, err = s3.New(config)
	case "azureblob":
		b, err = azureblob.New(config)
	case "disk":
		b, err = disk.New(config)
	default:
		return nil, errors.New("invalid storage backend")
	}

	if err != nil {
		return nil, err
	}

	if err := b.Setup(); err != nil {
		return nil, err
	}

	return b, nil
}
