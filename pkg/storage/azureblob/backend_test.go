package azureblob

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
)

func TestParsePartsFromConnectionString(t *testing.T) {
	tables := []struct {
		name      string
		connStr   string
		account   string
		key       string
		container string
		found     bool
	}{
		{"full", "AccountName=acc;AccountKey=a2V5;Container=tiles", "acc", "a2V5", "tiles", true},
		{"trailing separator", "AccountName=acc;AccountKey=a2V5;", "acc", "a2V5", "", true},
		{"missing key", "AccountName=acc;Container=tiles", "", "", "", false},
		{"garbage", "nonsense", "", "", "", false},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			account, key, container, found := ParsePartsFromConnectionString(table.connStr)
			if diff := cmp.Diff([]interface{}{table.account, table.key, table.container, table.found}, []interface{}{account, key, container, found}); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestSetupRequiresContainer(t *testing.T) {
	backend, _ := New(s.StorageConfig{AzureConnectionString: "AccountName=acc;AccountKey=a2V5"})
	var configErr *e.ConfigurationError
	if err := backend.Setup(); !errors.As(err, &configErr) {
		t.Fatalf("Expected configuration error, got %#v", err)
	}
}

func TestObjectKey(t *testing.T) {
	backend, _ := New(s.StorageConfig{Prefix: "/maps/"})
	if diff := cmp.Diff("maps/a.pmtiles", backend.ObjectKey("a")); diff != "" {
		t.Fatal(diff)
	}
}
