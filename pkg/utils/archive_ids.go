package utils

import "strings"

// ArchiveIDs turns object keys into archive ids. Keys without the archive
// extension are skipped, the extension is stripped and duplicates are dropped.
// Order follows the input.
func ArchiveIDs(keys []string, extension string) []string {
	result := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.Trim(key, " ")
		if !strings.HasSuffix(key, extension) {
			continue
		}
		id := strings.TrimSuffix(key, extension)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

// ObjectKey is the inverse of ArchiveIDs for a single id.
func ObjectKey(prefix, id, extension string) string {
	if prefix == "" {
		return id + extension
	}
	return strings.TrimSuffix(prefix, "/") + "/" + id + extension
}
