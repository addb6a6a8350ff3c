package storage

import (
	"fmt"
	"path"
	"strings"
)

// DigestPrefix is the archive folder holding adaptive sweep digests, one
// subfolder per business
const DigestPrefix = "digests/"

// cleanSnapshotName normalizes an archive name and rejects names that would
// escape the archive root
func cleanSnapshotName(name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}
	return clean, nil
}

// snapshotMetadata derives the kind and owning business of an archived
// snapshot from its name, e.g. digests/<business>/<timestamp>.json
func snapshotMetadata(name string) map[string]string {
	parts := strings.Split(name, "/")
	meta := map[string]string{"kind": "snapshot"}
	if len(parts) >= 3 && parts[0]+"/" == DigestPrefix {
		meta["kind"] = "digest"
		meta["business_id"] = parts[1]
	}
	return meta
}
