package processor

import (
	"crypto/md5"
	"encoding/hex"
	"path"
	"strings"
	"time"
)

const documentIDTimeLayout = "20060102150405"

// GenerateDocumentID derives "<name>_<YYYYmmddHHMMSS>_<hash>" from an object
// key and its arrival time. name is the last key segment up to its first dot;
// hash is the first 8 hex digits of md5("<key>_<timestamp>").
func GenerateDocumentID(key string, arrivedAt time.Time) string {
	name := path.Base("/" + key)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}

	timestamp := arrivedAt.UTC().Format(documentIDTimeLayout)
	sum := md5.Sum([]byte(key + "_" + timestamp))

	return name + "_" + timestamp + "_" + hex.EncodeToString(sum[:])[:8]
}
