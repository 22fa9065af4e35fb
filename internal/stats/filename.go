package stats

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// MaxFilenameLen bounds the length of generated names, extension included.
const MaxFilenameLen = 200

var filenameReplacer = strings.NewReplacer("/", "-", "\\", "-", " ", "-")

// Filename builds "key-value_key-value.json" from metadata. Keys are sorted,
// except "ber" which always comes last so runs of one configuration sort
// together. Names longer than MaxFilenameLen are cut and suffixed with an
// xxhash digest of the full name.
//
// Filenames are for humans; the document inside stays authoritative.
func Filename(metadata map[string]string) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if k != "ber" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := metadata["ber"]; ok {
		keys = append(keys, "ber")
	}

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = filenameReplacer.Replace(k) + "-" + filenameReplacer.Replace(metadata[k])
	}
	name := strings.Join(parts, "_")
	if name == "" {
		name = "experiment"
	}

	const ext = ".json"
	if len(name)+len(ext) <= MaxFilenameLen {
		return name + ext
	}
	digest := fmt.Sprintf("_%016x", xxhash.Sum64String(name))
	return name[:MaxFilenameLen-len(digest)-len(ext)] + digest + ext
}

// Category groups experiments by protection family.
type Category string

const (
	CategoryEPECC       Category = "ep+ecc"
	CategoryEP          Category = "ep"
	CategoryMSETECC     Category = "mset+ecc"
	CategoryMSET        Category = "mset"
	CategoryECC         Category = "ecc"
	CategoryUnprotected Category = "unprotected"
)

// Categories lists every category in presentation order.
var Categories = []Category{
	CategoryUnprotected, CategoryECC, CategoryMSETECC, CategoryEPECC, CategoryMSET, CategoryEP,
}

// CategoryOf classifies an experiment from the keys its encoders recorded.
func CategoryOf(metadata map[string]string) Category {
	_, ep := metadata["embedded_parity"]
	_, mset := metadata["msb_duplicated"]
	_, ecc := metadata["chunk_size"]
	switch {
	case ep && ecc:
		return CategoryEPECC
	case ep:
		return CategoryEP
	case mset && ecc:
		return CategoryMSETECC
	case mset:
		return CategoryMSET
	case ecc:
		return CategoryECC
	default:
		return CategoryUnprotected
	}
}
