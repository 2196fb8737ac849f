package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/reviewmill/core"
)

// Key prefixes for different data types
const (
	productPrefix         = "prod"
	productExternalPrefix = "prodext"
	productIDSeq          = "prodseq"
	reviewPrefix          = "rev"
	reviewExternalPrefix  = "revext"
	reviewProductPrefix   = "revprod"
	reviewIDSeq           = "revseq"
	imagePrefix           = "img"
	pageCachePrefix       = "pcache"
	snapshotPrefix        = "snap"
)

// makeProductKey generates a key for a product by ID.
// Format: prefix:id (big-endian so iteration is ordered by ID)
func makeProductKey(id core.ID) []byte {
	return appendID([]byte(productPrefix+":"), id)
}

// makeProductExternalKey generates the natural-key index entry for a product.
// Format: prefix:source:externalID
func makeProductExternalKey(source, externalID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", productExternalPrefix, source, externalID))
}

// makeReviewKey generates a key for a review by ID.
// Format: prefix:id
func makeReviewKey(id core.ID) []byte {
	return appendID([]byte(reviewPrefix+":"), id)
}

// makeReviewExternalKey generates the natural-key index entry for a review.
// Format: prefix:productID:externalID
func makeReviewExternalKey(productID core.ID, externalID string) []byte {
	buf := appendID([]byte(reviewExternalPrefix+":"), productID)
	buf = append(buf, ':')
	return append(buf, externalID...)
}

// makeReviewProductKey generates the product membership index entry for a review.
// Format: prefix:productID:reviewID
func makeReviewProductKey(productID, reviewID core.ID) []byte {
	return appendID(makePartialReviewProductKey(productID), reviewID)
}

// makePartialReviewProductKey generates a partial key for listing a product's reviews.
// Format: prefix:productID
func makePartialReviewProductKey(productID core.ID) []byte {
	return appendID([]byte(reviewProductPrefix+":"), productID)
}

// makeImageKey generates a key for a review image by its dedup key.
// Format: prefix:productID:externalID
func makeImageKey(productID core.ID, externalID string) []byte {
	buf := makePartialImageKey(productID)
	return append(buf, externalID...)
}

// makePartialImageKey generates a partial key for listing a product's images.
// Format: prefix:productID:
func makePartialImageKey(productID core.ID) []byte {
	buf := appendID([]byte(imagePrefix+":"), productID)
	return append(buf, ':')
}

// makePageCacheKey generates a key for a fetch cache entry.
// Format: prefix:slug:bucket
func makePageCacheKey(slug, bucket string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", pageCachePrefix, slug, bucket))
}

// makeSnapshotKey generates a key for a named snapshot.
func makeSnapshotKey(name string) []byte {
	return []byte(fmt.Sprintf("%s:%s", snapshotPrefix, name))
}

// appendID writes id in BigEndian order so lexicographic sort works correctly.
func appendID(buf []byte, id core.ID) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

// idFromKeySuffix reads the trailing 8-byte ID of a composite key.
func idFromKeySuffix(key []byte) core.ID {
	if len(key) < 8 {
		return 0
	}
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}
