// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/reviewmill/core"
	"github.com/vmihailenco/msgpack/v5"
)

// MarshalID serializes an ID to 8 big-endian bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: id must be 8 bytes, got %d", ErrSerializationFailed, len(data))
	}
	return core.ID(binary.BigEndian.Uint64(data)), nil
}

func marshal(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

func unmarshal[T any](data []byte) (*T, error) {
	var v T
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &v, nil
}

// MarshalProduct serializes a Product to bytes.
func MarshalProduct(product *core.Product) ([]byte, error) {
	return marshal(product)
}

// UnmarshalProduct deserializes a Product from bytes.
func UnmarshalProduct(data []byte) (*core.Product, error) {
	return unmarshal[core.Product](data)
}

// MarshalReview serializes a Review to bytes.
func MarshalReview(review *core.Review) ([]byte, error) {
	return marshal(review)
}

// UnmarshalReview deserializes a Review from bytes.
func UnmarshalReview(data []byte) (*core.Review, error) {
	return unmarshal[core.Review](data)
}

// MarshalReviewImage serializes a ReviewImage to bytes.
func MarshalReviewImage(image *core.ReviewImage) ([]byte, error) {
	return marshal(image)
}

// UnmarshalReviewImage deserializes a ReviewImage from bytes.
func UnmarshalReviewImage(data []byte) (*core.ReviewImage, error) {
	return unmarshal[core.ReviewImage](data)
}

// MarshalCacheEntry serializes a CacheEntry to bytes.
func MarshalCacheEntry(entry *core.CacheEntry) ([]byte, error) {
	return marshal(entry)
}

// UnmarshalCacheEntry deserializes a CacheEntry from bytes.
func UnmarshalCacheEntry(data []byte) (*core.CacheEntry, error) {
	return unmarshal[core.CacheEntry](data)
}
