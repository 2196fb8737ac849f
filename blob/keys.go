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

package blob

import (
	"fmt"
	"strings"
	"time"
)

const (
	rawPagePrefix = "html"
	imagePrefix   = "images"
	logPrefix     = "logs"
)

// DatePath returns the hive-style date partition for t, e.g. year=2025/month=07/day=04.
func DatePath(t time.Time) string {
	return fmt.Sprintf("year=%04d/month=%02d/day=%02d", t.Year(), int(t.Month()), t.Day())
}

func timestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// ProductPageKey is the archive key of a product page fetched at t.
func ProductPageKey(slug string, t time.Time) string {
	return fmt.Sprintf("%s/%s/%s_%s.html", rawPagePrefix, DatePath(t), slug, timestamp(t))
}

// ReviewPageKey is the archive key of the zero-based review page n fetched at t.
func ReviewPageKey(slug string, t time.Time, n int) string {
	return fmt.Sprintf("%s/%s/%s_%s_reviews_%d.json", rawPagePrefix, DatePath(t), slug, timestamp(t), n)
}

// ImageKey is the storage key of a review image. ext includes the leading dot.
func ImageKey(slug, externalID, ext string) string {
	return fmt.Sprintf("%s/%s/%s%s", imagePrefix, slug, externalID, ext)
}

// ImagePrefix is the key prefix holding every image of a product.
func ImagePrefix(slug string) string {
	return imagePrefix + "/" + slug + "/"
}

// LogKey is the key under which logs shipped at t are stored.
func LogKey(t time.Time) string {
	return fmt.Sprintf("%s/%s/logs_%s.txt", logPrefix, DatePath(t), timestamp(t))
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
