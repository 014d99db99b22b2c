// Package imagecache implements a content-addressed local image cache.
//
// A remote image URL is mapped to <baseDir>/<sha1(url)><ext>, downloaded at
// most once concurrently per URL, and the resulting local URI is published to
// the caller through the OnResolved callback. A failed download publishes the
// empty string, which callers must treat as "no image available". ClearAll
// flushes the entire directory; there is no per-entry eviction.
package imagecache
