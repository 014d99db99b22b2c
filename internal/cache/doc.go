// Package cache is the file-system boundary of the image cache. A Store owns a
// single flat base directory and exposes exists/put/open/remove primitives on
// file names inside it, plus Purge for the full delete-then-recreate flush.
// Writes go through a temp file + rename so readers never observe a partial
// image. The store is built on afero so callers can swap in an in-memory
// filesystem for tests.
package cache
