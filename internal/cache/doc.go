// Package cache defines the persistent, named response stores that back the
// offline cache. A Registry owns every store present on disk and is the only
// place stores are created or deleted; a Store maps a RequestKey (method + URL)
// to an immutable response Snapshot. Two backends are provided: a filesystem
// layout (one directory per store, temp file + rename writes) and a LevelDB
// layout (one database, stores separated by key prefix). Writes never recreate
// a store that was deleted, so a cutover cannot be undone by a late write.
package cache
