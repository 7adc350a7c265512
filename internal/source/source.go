// Package source lists and reads the raw files that feed permanent
// ingestion: a local knowledge-base directory, or a directory of a GitHub
// repository for teams that version their documentation there.
package source

import "context"

// File is one raw knowledge-base file.
type File struct {
	// Path is the file's path relative to the source root.
	Path string
	Data []byte
}

// Source enumerates and reads knowledge-base files.
type Source interface {
	// List returns the relative paths of all ingestible files.
	List(ctx context.Context) ([]string, error)
	// Read returns one file by its relative path.
	Read(ctx context.Context, path string) (*File, error)
}

// ingestible extensions; everything else is skipped during listing.
var ingestibleExt = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}
