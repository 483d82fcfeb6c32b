package providers

import "context"

// ArchivedObject describes an export written to an archive
type ArchivedObject struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Location    string `json:"location"`
}

// ExportArchive stores exported result files
type ExportArchive interface {
	// Driver names the archive backend
	Driver() string

	// Put writes data under key, overwriting any previous object
	Put(ctx context.Context, key string, data []byte, contentType string) (ArchivedObject, error)

	// Get reads the object stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the keys under prefix in lexical order
	List(ctx context.Context, prefix string) ([]string, error)
}
