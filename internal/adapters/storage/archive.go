// Package storage archives exported result files on the local filesystem or in S3.
package storage

import (
	"context"
	"fmt"

	"github.com/clinicledger/costing/internal/domain/providers"
	"github.com/clinicledger/costing/pkg/config"
	apperrors "github.com/clinicledger/costing/pkg/errors"
)

// Archive driver names
const (
	DriverFilesystem = config.ArchiveDriverFilesystem
	DriverS3         = config.ArchiveDriverS3
)

// Open returns the archive selected by cfg, or nil when archiving is disabled
func Open(ctx context.Context, cfg config.ArchiveConfig) (providers.ExportArchive, error) {
	switch cfg.Driver {
	case config.ArchiveDriverNone, "":
		return nil, nil
	case config.ArchiveDriverFilesystem:
		archive, err := NewFilesystemArchive(cfg.RootDir)
		if err != nil {
			return nil, err
		}
		return archive, nil
	case config.ArchiveDriverS3:
		archive, err := NewS3ArchiveFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return archive, nil
	}
	return nil, apperrors.NewValidationError(fmt.Sprintf("unknown archive driver %q", cfg.Driver))
}
