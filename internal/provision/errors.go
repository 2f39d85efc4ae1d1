package provision

import (
	"errors"
	"fmt"

	"vlem/internal/catalog"
	"vlem/internal/compose"
	"vlem/internal/manifest"
	"vlem/internal/store"
)

// Kind classifies a provisioning failure.
type Kind string

const (
	KindNone                   Kind = ""
	KindNotFound               Kind = "NotFound"
	KindManifestMissing        Kind = "ManifestMissing"
	KindManifestInvalid        Kind = "ManifestInvalid"
	KindToolingUnavailable     Kind = "ToolingUnavailable"
	KindCommandFailed          Kind = "CommandFailed"
	KindCommandTimedOut        Kind = "CommandTimedOut"
	KindCatalogUnavailable     Kind = "CatalogUnavailable"
	KindCatalogFormatInvalid   Kind = "CatalogFormatInvalid"
	KindCatalogEmpty           Kind = "CatalogEmpty"
	KindTemplateNotFound       Kind = "TemplateNotFound"
	KindTemplateDownloadFailed Kind = "TemplateDownloadFailed"
	KindFilesystemError        Kind = "FilesystemError"
	KindStoreUnavailable       Kind = "StoreUnavailable"
	KindPortConflict           Kind = "PortConflict"
	KindUnknown                Kind = "Unknown"
)

var (
	// ErrManifestMissing means the template did not ship manifest.FileName.
	ErrManifestMissing = errors.New("manifest missing")

	// ErrFilesystem means the lab directory could not be created, read or removed.
	ErrFilesystem = errors.New("lab filesystem error")

	// ErrPortConflict is the sentinel wrapped by PortConflictError.
	ErrPortConflict = errors.New("port conflict")

	// ErrLabBusy means a teardown found the lab mid-provisioning.
	ErrLabBusy = errors.New("lab is still provisioning")

	// ErrUnknownJobType is returned for queue items this engine cannot run.
	ErrUnknownJobType = errors.New("unknown job type")

	errInvalidLabID = errors.New("invalid lab id")
)

// PortConflictError lists published host ports that were already bound.
type PortConflictError struct {
	Ports []int
}

func (e *PortConflictError) Error() string {
	return fmt.Sprintf("host ports already in use: %v", e.Ports)
}

func (e *PortConflictError) Unwrap() error { return ErrPortConflict }

// kindTable is checked in order; the first matching sentinel wins.
var kindTable = []struct {
	target error
	kind   Kind
}{
	{store.ErrStoreUnavailable, KindStoreUnavailable},
	{ErrManifestMissing, KindManifestMissing},
	{manifest.ErrInvalid, KindManifestInvalid},
	{compose.ErrToolingUnavailable, KindToolingUnavailable},
	{compose.ErrCommandTimedOut, KindCommandTimedOut},
	{compose.ErrCommandFailed, KindCommandFailed},
	{compose.ErrFilesystem, KindFilesystemError},
	{ErrFilesystem, KindFilesystemError},
	{errInvalidLabID, KindFilesystemError},
	{catalog.ErrTemplateNotFound, KindTemplateNotFound},
	{catalog.ErrCatalogUnavailable, KindCatalogUnavailable},
	{catalog.ErrCatalogFormatInvalid, KindCatalogFormatInvalid},
	{catalog.ErrCatalogEmpty, KindCatalogEmpty},
	{catalog.ErrTemplateDownloadFailed, KindTemplateDownloadFailed},
	{ErrPortConflict, KindPortConflict},
	{store.ErrNotFound, KindNotFound},
}

// KindOf maps err to its failure kind. nil maps to KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.target) {
			return entry.kind
		}
	}
	return KindUnknown
}
