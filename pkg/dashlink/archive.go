package dashlink

import (
	"github.com/dashlink/dashlink/internal/adapters/valuelog"
)

// ArchiveExt is the file extension of value archive segments.
const ArchiveExt = valuelog.Ext

// ReadArchive replays one archive segment, handing each record to fn in
// write order. An error from fn aborts the scan and is returned as-is; a
// truncated final frame from a crash mid-write ends the scan cleanly.
func ReadArchive(path string, fn func(Record) error) error {
	return valuelog.Read(path, fn)
}
