package logger

import "log/slog"

// Field keys shared by every log statement, so records can be queried by
// key across components.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	KeyMountID   = "mount_id"
	KeyOperation = "operation" // resolve, process, walk, collapse...
	KeyHandle    = "handle"    // hex encoded object handle

	KeyPath       = "path"        // local root-relative path
	KeyRemotePath = "remote_path" // remote root-relative path
	KeyType       = "type"        // file, directory, symlink, other
	KeySize       = "size"
	KeyLinkCount  = "link_count"

	KeyEntries   = "entries"    // directory entries or log records
	KeyQueued    = "queued"     // handles added to the pending log
	KeyBuffer    = "buffer"     // pending log buffer index
	KeyLinkIndex = "link_index" // link table index
	KeyFsID      = "fsid"

	KeyError     = "error"
	KeyErrorCode = "error_code"
	KeyAttempt   = "attempt"
)

func MountID(id string) slog.Attr   { return slog.String(KeyMountID, id) }
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

// HandleHex returns the attribute for a handle already hex encoded.
func HandleHex(h string) slog.Attr { return slog.String(KeyHandle, h) }

func Path(p string) slog.Attr       { return slog.String(KeyPath, p) }
func RemotePath(p string) slog.Attr { return slog.String(KeyRemotePath, p) }
func TypeStr(t string) slog.Attr    { return slog.String(KeyType, t) }
func Size(n int64) slog.Attr        { return slog.Int64(KeySize, n) }

func LinkCount(n uint32) slog.Attr { return slog.Uint64(KeyLinkCount, uint64(n)) }

func Entries(n int) slog.Attr   { return slog.Int(KeyEntries, n) }
func Queued(n int) slog.Attr    { return slog.Int(KeyQueued, n) }
func Buffer(i int) slog.Attr    { return slog.Int(KeyBuffer, i) }
func LinkIndex(i int) slog.Attr { return slog.Int(KeyLinkIndex, i) }
func FsID(id string) slog.Attr  { return slog.String(KeyFsID, id) }

// Err returns the attribute for err. A nil error yields an empty attribute,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

func ErrorCode(code string) slog.Attr { return slog.String(KeyErrorCode, code) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
