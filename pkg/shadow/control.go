package shadow

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/marmos91/shadowfs/internal/telemetry"
	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
	"github.com/marmos91/shadowfs/pkg/shadow/fid"
)

// Control structures are fixed-size and little-endian.
//
// Request (RequestSize bytes):
//
//	magic u32 | op u32 | flags u32 | reserved u32 | start i64 | end i64 | handle (fid.EncodedSize) | zero padding
//
// Response (ResponseSize bytes):
//
//	magic u32 | code u32 | flags u32 | path length u32 | path (MaxPathLen bytes, zero padded)
const (
	RequestSize  = 104
	ResponseSize = 16 + MaxPathLen

	// MaxPathLen is the longest path a response can carry.
	MaxPathLen = 1024

	requestMagic  uint32 = 0x51434853 // "SHCQ"
	responseMagic uint32 = 0x52434853 // "SHCR"

	flagBlocking  uint32 = 1 << 0
	flagProcessed uint32 = 1 << 0
)

// Op selects a control operation.
type Op uint32

const (
	OpProcessOnePending Op = iota + 1
	OpRemotePath
	OpForceMigrate
	OpHandleToPath
)

func (o Op) String() string {
	switch o {
	case OpProcessOnePending:
		return "process-one-pending"
	case OpRemotePath:
		return "remote-path"
	case OpForceMigrate:
		return "force-migrate"
	case OpHandleToPath:
		return "handle-to-path"
	default:
		return fmt.Sprintf("op(%d)", uint32(o))
	}
}

// ParseOp returns the operation named s, as printed by String.
func ParseOp(s string) (Op, bool) {
	for o := OpProcessOnePending; o <= OpHandleToPath; o++ {
		if o.String() == s {
			return o, true
		}
	}
	return 0, false
}

// ControlRequest is one control surface call. Handle names the target of
// every operation but OpProcessOnePending; Start and End bound
// OpForceMigrate (a negative End means end of file).
type ControlRequest struct {
	Op       Op
	Blocking bool
	Start    int64
	End      int64
	Handle   fid.FID
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r ControlRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RequestSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], requestMagic)
	le.PutUint32(buf[4:8], uint32(r.Op))
	if r.Blocking {
		le.PutUint32(buf[8:12], flagBlocking)
	}
	le.PutUint64(buf[16:24], uint64(r.Start))
	le.PutUint64(buf[24:32], uint64(r.End))
	r.Handle.Encode(buf[32 : 32+fid.EncodedSize])
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *ControlRequest) UnmarshalBinary(data []byte) error {
	const op = "decode control request"
	if len(data) != RequestSize {
		return shadowerrors.NewInvalidArgumentError(op, fmt.Sprintf("request is %d bytes, want %d", len(data), RequestSize))
	}
	le := binary.LittleEndian
	if le.Uint32(data[0:4]) != requestMagic {
		return shadowerrors.NewInvalidArgumentError(op, "bad magic")
	}
	h, err := fid.Decode(data[32 : 32+fid.EncodedSize])
	if err != nil {
		return shadowerrors.NewInvalidArgumentError(op, err.Error())
	}
	*r = ControlRequest{
		Op:       Op(le.Uint32(data[4:8])),
		Blocking: le.Uint32(data[8:12])&flagBlocking != 0,
		Start:    int64(le.Uint64(data[16:24])),
		End:      int64(le.Uint64(data[24:32])),
		Handle:   h,
	}
	return nil
}

// ControlResponse is the result of a control call. Code is zero on
// success.
type ControlResponse struct {
	Code      shadowerrors.ErrorCode
	Processed bool
	Path      string
}

// Err converts a failed response back into an error.
func (r ControlResponse) Err() error {
	if r.Code == 0 {
		return nil
	}
	return shadowerrors.New(r.Code, "control", "", nil)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r ControlResponse) MarshalBinary() ([]byte, error) {
	if len(r.Path) > MaxPathLen {
		return nil, shadowerrors.NewInvalidArgumentError("encode control response", "path too long")
	}
	buf := make([]byte, ResponseSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], responseMagic)
	le.PutUint32(buf[4:8], uint32(r.Code))
	if r.Processed {
		le.PutUint32(buf[8:12], flagProcessed)
	}
	le.PutUint32(buf[12:16], uint32(len(r.Path)))
	copy(buf[16:], r.Path)
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *ControlResponse) UnmarshalBinary(data []byte) error {
	const op = "decode control response"
	if len(data) != ResponseSize {
		return shadowerrors.NewInvalidArgumentError(op, fmt.Sprintf("response is %d bytes, want %d", len(data), ResponseSize))
	}
	le := binary.LittleEndian
	if le.Uint32(data[0:4]) != responseMagic {
		return shadowerrors.NewInvalidArgumentError(op, "bad magic")
	}
	n := le.Uint32(data[12:16])
	if n > MaxPathLen {
		return shadowerrors.NewInvalidArgumentError(op, "path length out of range")
	}
	path := data[16 : 16+n]
	if bytes.IndexByte(path, 0) >= 0 {
		return shadowerrors.NewInvalidArgumentError(op, "path contains NUL")
	}
	*r = ControlResponse{
		Code:      shadowerrors.ErrorCode(le.Uint32(data[4:8])),
		Processed: le.Uint32(data[8:12])&flagProcessed != 0,
		Path:      string(path),
	}
	return nil
}

// Control executes one control request. Failures are reported by their
// specific code, never coalesced.
func (m *Mount) Control(ctx context.Context, req ControlRequest) ControlResponse {
	attrs := []attribute.KeyValue{telemetry.Mount(m.id), telemetry.Blocking(req.Blocking)}
	if !req.Handle.IsZero() {
		attrs = append(attrs, telemetry.Handle(req.Handle.Bytes()))
	}
	ctx, span := telemetry.StartControlSpan(ctx, req.Op.String(), attrs...)
	defer span.End()

	var (
		resp ControlResponse
		err  error
	)
	switch req.Op {
	case OpProcessOnePending:
		resp.Processed, err = m.ProcessOnePending(ctx, req.Blocking)
	case OpRemotePath:
		resp.Path, err = m.RemotePath(ctx, req.Handle)
	case OpForceMigrate:
		err = m.ForceMigrate(ctx, req.Handle, req.Start, req.End)
	case OpHandleToPath:
		resp.Path, err = m.HandleToPath(ctx, req.Handle)
	default:
		err = shadowerrors.NewInvalidArgumentError("control", "unknown operation "+req.Op.String())
	}
	if err == nil && len(resp.Path) > MaxPathLen {
		err = shadowerrors.NewInvalidArgumentError(req.Op.String(), "path too long")
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		code := shadowerrors.CodeOf(err)
		if code == 0 {
			code = shadowerrors.ErrLocalIO
		}
		return ControlResponse{Code: code}
	}
	return resp
}
