package codec

import "errors"

// ErrNilBuffer is returned by Decompress when handed a nil input. It is an
// argument error (spec §7.5): signalled immediately, without touching the
// RPC layer.
var ErrNilBuffer = errors.New("codec: nil buffer")
