package suspend

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
)

// Pickle protocol 2 opcodes used to encode a job payload
const (
	opProto      = 0x80
	opMark       = '('
	opBinUnicode = 'X'
	opNone       = 'N'
	opEmptyTuple = ')'
	opEmptyDict  = '}'
	opTuple      = 't'
	opStop       = '.'
)

// jobPayload encodes the data field of an RQ job that calls funcName with no
// arguments: zlib(pickle((funcName, None, (), {}))).
func jobPayload(funcName string) ([]byte, error) {
	var p bytes.Buffer
	p.Write([]byte{opProto, 2, opMark, opBinUnicode})
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(funcName)))
	p.Write(n[:])
	p.WriteString(funcName)
	p.Write([]byte{opNone, opEmptyTuple, opEmptyDict, opTuple, opStop})

	var z bytes.Buffer
	w := zlib.NewWriter(&z)
	if _, err := w.Write(p.Bytes()); err != nil {
		return nil, fmt.Errorf("compress job payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress job payload: %w", err)
	}
	return z.Bytes(), nil
}
