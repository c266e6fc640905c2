package pio

import (
	"bytes"
	"encoding/gob"

	"github.com/go-sif/piotest/pio/store"
)

// Message tags. tagData and tagReply travel on an I/O system's union
// communicator, tagRequest on the communicator passed to InitAsync.
const (
	tagData    = 1
	tagReply   = 2
	tagRequest = 3
)

// opcode identifies a collective operation forwarded to the I/O tasks
type opcode int

const (
	opCreate opcode = iota + 1
	opOpen
	opDefDim
	opDefVar
	opPutAtt
	opEndDef
	opWriteDarray
	opReadDarray
	opSync
	opClose
	opDelete
	opFinalize
)

var opNames = map[opcode]string{
	opCreate:      "CreateFile",
	opOpen:        "OpenFile",
	opDefDim:      "DefDim",
	opDefVar:      "DefVar",
	opPutAtt:      "PutAtt",
	opEndDef:      "EndDef",
	opWriteDarray: "WriteDarray",
	opReadDarray:  "ReadDarray",
	opSync:        "Sync",
	opClose:       "Close",
	opDelete:      "DeleteFile",
	opFinalize:    "Finalize",
}

func (op opcode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "unknown"
}

// sendsData returns true if compute tasks send one piece to every I/O task for this op
func (op opcode) sendsData() bool {
	return op == opWriteDarray || op == opReadDarray
}

// request describes one operation. Only the fields relevant to Op are set.
type request struct {
	Op        opcode
	Component int
	File      int
	Path      string
	IOType    int
	Mode      int
	Write     bool
	Name      string
	Len       int
	Type      Type
	DimIDs    []int
	VarID     int
	Att       Attribute
	Rec       int
}

// reply is the outcome of a request, agreed by every I/O task
type reply struct {
	Code   int
	Msg    string
	File   int
	ID     int
	Header *store.Header
}

// piece is the part of a distributed array exchanged between one compute task and one I/O task
type piece struct {
	Idx  []int64
	Data []byte
}

func (r *reply) err(op opcode) error {
	if r.Code == NoErr {
		return nil
	}
	return &Error{Code: r.Code, Op: op.String(), Msg: r.Msg}
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
