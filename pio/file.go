package pio

import (
	"context"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/pio/store"
)

// File is an open file as seen by a compute task. Metadata queries are answered
// from a local mirror of the header, which collective operations keep current.
type File struct {
	sys    *IOSystem
	id     int
	path   string
	iotype piotest.IOType
	hdr    *store.Header
	write  bool
	define bool
	closed bool
}

func (s *IOSystem) checkOpen(op string) *Error {
	if s.finalized {
		return newError(EInval, op, "I/O system is finalized")
	}
	return nil
}

// CreateFile creates a file of a storage flavor, replacing an existing one unless
// mode includes ModeNoClobber. The new file is in define mode.
func (s *IOSystem) CreateFile(ctx context.Context, iotype piotest.IOType, path string, mode int) (*File, error) {
	if e := s.checkOpen("CreateFile"); e != nil {
		return nil, e
	}
	b, e := backendFor("CreateFile", iotype)
	if e != nil {
		return nil, e
	}
	rep, _, err := s.call(ctx, &request{Op: opCreate, Path: path, IOType: int(iotype), Mode: mode}, nil)
	if err != nil {
		return nil, err
	}
	if err = rep.err(opCreate); err != nil {
		return nil, err
	}
	return &File{
		sys:    s,
		id:     rep.File,
		path:   path,
		iotype: iotype,
		hdr: &store.Header{
			Format:     int(iotype),
			Mode:       mode,
			Shards:     s.numShards(b),
			Rearranger: int(s.rearranger),
		},
		write:  true,
		define: true,
	}, nil
}

// OpenFile opens an existing file of a storage flavor
func (s *IOSystem) OpenFile(ctx context.Context, iotype piotest.IOType, path string, write bool) (*File, error) {
	if e := s.checkOpen("OpenFile"); e != nil {
		return nil, e
	}
	if _, e := backendFor("OpenFile", iotype); e != nil {
		return nil, e
	}
	rep, _, err := s.call(ctx, &request{Op: opOpen, Path: path, IOType: int(iotype), Write: write}, nil)
	if err != nil {
		return nil, err
	}
	if err = rep.err(opOpen); err != nil {
		return nil, err
	}
	if rep.Header == nil {
		return nil, newError(ENotNC, "OpenFile", "%s has no header", path)
	}
	return &File{sys: s, id: rep.File, path: path, iotype: iotype, hdr: rep.Header, write: write}, nil
}

// DeleteFile removes a file of a storage flavor
func (s *IOSystem) DeleteFile(ctx context.Context, iotype piotest.IOType, path string) error {
	if e := s.checkOpen("DeleteFile"); e != nil {
		return e
	}
	if _, e := backendFor("DeleteFile", iotype); e != nil {
		return e
	}
	rep, _, err := s.call(ctx, &request{Op: opDelete, Path: path, IOType: int(iotype)}, nil)
	if err != nil {
		return err
	}
	return rep.err(opDelete)
}

// Path returns the path of this File
func (f *File) Path() string {
	return f.path
}

// IOType returns the storage flavor of this File
func (f *File) IOType() piotest.IOType {
	return f.iotype
}

func (f *File) usable(op string) *Error {
	if f.closed {
		return newError(EBadID, op, "%s is closed", f.path)
	}
	return f.sys.checkOpen(op)
}

// redefine runs a header mutation on the I/O tasks, then applies it to the local mirror
func (f *File) redefine(ctx context.Context, req *request, mutate func(h *store.Header) (int, *Error)) (int, error) {
	op := req.Op.String()
	if e := f.usable(op); e != nil {
		return -1, e
	}
	if !f.define {
		return -1, newError(ENotInDefine, op, "%s is not in define mode", f.path)
	}
	req.File = f.id
	rep, _, err := f.sys.call(ctx, req, nil)
	if err != nil {
		return -1, err
	}
	if err = rep.err(req.Op); err != nil {
		return -1, err
	}
	id, e := mutate(f.hdr)
	if e != nil {
		// the I/O tasks accepted what the mirror rejects; the mirror is stale
		return -1, e
	}
	return id, nil
}

// DefDim defines a dimension. A length of 0 defines the unlimited dimension.
func (f *File) DefDim(ctx context.Context, name string, length int) (int, error) {
	return f.redefine(ctx, &request{Op: opDefDim, Name: name, Len: length}, func(h *store.Header) (int, *Error) {
		return defDim(h, name, length)
	})
}

// DefVar defines a variable over previously defined dimensions. The unlimited dimension may only come first.
func (f *File) DefVar(ctx context.Context, name string, typ Type, dimids []int) (int, error) {
	return f.redefine(ctx, &request{Op: opDefVar, Name: name, Type: typ, DimIDs: dimids}, func(h *store.Header) (int, *Error) {
		return defVar(h, name, typ, dimids)
	})
}

// PutAtt attaches an attribute to a variable, or to the file for GlobalAtt.
// values is a string for Char, or a value or slice of the Go type matching typ.
func (f *File) PutAtt(ctx context.Context, varid int, name string, typ Type, values interface{}) error {
	data, _, ok := encodeValues(typ, values)
	if !ok {
		return newError(EBadType, "PutAtt", "attribute %s: %T is not a %s value", name, values, typ)
	}
	att := Attribute{Name: name, Type: typ, Data: data}
	_, err := f.redefine(ctx, &request{Op: opPutAtt, VarID: varid, Att: att}, func(h *store.Header) (int, *Error) {
		return 0, putAtt(h, varid, att)
	})
	return err
}

// EndDef leaves define mode, persisting the definitions
func (f *File) EndDef(ctx context.Context) error {
	if e := f.usable("EndDef"); e != nil {
		return e
	}
	if !f.define {
		return newError(ENotInDefine, "EndDef", "%s is not in define mode", f.path)
	}
	rep, _, err := f.sys.call(ctx, &request{Op: opEndDef, File: f.id}, nil)
	if err != nil {
		return err
	}
	if err = rep.err(opEndDef); err != nil {
		return err
	}
	f.define = false
	return nil
}

// Inquire returns the number of dimensions, variables and global attributes, and
// the id of the unlimited dimension (-1 if there is none)
func (f *File) Inquire() (ndims int, nvars int, natts int, unlimdim int) {
	return len(f.hdr.Dims), len(f.hdr.Vars), len(f.hdr.Atts), f.hdr.UnlimitedDim()
}

// InqDimID returns the id of a dimension by name
func (f *File) InqDimID(name string) (int, error) {
	if id := f.hdr.FindDim(name); id >= 0 {
		return id, nil
	}
	return -1, newError(EBadDim, "InqDimID", "no dimension %s", name)
}

// InqDim returns the name and current length of a dimension
func (f *File) InqDim(dimid int) (string, int, error) {
	if dimid < 0 || dimid >= len(f.hdr.Dims) {
		return "", 0, newError(EBadDim, "InqDim", "no dimension %d", dimid)
	}
	return f.hdr.Dims[dimid].Name, f.hdr.DimLen(dimid), nil
}

// InqVarID returns the id of a variable by name
func (f *File) InqVarID(name string) (int, error) {
	if id := f.hdr.FindVar(name); id >= 0 {
		return id, nil
	}
	return -1, newError(ENotVar, "InqVarID", "no variable %s", name)
}

// InqVar returns the name, type and dimension ids of a variable
func (f *File) InqVar(varid int) (string, Type, []int, error) {
	if e := checkVar(f.hdr, "InqVar", varid); e != nil {
		return "", 0, nil, e
	}
	v := f.hdr.Vars[varid]
	return v.Name, v.Type, append([]int(nil), v.DimIDs...), nil
}

// GetAtt returns an attribute of a variable, or of the file for GlobalAtt
func (f *File) GetAtt(varid int, name string) (*Attribute, error) {
	if varid != GlobalAtt {
		if e := checkVar(f.hdr, "GetAtt", varid); e != nil {
			return nil, e
		}
	}
	att := f.hdr.FindAtt(varid, name)
	if att == nil {
		return nil, newError(ENotAtt, "GetAtt", "no attribute %s on variable %d", name, varid)
	}
	res := *att
	res.Data = append([]byte(nil), att.Data...)
	return &res, nil
}

// Sync flushes everything written so far, including the current record count
func (f *File) Sync(ctx context.Context) error {
	if e := f.usable("Sync"); e != nil {
		return e
	}
	if f.define {
		return newError(EInDefine, "Sync", "%s is in define mode", f.path)
	}
	rep, _, err := f.sys.call(ctx, &request{Op: opSync, File: f.id}, nil)
	if err != nil {
		return err
	}
	return rep.err(opSync)
}

// Close flushes and closes the File. The File is unusable afterwards, even if Close fails.
func (f *File) Close(ctx context.Context) error {
	if e := f.usable("Close"); e != nil {
		return e
	}
	rep, _, err := f.sys.call(ctx, &request{Op: opClose, File: f.id}, nil)
	f.closed = true
	if err != nil {
		return err
	}
	return rep.err(opClose)
}
