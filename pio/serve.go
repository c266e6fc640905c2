package pio

import (
	"context"
	"sort"

	"github.com/go-kit/log/level"
	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/pio/store"
)

// ioState is what an I/O task knows about the files of one I/O system
type ioState struct {
	files    map[int]*ioFile
	nextFile int
}

// ioFile is an open file as seen by an I/O task. Every I/O task holds the full
// header; only the first persists it.
type ioFile struct {
	path    string
	backend store.Backend
	shard   store.Store // nil if this I/O task holds no shard of the file
	hdr     *store.Header
	write   bool
	define  bool
}

// outcome is the local result of applying a request on one I/O task. commit runs
// if every I/O task succeeded, abort otherwise.
type outcome struct {
	rep     reply
	err     *Error
	out     []piece
	commit  func()
	abort   func()
	partial bool // shards may have been created; remove the file on failure
}

func failed(err *Error) *outcome {
	return &outcome{err: err}
}

func newIOState() *ioState {
	return &ioState{files: make(map[int]*ioFile)}
}

// serve runs one request on this I/O task, always completing its message
// pattern. Only communicator failures are returned.
func (s *IOSystem) serve(ctx context.Context, req *request) error {
	var in []piece
	if req.Op.sendsData() {
		in = make([]piece, len(s.compRanks))
		for i, r := range s.compRanks {
			_, buf, err := s.union.Recv(ctx, r, tagData)
			if err != nil {
				return commError(err)
			}
			if err = decode(buf, &in[i]); err != nil {
				return commError(err)
			}
		}
	}
	res, err := s.apply(ctx, req, in)
	if err != nil {
		return err
	}
	localCode, localMsg := NoErr, ""
	if res.err != nil {
		localCode, localMsg = res.err.Code, res.err.Msg
	}
	code, err := s.ioComm.AllreduceInt(ctx, localCode, piotest.ReduceFirstNonZero)
	if err != nil {
		return commError(err)
	}
	rep := res.rep
	if code != NoErr {
		msgs, err := s.ioComm.Gather(ctx, 0, []byte(localMsg))
		if err != nil {
			return commError(err)
		}
		if res.abort != nil {
			res.abort()
		}
		if res.partial {
			// every shard is closed before the partial file is removed
			if err = s.ioComm.Barrier(ctx); err != nil {
				return commError(err)
			}
			if s.ioComm.Rank() == 0 {
				if b, ok := store.Lookup(req.IOType); ok {
					b.Remove(req.Path)
				}
			}
		}
		rep = reply{Code: code, Msg: "failed on another I/O task"}
		for _, m := range msgs {
			if len(m) > 0 {
				rep.Msg = string(m)
				break
			}
		}
		level.Debug(s.logger).Log("msg", "request failed", "op", req.Op, "code", code, "reason", rep.Msg)
	} else if res.commit != nil {
		res.commit()
	}
	if s.ioComm.Rank() == 0 {
		buf, err := encode(&rep)
		if err != nil {
			return commError(err)
		}
		if err = s.union.Send(ctx, s.compRanks[0], tagReply, buf); err != nil {
			return commError(err)
		}
	}
	if req.Op == opReadDarray {
		for i, r := range s.compRanks {
			p := &piece{}
			if code == NoErr {
				p = &res.out[i]
			}
			buf, err := encode(p)
			if err != nil {
				return commError(err)
			}
			if err = s.union.Send(ctx, r, tagData, buf); err != nil {
				return commError(err)
			}
		}
	}
	return nil
}

func (s *IOSystem) apply(ctx context.Context, req *request, in []piece) (*outcome, error) {
	st := s.io
	switch req.Op {
	case opCreate:
		return st.create(ctx, s, req)
	case opOpen:
		return st.open(ctx, s, req)
	case opDelete:
		return st.remove(s, req), nil
	case opFinalize:
		st.closeAll(s)
		return &outcome{}, nil
	}
	f, ok := st.files[req.File]
	if !ok {
		return failed(newError(EBadID, req.Op.String(), "no open file %d", req.File)), nil
	}
	switch req.Op {
	case opDefDim, opDefVar, opPutAtt:
		return st.redefine(f, req), nil
	case opEndDef:
		if !f.define {
			return failed(newError(ENotInDefine, "EndDef", "%s is not in define mode", f.path)), nil
		}
		if e := f.persistHeader(s, f.hdr, "EndDef"); e != nil {
			return failed(e), nil
		}
		return &outcome{commit: func() { f.define = false }}, nil
	case opWriteDarray:
		return f.writeDarray(req, in), nil
	case opReadDarray:
		return f.readDarray(req, in), nil
	case opSync:
		if f.define {
			return failed(newError(EInDefine, "Sync", "%s is in define mode", f.path)), nil
		}
		if e := f.sync(s); e != nil {
			return failed(e), nil
		}
		return &outcome{}, nil
	case opClose:
		e := f.close(s)
		forget := func() { delete(st.files, req.File) }
		if e != nil {
			return &outcome{err: e, abort: forget}, nil
		}
		return &outcome{commit: forget}, nil
	default:
		return failed(newError(EInval, req.Op.String(), "unknown request %d", req.Op)), nil
	}
}

func (st *ioState) create(ctx context.Context, s *IOSystem, req *request) (*outcome, error) {
	b, e := backendFor("CreateFile", piotest.IOType(req.IOType))
	ioRank := s.ioComm.Rank()
	var rootErr *Error
	if e == nil && ioRank == 0 {
		if req.Mode&ModeNoClobber != 0 && store.Exists(req.Path) {
			rootErr = newError(EExist, "CreateFile", "%s already exists", req.Path)
		} else if err := b.Remove(req.Path); err != nil {
			rootErr = newError(EStorage, "CreateFile", "%v", err)
		}
	}
	rootCode := NoErr
	if rootErr != nil {
		rootCode = rootErr.Code
	}
	// also orders the removal of an old file before any shard is created
	code, err := s.ioComm.AllreduceInt(ctx, rootCode, piotest.ReduceFirstNonZero)
	if err != nil {
		return nil, commError(err)
	}
	switch {
	case e != nil:
		return failed(e), nil
	case rootErr != nil:
		return failed(rootErr), nil
	case code != NoErr:
		return failed(&Error{Code: code, Op: "CreateFile"}), nil
	}
	hdr := &store.Header{
		Format:     req.IOType,
		Mode:       req.Mode,
		Shards:     s.numShards(b),
		Rearranger: int(s.rearranger),
	}
	var shard store.Store
	if ioRank < hdr.Shards {
		if shard, err = b.Create(req.Path, ioRank, hdr); err != nil {
			return &outcome{err: newError(EStorage, "CreateFile", "%v", err), partial: true}, nil
		}
	}
	id := st.nextFile
	f := &ioFile{path: req.Path, backend: b, shard: shard, hdr: hdr, write: true, define: true}
	return &outcome{
		rep: reply{File: id},
		commit: func() {
			st.files[id] = f
			st.nextFile++
		},
		abort: func() {
			if shard != nil {
				shard.Close()
			}
		},
		partial: true,
	}, nil
}

func (st *ioState) open(ctx context.Context, s *IOSystem, req *request) (*outcome, error) {
	b, e := backendFor("OpenFile", piotest.IOType(req.IOType))
	ioRank := s.ioComm.Rank()
	var (
		shard   store.Store
		rootErr *Error
		hdrBuf  []byte
	)
	if e == nil && ioRank == 0 {
		var err error
		if shard, err = b.Open(req.Path, 0, req.Write); err != nil {
			rootErr = newError(ENotNC, "OpenFile", "%v", err)
		} else if hdr, err := shard.ReadHeader(); err != nil {
			rootErr = newError(ENotNC, "OpenFile", "%s: %v", req.Path, err)
		} else if hdr.Format != req.IOType {
			rootErr = newError(ENotNC, "OpenFile", "%s was written as flavor %d, not %d", req.Path, hdr.Format, req.IOType)
		} else if hdrBuf, err = encode(hdr); err != nil {
			rootErr = newError(EStorage, "OpenFile", "%v", err)
		}
		if rootErr != nil && shard != nil {
			shard.Close()
			shard = nil
		}
	}
	hdrBuf, err := s.ioComm.Bcast(ctx, 0, hdrBuf)
	if err != nil {
		return nil, commError(err)
	}
	switch {
	case e != nil:
		return failed(e), nil
	case rootErr != nil:
		return failed(rootErr), nil
	case len(hdrBuf) == 0:
		return failed(&Error{Code: ENotNC, Op: "OpenFile"}), nil
	}
	hdr := &store.Header{}
	if err = decode(hdrBuf, hdr); err != nil {
		return nil, commError(err)
	}
	closeShard := func() {
		if shard != nil {
			shard.Close()
		}
	}
	if b.Parallel() && (hdr.Shards != len(s.ioRanks) || hdr.Rearranger != int(s.rearranger)) {
		closeShard()
		return failed(newError(EInval, "OpenFile", "%s was written by %d I/O tasks with rearranger %d; reopen it with the same layout",
			req.Path, hdr.Shards, hdr.Rearranger)), nil
	}
	if ioRank > 0 && ioRank < hdr.Shards {
		if shard, err = b.Open(req.Path, ioRank, req.Write); err != nil {
			return failed(newError(ENotNC, "OpenFile", "%v", err)), nil
		}
	}
	id := st.nextFile
	f := &ioFile{path: req.Path, backend: b, shard: shard, hdr: hdr, write: req.Write}
	return &outcome{
		rep: reply{File: id, Header: hdr},
		commit: func() {
			st.files[id] = f
			st.nextFile++
		},
		abort: closeShard,
	}, nil
}

func (st *ioState) remove(s *IOSystem, req *request) *outcome {
	b, e := backendFor("DeleteFile", piotest.IOType(req.IOType))
	if e != nil {
		return failed(e)
	}
	if s.ioComm.Rank() == 0 {
		if err := b.Remove(req.Path); err != nil {
			return failed(newError(EStorage, "DeleteFile", "%v", err))
		}
	}
	return &outcome{}
}

// closeAll closes every file left open, in the order they were opened
func (st *ioState) closeAll(s *IOSystem) {
	ids := make([]int, 0, len(st.files))
	for id := range st.files {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		f := st.files[id]
		if e := f.close(s); e != nil {
			level.Warn(s.logger).Log("msg", "unable to close file at finalize", "path", f.path, "err", e)
		}
		delete(st.files, id)
	}
}

func (st *ioState) redefine(f *ioFile, req *request) *outcome {
	op := req.Op.String()
	if !f.define {
		return failed(newError(ENotInDefine, op, "%s is not in define mode", f.path))
	}
	hdr := f.hdr.Clone()
	var (
		id int
		e  *Error
	)
	switch req.Op {
	case opDefDim:
		id, e = defDim(hdr, req.Name, req.Len)
	case opDefVar:
		id, e = defVar(hdr, req.Name, req.Type, req.DimIDs)
	case opPutAtt:
		e = putAtt(hdr, req.VarID, req.Att)
	}
	if e != nil {
		return failed(e)
	}
	return &outcome{rep: reply{ID: id}, commit: func() { f.hdr = hdr }}
}

// persistHeader writes hdr to shard 0, which only the first I/O task holds
func (f *ioFile) persistHeader(s *IOSystem, hdr *store.Header, op string) *Error {
	if !f.write || s.ioComm.Rank() != 0 || f.shard == nil {
		return nil
	}
	if err := f.shard.WriteHeader(hdr); err != nil {
		return newError(EStorage, op, "%v", err)
	}
	return nil
}

func (f *ioFile) sync(s *IOSystem) *Error {
	if e := f.persistHeader(s, f.hdr, "Sync"); e != nil {
		return e
	}
	if f.shard != nil {
		if err := f.shard.Sync(); err != nil {
			return newError(EStorage, "Sync", "%v", err)
		}
	}
	return nil
}

func (f *ioFile) close(s *IOSystem) *Error {
	e := f.persistHeader(s, f.hdr, "Close")
	if f.shard != nil {
		if err := f.shard.Close(); err != nil && e == nil {
			e = newError(EStorage, "Close", "%v", err)
		}
		f.shard = nil
	}
	return e
}

// checkData validates a distributed array request against the file
func (f *ioFile) checkData(req *request) *Error {
	op := req.Op.String()
	if f.define {
		return newError(EInDefine, op, "%s is in define mode", f.path)
	}
	if req.Op == opWriteDarray && !f.write {
		return newError(EPerm, op, "%s is open read-only", f.path)
	}
	if e := checkVar(f.hdr, op, req.VarID); e != nil {
		return e
	}
	if req.Rec < 0 || (!f.hdr.IsRecordVar(req.VarID) && req.Rec != 0) {
		return newError(EInvalCoords, op, "record %d of variable %d", req.Rec, req.VarID)
	}
	return nil
}

func (f *ioFile) writeDarray(req *request, in []piece) *outcome {
	if e := f.checkData(req); e != nil {
		return failed(e)
	}
	typ := f.hdr.Vars[req.VarID].Type
	var (
		idx  []int64
		data []byte
	)
	for _, p := range in {
		idx = append(idx, p.Idx...)
		data = append(data, p.Data...)
	}
	if len(idx) > 0 {
		if f.shard == nil {
			return failed(newError(EInval, "WriteDarray", "%d elements routed to an I/O task without a shard", len(idx)))
		}
		if err := f.shard.Put(req.VarID, req.Rec, idx, data, typ.Size()); err != nil {
			return failed(newError(EStorage, "WriteDarray", "%v", err))
		}
	}
	res := &outcome{}
	if f.hdr.IsRecordVar(req.VarID) {
		res.commit = func() {
			if req.Rec >= f.hdr.NumRecs {
				f.hdr.NumRecs = req.Rec + 1
			}
		}
	}
	return res
}

func (f *ioFile) readDarray(req *request, in []piece) *outcome {
	if e := f.checkData(req); e != nil {
		return failed(e)
	}
	typ := f.hdr.Vars[req.VarID].Type
	fill := typ.Fill()
	out := make([]piece, len(in))
	for i, p := range in {
		if len(p.Idx) == 0 {
			continue
		}
		if f.shard == nil {
			return failed(newError(EInval, "ReadDarray", "%d elements routed to an I/O task without a shard", len(p.Idx)))
		}
		data, err := f.shard.Get(req.VarID, req.Rec, p.Idx, typ.Size(), fill)
		if err != nil {
			return failed(newError(EStorage, "ReadDarray", "%v", err))
		}
		out[i] = piece{Data: data}
	}
	return &outcome{out: out}
}
