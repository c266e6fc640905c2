package pio

import (
	"context"

	"github.com/go-sif/piotest"
)

// call runs one collective operation from the compute side. In async mode the
// first compute task forwards the request to the I/O tasks; in sync mode every
// task already knows it and I/O tasks serve it inline. out holds one piece per
// I/O task for ops which send data. For a read, the pieces returned by each I/O
// task are returned in the same order.
func (s *IOSystem) call(ctx context.Context, req *request, out []piece) (*reply, []piece, error) {
	req.Component = s.component
	if s.async && s.comp.Rank() == 0 {
		buf, err := encode(req)
		if err != nil {
			return nil, nil, commError(err)
		}
		if err = s.svc.Send(ctx, s.svcIORoot, tagRequest, buf); err != nil {
			return nil, nil, commError(err)
		}
	}
	if req.Op.sendsData() {
		for k, r := range s.ioRanks {
			buf, err := encode(&out[k])
			if err != nil {
				return nil, nil, commError(err)
			}
			if err = s.union.Send(ctx, r, tagData, buf); err != nil {
				return nil, nil, commError(err)
			}
		}
	}
	if !s.async && s.io != nil {
		if err := s.serve(ctx, req); err != nil {
			return nil, nil, err
		}
	}
	var (
		buf []byte
		err error
	)
	if s.comp.Rank() == 0 {
		if _, buf, err = s.union.Recv(ctx, s.ioRanks[0], tagReply); err != nil {
			return nil, nil, commError(err)
		}
	}
	if buf, err = s.comp.Bcast(ctx, 0, buf); err != nil {
		return nil, nil, commError(err)
	}
	rep := &reply{}
	if err = decode(buf, rep); err != nil {
		return nil, nil, commError(err)
	}
	var in []piece
	if req.Op == opReadDarray {
		in = make([]piece, len(s.ioRanks))
		for k, r := range s.ioRanks {
			_, buf, err := s.union.Recv(ctx, r, tagData)
			if err != nil {
				return nil, nil, commError(err)
			}
			if err = decode(buf, &in[k]); err != nil {
				return nil, nil, commError(err)
			}
		}
	}
	return rep, in, nil
}

// agree returns the first non-nil local error of any compute task, so that a
// check which may fail on only some tasks fails on all of them
func (s *IOSystem) agree(ctx context.Context, op string, local *Error) error {
	code := NoErr
	if local != nil {
		code = local.Code
	}
	agreed, err := s.comp.AllreduceInt(ctx, code, piotest.ReduceFirstNonZero)
	if err != nil {
		return commError(err)
	}
	if agreed == NoErr {
		return nil
	}
	if local != nil {
		return local
	}
	return newError(agreed, op, "failed on another compute task")
}
