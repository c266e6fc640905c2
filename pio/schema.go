package pio

import "github.com/go-sif/piotest/pio/store"

// Header mutations are applied identically by compute tasks (to their mirror)
// and I/O tasks (to the authoritative copy), so they must be deterministic.

func defDim(h *store.Header, name string, length int) (int, *Error) {
	switch {
	case name == "":
		return -1, newError(EInval, "DefDim", "dimension name is empty")
	case length < 0:
		return -1, newError(EInval, "DefDim", "dimension %s has negative length %d", name, length)
	case length == 0 && h.UnlimitedDim() >= 0:
		return -1, newError(EUnlimit, "DefDim", "dimension %s: file already has an unlimited dimension", name)
	case h.FindDim(name) >= 0:
		return -1, newError(ENameInUse, "DefDim", "dimension %s already exists", name)
	}
	h.Dims = append(h.Dims, store.Dim{Name: name, Len: length})
	return len(h.Dims) - 1, nil
}

func defVar(h *store.Header, name string, typ Type, dimids []int) (int, *Error) {
	switch {
	case name == "":
		return -1, newError(EInval, "DefVar", "variable name is empty")
	case !typ.Valid():
		return -1, newError(EBadType, "DefVar", "variable %s has unknown type %d", name, typ)
	case h.FindVar(name) >= 0:
		return -1, newError(ENameInUse, "DefVar", "variable %s already exists", name)
	}
	for i, id := range dimids {
		if id < 0 || id >= len(h.Dims) {
			return -1, newError(EBadDim, "DefVar", "variable %s: no dimension %d", name, id)
		}
		if i > 0 && h.Dims[id].Len == 0 {
			return -1, newError(EUnlimPos, "DefVar", "variable %s: unlimited dimension must come first", name)
		}
	}
	h.Vars = append(h.Vars, store.Var{Name: name, Type: typ, DimIDs: append([]int(nil), dimids...)})
	return len(h.Vars) - 1, nil
}

func putAtt(h *store.Header, varid int, att Attribute) *Error {
	if varid != GlobalAtt && (varid < 0 || varid >= len(h.Vars)) {
		return newError(ENotVar, "PutAtt", "no variable %d", varid)
	}
	if att.Name == "" {
		return newError(EInval, "PutAtt", "attribute name is empty")
	}
	if !att.Type.Valid() || len(att.Data)%att.Type.Size() != 0 {
		return newError(EBadType, "PutAtt", "attribute %s has invalid type %d", att.Name, att.Type)
	}
	att.Data = append([]byte(nil), att.Data...)
	if existing := h.FindAtt(varid, att.Name); existing != nil {
		*existing = att
		return nil
	}
	if varid == GlobalAtt {
		h.Atts = append(h.Atts, att)
	} else {
		h.Vars[varid].Atts = append(h.Vars[varid].Atts, att)
	}
	return nil
}

// checkVar validates a variable id against h
func checkVar(h *store.Header, op string, varid int) *Error {
	if varid < 0 || varid >= len(h.Vars) {
		return newError(ENotVar, op, "no variable %d", varid)
	}
	return nil
}
