package object

import (
	"errors"
	"io"
)

// ErrCOFFUnimplemented reports that COFF serialisation is declared but
// not written yet.
var ErrCOFFUnimplemented = errors.New("COFF object output is not implemented")

// WriteCOFF is the COFF counterpart of the ELF writer. It writes nothing
// and always returns ErrCOFFUnimplemented.
func WriteCOFF(w io.Writer, o *GenericObject) error {
	return ErrCOFFUnimplemented
}
