package memory

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/docker/go-units"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
)

// Dump writes a header and a hex dump of n bytes at addr.
func Dump(w io.Writer, mem objbridge.Memory, addr objbridge.Addr, n uint32) error {
	data, err := mem.Read(uint32(addr), n)
	if err != nil {
		return errors.Wrap(errors.PhaseMemory, errors.KindOutOfBounds, err,
			fmt.Sprintf("dump %d bytes at %#x", n, uint32(addr)))
	}
	if _, err := fmt.Fprintf(w, "Printing data at %#x (%s):\n", uint32(addr), units.HumanSize(float64(n))); err != nil {
		return err
	}
	d := hex.Dumper(w)
	if _, err := d.Write(data); err != nil {
		return err
	}
	return d.Close()
}
