// Package rendezvous implements the minimal length-prefixed JSON discovery
// protocol of spec.md §4.8: relays record (peerId, addrs) per topic in
// memory; clients register and list.
//
// Grounded on exchange/replication.go's RequestStream length-prefixed
// read/write idiom (a 4-byte big-endian length header followed by the
// payload), applied here to the register/list verbs instead of a Filecoin
// DAG request.
package rendezvous

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/protocol"
)

// ID is the rendezvous stream protocol identifier.
const ID = protocol.ID("/rendezvous/1.0.0")

const maxFrameSize = 1 << 20 // 1 MiB guards against a malformed/hostile length header

func writeFrame(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rendezvous: encode frame: %w", err)
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("rendezvous: write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("rendezvous: write frame body: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v interface{}) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxFrameSize {
		return fmt.Errorf("rendezvous: frame too large: %d bytes", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("rendezvous: read frame body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rendezvous: decode frame: %w", err)
	}
	return nil
}
