package rendezvous

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/wire"
)

// Server answers register/list requests, keeping records in memory only
// (spec.md §4.8: "The server keeps records in memory only").
type Server struct {
	host host.Host

	mu      sync.Mutex
	records map[string]map[peer.ID]wire.RendezvousRecord // topic -> peer -> record
}

// NewServer builds a Server over h and installs its stream handler.
func NewServer(h host.Host) *Server {
	s := &Server{host: h, records: make(map[string]map[peer.ID]wire.RendezvousRecord)}
	h.SetStreamHandler(ID, s.handleStream)
	return s
}

func (s *Server) handleStream(str network.Stream) {
	defer str.Close()
	remote := str.Conn().RemotePeer()
	for {
		var req wire.RendezvousRequest
		if err := readFrame(str, &req); err != nil {
			return
		}
		reply := s.handleRequest(remote, req)
		if err := writeFrame(str, reply); err != nil {
			log.Debug().Err(err).Str("peer", remote.String()).Msg("rendezvous: write reply failed")
			return
		}
	}
}

func (s *Server) handleRequest(remote peer.ID, req wire.RendezvousRequest) wire.RendezvousReply {
	switch req.Action {
	case wire.RendezvousRegister:
		s.register(remote, req.Topic, req.Addrs)
		return wire.RendezvousReply{OK: true}
	case wire.RendezvousList:
		return wire.RendezvousReply{OK: true, Peers: s.list(req.Topic)}
	default:
		return wire.RendezvousReply{OK: false, Error: "unknown action"}
	}
}

func (s *Server) register(remote peer.ID, topic string, addrs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPeer, ok := s.records[topic]
	if !ok {
		byPeer = make(map[peer.ID]wire.RendezvousRecord)
		s.records[topic] = byPeer
	}
	byPeer[remote] = wire.RendezvousRecord{PeerID: remote.String(), Addrs: addrs, LastSeen: time.Now()}
}

func (s *Server) list(topic string) []wire.RendezvousRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPeer, ok := s.records[topic]
	if !ok {
		return nil
	}
	out := make([]wire.RendezvousRecord, 0, len(byPeer))
	for _, r := range byPeer {
		out = append(out, r)
	}
	return out
}
