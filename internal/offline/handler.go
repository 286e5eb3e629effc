package offline

import (
	"log/slog"
	"net/netip"

	"github.com/ventosilenzioso/raknetd/internal/reliability"
	"github.com/ventosilenzioso/raknetd/internal/wire"
)

// Request is everything Handle needs to process one offline datagram. The
// caller (the server) supplies its current config/state as plain values
// rather than callbacks, since the handler itself is stateless between
// calls.
type Request struct {
	Peer          netip.AddrPort
	Data          []byte
	ServerName    string
	MaxMTU        uint16
	PortChecking  bool
	BindPort      uint16
	SessionExists bool
}

// NewSessionRequest instructs the caller to create a session for Peer once
// OPEN_CONNECTION_REPLY_2 has been sent.
type NewSessionRequest struct {
	Peer       netip.AddrPort
	ClientGUID uint64
	MTU        uint16
}

// Result is the outcome of handling one offline datagram.
type Result struct {
	Outgoing      [][]byte
	CreateSession *NewSessionRequest
}

// Handler replies to the pre-session RakNet handshake: pings, protocol
// version negotiation, and MTU negotiation. It holds no per-peer state —
// all session bookkeeping lives in internal/server and internal/session.
type Handler struct {
	acceptor   ProtocolAcceptor
	serverGUID uint64
	log        *slog.Logger
}

func NewHandler(acceptor ProtocolAcceptor, serverGUID uint64, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{acceptor: acceptor, serverGUID: serverGUID, log: log}
}

// Handle processes one offline datagram. The caller should only invoke this
// for datagrams that wire.LooksOffline reports true for.
func (h *Handler) Handle(req Request) (Result, error) {
	var res Result
	if len(req.Data) == 0 {
		return res, nil
	}

	switch req.Data[0] {
	case wire.IDUnconnectedPing, wire.IDUnconnectedPingOpenConns:
		ping, err := wire.DecodeUnconnectedPing(req.Data, req.Data[0])
		if err != nil {
			return res, err
		}
		pong := &wire.UnconnectedPong{
			SendTimestamp: ping.SendTimestamp,
			ServerGUID:    h.serverGUID,
			ServerName:    req.ServerName,
		}
		res.Outgoing = append(res.Outgoing, pong.Encode())
		return res, nil

	case wire.IDOpenConnectionRequest1:
		request1, err := wire.DecodeOpenConnectionRequest1(req.Data)
		if err != nil {
			return res, err
		}
		if !h.acceptor.Accepts(request1.Protocol) {
			incompatible := &wire.IncompatibleProtocolVersion{
				ServerProtocol: h.acceptor.PrimaryVersion(),
				ServerGUID:     h.serverGUID,
			}
			res.Outgoing = append(res.Outgoing, incompatible.Encode())
			h.log.Info("refused connection: incompatible protocol version",
				slog.String("peer", req.Peer.String()), slog.Int("version", int(request1.Protocol)))
			return res, nil
		}
		// The client's MTU estimate is the size it padded the request to.
		mtu := request1.MTUSize
		if mtu > req.MaxMTU {
			mtu = req.MaxMTU
		}
		reply1 := &wire.OpenConnectionReply1{ServerGUID: h.serverGUID, ServerSecurity: false, MTUSize: mtu}
		res.Outgoing = append(res.Outgoing, reply1.Encode())
		return res, nil

	case wire.IDOpenConnectionRequest2:
		request2, err := wire.DecodeOpenConnectionRequest2(req.Data)
		if err != nil {
			return res, err
		}
		if req.PortChecking && request2.ServerAddress.Port() != req.BindPort {
			h.log.Debug("ignoring connection request: port mismatch", slog.String("peer", req.Peer.String()))
			return res, nil
		}
		if request2.MTUSize < reliability.MinMTU {
			h.log.Debug("ignoring connection request: MTU too small",
				slog.String("peer", req.Peer.String()), slog.Int("mtu", int(request2.MTUSize)))
			return res, nil
		}
		if req.SessionExists {
			h.log.Debug("ignoring connection request: session already open", slog.String("peer", req.Peer.String()))
			return res, nil
		}

		finalMTU := request2.MTUSize
		if finalMTU > req.MaxMTU {
			finalMTU = req.MaxMTU
		}

		reply2 := &wire.OpenConnectionReply2{
			ServerGUID:     h.serverGUID,
			ClientAddress:  req.Peer,
			MTUSize:        finalMTU,
			ServerSecurity: false,
		}
		res.Outgoing = append(res.Outgoing, reply2.Encode())
		res.CreateSession = &NewSessionRequest{Peer: req.Peer, ClientGUID: request2.ClientGUID, MTU: finalMTU}
		return res, nil

	default:
		return res, nil
	}
}
