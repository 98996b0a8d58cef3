package rdns

import (
	"errors"
	"fmt"
	"net"
)

// Server is one configured upstream recursive resolver. Liveness/revival/round-robin bookkeeping is
// delegated entirely to the bestserver.Manager installed on the Resolver (see selector.go) rather
// than duplicated here; Server only holds what the selector needs to identify it and what the I/O
// engine needs to reach it.
type Server struct {
	name     string // numeric IPv4/IPv6 literal, as validated by AddServer
	port     int
	priority int

	addr *net.UDPAddr // resolved once at AddServer time; also used as the TCP dial address

	udp []*Channel
	tcp []*Channel

	udpCursor int // next udp channel to hand out; see nextUDPChannel/anyTCPChannel
	tcpCursor int
}

// Name satisfies bestserver.Server so a Server can be handed straight to internal/bestserver.
func (s *Server) Name() string {
	return fmt.Sprintf("%s:%d", s.name, s.port)
}

func newServer(name string, port, priority, udpChannels, tcpChannels int) (*Server, error) {
	if len(name) == 0 {
		return nil, errors.New("rdns: AddServer: name must not be empty")
	}
	if port == 0 {
		return nil, errors.New("rdns: AddServer: port must not be zero")
	}
	if udpChannels == 0 && tcpChannels == 0 {
		return nil, errors.New("rdns: AddServer: at least one UDP or TCP channel is required")
	}

	ip := net.ParseIP(name)
	if ip == nil {
		return nil, fmt.Errorf("rdns: AddServer: %q is not a valid IPv4 or IPv6 literal", name)
	}

	return &Server{
		name:     name,
		port:     port,
		priority: priority,
		addr:     &net.UDPAddr{IP: ip, Port: port},
		udp:      make([]*Channel, 0, udpChannels),
		tcp:      make([]*Channel, 0, tcpChannels),
	}, nil
}

// nextUDPChannel picks a channel on this server, round-robin, for a new send or a retransmit that
// stayed on the same server.
func (s *Server) nextUDPChannel() *Channel {
	if len(s.udp) == 0 {
		return nil
	}
	c := s.udp[s.udpCursor%len(s.udp)]
	s.udpCursor++

	return c
}

// anyTCPChannel picks a TCP channel on this server round-robin (there is no per-channel health
// here, unlike servers), used by UDP->TCP rescheduling.
func (s *Server) anyTCPChannel() *Channel {
	if len(s.tcp) == 0 {
		return nil
	}
	c := s.tcp[s.tcpCursor%len(s.tcp)]
	s.tcpCursor++

	return c
}
