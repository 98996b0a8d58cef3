package main

import (
	"time"

	"github.com/markdingo/rdns/internal/flagutil"
)

type config struct {
	help    bool
	version bool
	gops    bool
	verbose bool
	dnssec  bool

	udpChannels int
	tcpChannels int
	retransmits uint
	timeout     time.Duration

	setuidName, setgidName, chrootDir string

	servers flagutil.StringValue // repeated -server host[:port] flags
}
