// Issue a DNS query straight at one or more upstreams via the rdns async stub resolver
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/markdingo/rdns"
	"github.com/markdingo/rdns/internal/constants"
	"github.com/markdingo/rdns/internal/osutil"

	"github.com/google/gops/agent"
	"github.com/miekg/dns"
)

// Program-wide variables
var (
	consts = constants.Get()
	cfg    *config

	stdout io.Writer
	stderr io.Writer

	flagSet *flag.FlagSet
)

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.DigProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

//////////////////////////////////////////////////////////////////////
// main is a wrapper for mainExecute() so tests can call mainExecute()
//////////////////////////////////////////////////////////////////////

func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	flagSet = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	if err := parseCommandLine(args); err != nil {
		return 1 // Error already printed by the flag package
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.DigProgramName, "Version:", consts.Version)
		return 0
	}

	if cfg.servers.NArg() == 0 {
		return fatal("At least one -server is required. Consider -h")
	}
	if flagSet.NArg() < 1 {
		return fatal("Require FQDN on command line. Consider -h")
	}

	qName := dns.Fqdn(flagSet.Arg(0))
	qTypeString := "A"
	if flagSet.NArg() > 1 {
		qTypeString = strings.ToUpper(flagSet.Arg(1))
	}
	qType, ok := dns.StringToType[qTypeString]
	if !ok {
		return fatal("Unrecognized qType of", qTypeString)
	}
	if flagSet.NArg() > 2 {
		return fatal("Don't know what to do with residual goop on command line:", flagSet.Arg(2))
	}

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fatal("gops:", err)
		}
	}

	driver, err := newEpollDriver()
	if err != nil {
		return fatal(err)
	}
	defer driver.close()

	resolver := rdns.New()
	resolver.BindAsync(driver)
	resolver.SetDNSSEC(cfg.dnssec)

	for _, hostport := range cfg.servers.Args() {
		ip, port, err := splitHostPort(hostport)
		if err != nil {
			return fatal(err)
		}
		if _, err := resolver.AddServer(ip, port, 0, cfg.udpChannels, cfg.tcpChannels); err != nil {
			return fatal("-server", hostport, err)
		}
	}

	if err := resolver.Init(); err != nil {
		return fatal(err)
	}

	if len(cfg.setuidName) > 0 || len(cfg.setgidName) > 0 || len(cfg.chrootDir) > 0 {
		if err := osutil.Constrain(cfg.setuidName, cfg.setgidName, cfg.chrootDir); err != nil {
			return fatal(err)
		}
		if cfg.verbose {
			fmt.Fprintf(stderr, "Constraints: %s\n", osutil.ConstraintReport())
		}
	}

	type outcome struct {
		reply *rdns.Reply
		err   error
	}
	done := make(chan outcome, 1)

	query := rdns.NewQuery(qName, qType)
	start := time.Now()
	_, err = resolver.MakeRequest(query, cfg.timeout, cfg.retransmits,
		func(req *rdns.Request, reply *rdns.Reply, err error) {
			done <- outcome{reply: reply, err: err}
		}, nil)
	if err != nil {
		return fatal(err)
	}

	stop := make(chan struct{})
	runErr := make(chan error, 1)
	go func() { runErr <- driver.run(stop) }()

	// Belt-and-braces overall deadline: every attempt already carries its own timer via the
	// driver, but a stuck epoll_wait should never hang this program forever.
	overall := time.NewTimer(cfg.timeout*time.Duration(cfg.retransmits+2) + time.Second)
	defer overall.Stop()

	var result outcome
	select {
	case result = <-done:
	case err := <-runErr:
		if err != nil {
			return fatal(err)
		}
	case <-overall.C:
		return fatal("timed out waiting for a reply")
	}
	close(stop)

	elapsed := time.Since(start).Truncate(time.Millisecond)

	if result.err != nil {
		fmt.Fprintln(stderr, "Error:", result.err)
		return 1
	}

	for _, rr := range result.reply.Answer {
		fmt.Fprintln(stdout, rr.String())
	}
	if cfg.verbose {
		fmt.Fprintf(stderr, ";; Rcode: %s\n", rdns.RcodeString(result.reply.Rcode))
		fmt.Fprintf(stderr, ";; Authentic: %v Truncated: %v\n", result.reply.Authentic, result.reply.Truncated)
		fmt.Fprintf(stderr, ";; Query Time: %s\n", elapsed)
	}

	return 0
}

// splitHostPort splits a -server value into an IP literal and port, defaulting to the standard DNS
// port when none is supplied.
func splitHostPort(hostport string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
		portStr = consts.DNSDefaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("-server %q: invalid port: %w", hostport, err)
	}

	return host, port, nil
}
