package main

import (
	"fmt"
	"io"
	"text/template"
	"time"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.DigProgramName}} -- issue a DNS query via the rdns async stub resolver

SYNOPSIS
          {{.DigProgramName}} [options] -server host[:port] FQDN [DNS-qType]

DESCRIPTION
          {{.DigProgramName}} drives github.com/markdingo/rdns directly against one or more
          recursive or authoritative servers, rather than via a DoH intermediary. It exists
          primarily to exercise the library end to end: it supplies a small epoll-based
          AsyncDriver, constructs a Resolver, issues one query and prints the reply.

          **********
          Production Use Alert: {{.DigProgramName}} is a diagnostic program which will almost
          certainly change with each new package release. Please do not rely on its current
          behaviour or output format and definitely do not use it in a shell script.
          **********

EXAMPLES
            $ {{.DigProgramName}} -server 9.9.9.9 yahoo.com MX
            $ {{.DigProgramName}} -server 192.168.1.1:53 -server 192.168.1.2:53 -retransmits 2 example.com

OPTIONS
          [-h] [-v] [-dnssec] [-gops]

          [-server host[:port]]...
          [-udp-channels n] [-tcp-channels n]
          [-retransmits n] [-timeout duration]

          [-setuid user] [-setgid group] [-chroot dir]

          [-version]
`

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err) // We've messed up our template
	}
	if err := tmpl.Execute(out, consts); err != nil {
		panic(err)
	}
	flagSet.SetOutput(out)
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

// parseCommandLine sets up the flags-to-config mapping and parses the supplied command line
// arguments. It starts from scratch each time to make it easier for test wrappers to use.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.verbose, "v", false, "Print query/response summary to Stderr")
	flagSet.BoolVar(&cfg.dnssec, "dnssec", false, "Set the DNSSEC OK (DO) bit on outgoing queries")
	flagSet.BoolVar(&cfg.gops, "gops", false, "Start the github.com/google/gops agent for live introspection")

	flagSet.Var(&cfg.servers, "server", "Upstream `host[:port]` to query; may be repeated")
	flagSet.IntVar(&cfg.udpChannels, "udp-channels", 1, "UDP `channels` to open per upstream")
	flagSet.IntVar(&cfg.tcpChannels, "tcp-channels", 1, "TCP `channels` to open per upstream")
	flagSet.UintVar(&cfg.retransmits, "retransmits", 2, "Retransmit `budget` per query")
	flagSet.DurationVar(&cfg.timeout, "timeout", 2*time.Second, "Per-attempt `timeout`")

	flagSet.StringVar(&cfg.setuidName, "setuid", "", "Downgrade to `user` once channels are open")
	flagSet.StringVar(&cfg.setgidName, "setgid", "", "Downgrade to `group` once channels are open")
	flagSet.StringVar(&cfg.chrootDir, "chroot", "", "Chroot to `dir` once channels are open")

	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	return flagSet.Parse(args[1:])
}
