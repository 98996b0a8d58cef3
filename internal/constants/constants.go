/*
Package constants provides common values used across all rdns packages. Usage is to call the
global Get() function which returns the Constants by value ensuring that any modifications made
(accidental or otherwise) will not affect other modules when they call Get().

Typically usage:

    consts := constants.Get()
    fmt.Println("I am", consts.PackageName, "probe limit", consts.IDProbeLimit)

The primary reason for making this a constructed struct rather than the more typical const () block
is so that it can be fed directly into templating packages for printing usage messages.
*/
package constants

// Constants contains the system-wide constants
type Constants struct {
	DigProgramName string // Package related constants
	Version        string
	PackageName    string
	PackageURL     string

	DNSDefaultPort          string // DNS related constants
	MinimumViableDNSMessage uint   // Size of a DNS message header (MsgHdr)

	DNSUDPTransport string // Suitable for the "net" package, but just to make sure we're
	DNSTCPTransport string // consistent across the whole package.

	UDPPacketSize uint // Largest inbound UDP datagram we'll attempt to read

	TCPLengthPrefixSize uint // Size, in bytes, of the TCP length-prefix
	TCPReadBufferMin    uint // Initial allocation for a TCP read-assembly buffer
	TCPReadBufferMax    uint // Doubling growth stops here; grow-to-exact beyond this

	IDProbeLimit uint // Maximum ID-collision retries before a request-table insert fails

	MaxFakeNameLength uint // Bound on the name component of a fake-reply key

	DefaultRetransmits   uint // Default retransmit budget for a new Request
	DefaultTimeoutMillis uint // Default per-attempt timeout, in milliseconds

	DefaultMaxIOUses uint // Default per-channel usage cap before recycling (0 = unlimited)
}

var readOnlyConstants *Constants

// createReadOnlyConstants creates a read-only copy of the Constants which is copied whenever a
// caller asks for the constants set. The main reason for returning a struct is so that callers can
// inspect and/or use packages that introspect - particularly */template packages.
func createReadOnlyConstants() {
	readOnlyConstants = &Constants{
		DigProgramName: "rdns-dig",
		Version:        "v0.1.0",
		PackageName:    "rdns",
		PackageURL:     "https://github.com/markdingo/rdns",

		DNSDefaultPort:          "53",
		MinimumViableDNSMessage: 12, // A legit binary DNS header cannot be shorter than this

		DNSUDPTransport: "udp",
		DNSTCPTransport: "tcp",

		UDPPacketSize: 4096, // Generous EDNS0-sized buffer; an oversized reply is simply truncated by the kernel

		TCPLengthPrefixSize: 2,
		TCPReadBufferMin:    512,
		TCPReadBufferMax:    65536,

		IDProbeLimit: 32,

		MaxFakeNameLength: 255,

		DefaultRetransmits:   3,
		DefaultTimeoutMillis: 2000,

		DefaultMaxIOUses: 0,
	}
}

func init() {
	createReadOnlyConstants()
}

// Get returns a copy of the Constant struct. Return by value so internal values cannot be
// inadvertently changed by callers.
func Get() Constants {
	return *readOnlyConstants
}
