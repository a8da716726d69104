// Package address parses the sender and recipient headers of an inbound
// message into canonical single mailboxes.
package address

import (
	"mime"
	"net/mail"
	"strings"

	"github.com/emersion/go-message/charset"

	"github.com/shineum/inkpost/internal/fault"
)

var parser = mail.AddressParser{
	WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
}

// Mailbox is a canonical (lower-cased) address split into its parts.
type Mailbox struct {
	Local  string
	Domain string
}

func (m Mailbox) String() string {
	return m.Local + "@" + m.Domain
}

// Pair is the resolved sender and recipient of a message.
type Pair struct {
	From Mailbox
	To   Mailbox
}

// Resolve parses the raw From and To headers. Either header failing to
// yield exactly one mailbox is a malformed_address fault.
func Resolve(from, to string) (Pair, error) {
	f, err := Parse(from)
	if err != nil {
		return Pair{}, fault.Wrap(fault.MalformedAddress, err, "invalid from address")
	}
	t, err := Parse(to)
	if err != nil {
		return Pair{}, fault.Wrap(fault.MalformedAddress, err, "invalid to address")
	}
	return Pair{From: f, To: t}, nil
}

// Parse parses a header value holding exactly one mailbox. Display names
// and RFC 2047 encoded words are accepted and discarded.
func Parse(raw string) (Mailbox, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Mailbox{}, fault.New(fault.MalformedAddress, "empty address")
	}

	list, err := parser.ParseList(raw)
	if err != nil {
		return Mailbox{}, fault.Wrap(fault.MalformedAddress, err, "unparseable address")
	}
	if len(list) != 1 {
		return Mailbox{}, fault.New(fault.MalformedAddress, "expected one mailbox, got %d", len(list))
	}

	addr := strings.ToLower(list[0].Address)
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return Mailbox{}, fault.New(fault.MalformedAddress, "address %q has no domain", addr)
	}
	return Mailbox{Local: addr[:at], Domain: addr[at+1:]}, nil
}
