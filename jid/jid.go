// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package jid

import (
	"bytes"
	"errors"
	"net/netip"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// Errors returned while parsing an address.
var (
	ErrInvalidUTF8       = errors.New("jid: address contains invalid UTF-8")
	ErrEmptyLocalpart    = errors.New("jid: the localpart must be larger than 0 bytes")
	ErrEmptyResourcepart = errors.New("jid: the resourcepart must be larger than 0 bytes")
	ErrForbiddenChars    = errors.New("jid: localpart contains forbidden characters")
	ErrPartLength        = errors.New("jid: part length out of range")
	ErrInvalidIP6        = errors.New("jid: domainpart is not a valid IPv6 address")
)

// JID represents an XMPP address comprising a localpart, domainpart, and
// resourcepart.
// All parts of a JID are guaranteed to be valid UTF-8 and are stored in their
// canonical form.
// The zero value is the empty address and has an empty domainpart.
type JID struct {
	locallen  int
	domainlen int
	data      string
}

// Parse constructs a new JID from the given string representation.
func Parse(s string) (JID, error) {
	localpart, domainpart, resourcepart, err := SplitString(s)
	if err != nil {
		return JID{}, err
	}
	return New(localpart, domainpart, resourcepart)
}

// MustParse is like Parse but panics if the JID cannot be parsed.
// It simplifies safe initialization of JIDs from known-good constant strings.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		if strconv.CanBackquote(s) {
			s = "`" + s + "`"
		} else {
			s = strconv.Quote(s)
		}
		panic(`jid: Parse(` + s + `): ` + err.Error())
	}
	return j
}

// New constructs a new JID from the given localpart, domainpart, and
// resourcepart.
func New(localpart, domainpart, resourcepart string) (JID, error) {
	if !utf8.ValidString(localpart) || !utf8.ValidString(resourcepart) ||
		!utf8.ValidString(domainpart) {
		return JID{}, ErrInvalidUTF8
	}

	// RFC 7622 §3.2.1.  Preparation
	//
	//    An entity that prepares a string for inclusion in an XMPP domainpart
	//    slot MUST ensure that the string consists only of Unicode code points
	//    that are allowed in NR-LDH labels or U-labels as defined in
	//    [RFC5890].  This implies that the string MUST NOT include A-labels as
	//    defined in [RFC5890]; each A-label MUST be converted to a U-label
	//    during preparation of a string for inclusion in a domainpart slot.
	//
	// IP literals are left alone; the lookup profile would reject the brackets
	// and colons of an IPv6 literal.
	if !isIPLiteral(domainpart) {
		var err error
		domainpart, err = idna.Lookup.ToUnicode(domainpart)
		if err != nil {
			return JID{}, err
		}
	}

	var lenlocal int
	data := make([]byte, 0, len(localpart)+len(domainpart)+len(resourcepart))

	if localpart != "" {
		var err error
		data, err = precis.UsernameCaseMapped.Append(data, []byte(localpart))
		if err != nil {
			return JID{}, err
		}
		lenlocal = len(data)
	}

	data = append(data, domainpart...)

	if resourcepart != "" {
		var err error
		data, err = precis.OpaqueString.Append(data, []byte(resourcepart))
		if err != nil {
			return JID{}, err
		}
	}

	if err := commonChecks(data[:lenlocal], domainpart, data[lenlocal+len(domainpart):]); err != nil {
		return JID{}, err
	}

	return JID{
		locallen:  lenlocal,
		domainlen: len(domainpart),
		data:      string(data),
	}, nil
}

// Domain returns a copy of the JID without a resourcepart or localpart.
func (j JID) Domain() JID {
	return JID{
		domainlen: j.domainlen,
		data:      j.data[j.locallen : j.locallen+j.domainlen],
	}
}

// Localpart gets the localpart of a JID (eg "username").
func (j JID) Localpart() string {
	return j.data[:j.locallen]
}

// Domainpart gets the domainpart of a JID (eg. "example.net").
// This is the server identity used when connecting.
func (j JID) Domainpart() string {
	return j.data[j.locallen : j.locallen+j.domainlen]
}

// Resourcepart gets the resourcepart of a JID.
func (j JID) Resourcepart() string {
	return j.data[j.locallen+j.domainlen:]
}

// IsZero reports whether j is the zero value.
func (j JID) IsZero() bool {
	return j.data == ""
}

// Network satisfies the net.Addr interface by returning the name of the network
// ("xmpp").
func (JID) Network() string {
	return "xmpp"
}

// String converts a JID to its string representation.
func (j JID) String() string {
	var b strings.Builder
	b.Grow(len(j.data) + 2)
	if j.locallen > 0 {
		b.WriteString(j.Localpart())
		b.WriteByte('@')
	}
	b.WriteString(j.Domainpart())
	if rp := j.Resourcepart(); rp != "" {
		b.WriteByte('/')
		b.WriteString(rp)
	}
	return b.String()
}

// Equal performs an octet-for-octet comparison with the given JID.
func (j JID) Equal(j2 JID) bool {
	return j.locallen == j2.locallen && j.domainlen == j2.domainlen && j.data == j2.data
}

// SplitString splits out the localpart, domainpart, and resourcepart from a
// string representation of a JID. The parts are not guaranteed to be valid, and
// each part must be 1023 bytes or less.
func SplitString(s string) (localpart, domainpart, resourcepart string, err error) {
	// RFC 7622 §3.1.  Fundamentals:
	//
	//    Implementation Note: When dividing a JID into its component parts,
	//    an implementation needs to match the separator characters '@' and
	//    '/' before applying any transformation algorithms, which might
	//    decompose certain Unicode code points to the separator characters.
	//
	//    1.  Remove any portion from the first '/' character to the end of the
	//        string (if there is a '/' character present).
	if sep := strings.IndexByte(s, '/'); sep != -1 {
		if sep == len(s)-1 {
			return "", "", "", ErrEmptyResourcepart
		}
		resourcepart = s[sep+1:]
		s = s[:sep]
	}

	//    2.  Remove any portion from the beginning of the string to the first
	//        '@' character (if there is an '@' character present).
	switch sep := strings.IndexByte(s, '@'); sep {
	case -1:
		domainpart = s
	case 0:
		return "", "", "", ErrEmptyLocalpart
	default:
		domainpart = s[sep+1:]
		localpart = s[:sep]
	}

	//    If the domainpart includes a final character considered to be a label
	//    separator (dot) by [RFC1034], this character MUST be stripped from
	//    the domainpart before the JID of which it is a part is used for the
	//    purpose of routing an XML stanza [...]
	domainpart = strings.TrimSuffix(domainpart, ".")
	return localpart, domainpart, resourcepart, nil
}

func isIPLiteral(domainpart string) bool {
	if strings.HasPrefix(domainpart, "[") {
		return true
	}
	_, err := netip.ParseAddr(domainpart)
	return err == nil
}

func checkIP6String(domainpart string) error {
	l := len(domainpart)
	if !strings.HasPrefix(domainpart, "[") {
		return nil
	}
	if l < 3 || !strings.HasSuffix(domainpart, "]") {
		return ErrInvalidIP6
	}
	ip, err := netip.ParseAddr(domainpart[1 : l-1])
	if err != nil || !ip.Is6() || ip.Is4In6() {
		return ErrInvalidIP6
	}
	return nil
}

func commonChecks(localpart []byte, domainpart string, resourcepart []byte) error {
	if len(localpart) > 1023 {
		return ErrPartLength
	}

	// RFC 7622 §3.3.1 provides a small table of characters which are still not
	// allowed in localpart's even though the IdentifierClass base class and the
	// UsernameCaseMapped profile don't forbid them; disallow them here.
	if bytes.ContainsAny(localpart, `"&'/:<>@`) {
		return ErrForbiddenChars
	}

	if len(resourcepart) > 1023 {
		return ErrPartLength
	}

	if l := len(domainpart); l < 1 || l > 1023 {
		return ErrPartLength
	}

	return checkIP6String(domainpart)
}
