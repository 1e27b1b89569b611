// Package identifier recognizes backend identifiers and splits them into
// a target and a backend-local key. Matching is purely lexical.
package identifier

import (
	stderrors "errors"
	"path"
	"strings"

	"github.com/objectfs/assetresolver/pkg/errors"
	"github.com/objectfs/assetresolver/pkg/types"
)

// ErrPathEscape is the cause of a MALFORMED_IDENTIFIER error for a key
// that climbs above its target root.
var ErrPathEscape = stderrors.New("path escapes target root")

// Parser matches one backend's identifier grammar:
//
//	<prefix>[//]<target>/<key>
//	<target>/<key><suffix>
//
// The key keeps its leading slash, e.g. "sql://db/models/a.obj" parses
// to target "db", key "/models/a.obj".
type Parser struct {
	backend string
	prefix  string
	suffix  string
	aliases map[string]string
}

// Option configures a Parser.
type Option func(*Parser)

// WithPrefix sets the scheme token identifiers start with, such as "s3:".
func WithPrefix(prefix string) Option {
	return func(p *Parser) { p.prefix = prefix }
}

// WithSuffix sets a token identifiers may end with instead, such as ".s3".
// The suffix is stripped before the target is split off.
func WithSuffix(suffix string) Option {
	return func(p *Parser) { p.suffix = suffix }
}

// WithTargetAlias rewrites a parsed target, e.g. "localhost" to "127.0.0.1".
func WithTargetAlias(from, to string) Option {
	return func(p *Parser) {
		if p.aliases == nil {
			p.aliases = make(map[string]string)
		}
		p.aliases[from] = to
	}
}

// NewParser creates a parser for the named backend.
func NewParser(backend string, opts ...Option) *Parser {
	p := &Parser{backend: backend}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Backend returns the backend name parsed locations carry.
func (p *Parser) Backend() string {
	return p.backend
}

// Matches reports whether identifier uses this parser's scheme.
func (p *Parser) Matches(identifier string) bool {
	if p.prefix != "" && strings.HasPrefix(identifier, p.prefix) {
		return true
	}
	return p.suffix != "" && len(identifier) > len(p.suffix) && strings.HasSuffix(identifier, p.suffix)
}

// Parse splits identifier into target and key. Dot segments in the key
// are resolved lexically, so "b/models/../tex/a.png" addresses
// "/tex/a.png" of target "b". A key that climbs above the target root is
// rejected with an error matching ErrPathEscape.
func (p *Parser) Parse(identifier string) (types.Location, error) {
	parts, err := p.split(identifier)
	if err != nil {
		return types.Location{}, err
	}

	target := parts.target
	if alias, ok := p.aliases[target]; ok {
		target = alias
	}
	return types.Location{Backend: p.backend, Target: target, Key: parts.key}, nil
}

// Normalize returns identifier with its key's dot segments resolved. The
// scheme form and the target are kept as written.
func (p *Parser) Normalize(identifier string) (string, error) {
	parts, err := p.split(identifier)
	if err != nil {
		return "", err
	}
	return parts.head + parts.target + parts.key + parts.tail, nil
}

type idParts struct {
	head   string // scheme prefix including any "//"
	target string
	key    string
	tail   string // scheme suffix
}

func (p *Parser) split(identifier string) (idParts, error) {
	var parts idParts
	var rest string
	switch {
	case p.prefix != "" && strings.HasPrefix(identifier, p.prefix):
		rest = identifier[len(p.prefix):]
		parts.head = p.prefix
		if strings.HasPrefix(rest, "//") {
			rest = rest[2:]
			parts.head += "//"
		}
	case p.Matches(identifier):
		rest = strings.TrimSuffix(identifier, p.suffix)
		parts.tail = p.suffix
	default:
		return parts, p.malformed(identifier, "scheme does not match", nil)
	}

	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return parts, p.malformed(identifier, "missing key after target", nil)
	}

	parts.target, parts.key = rest[:slash], rest[slash:]
	switch parts.target {
	case "":
		return parts, p.malformed(identifier, "missing target", nil)
	case ".", "..":
		return parts, p.malformed(identifier, "target is a relative path element", ErrPathEscape)
	}
	if strings.Trim(parts.key, "/") == "" {
		return parts, p.malformed(identifier, "missing key after target", nil)
	}

	key, ok := cleanKey(parts.key)
	if !ok {
		return parts, p.malformed(identifier, "key climbs above the target root", ErrPathEscape)
	}
	if strings.Trim(key, "/") == "" {
		return parts, p.malformed(identifier, "missing key after target", nil)
	}
	parts.key = key
	return parts, nil
}

// cleanKey resolves "." and ".." segments of a slash-led key. Keys
// without dot segments are returned unchanged. It reports false when a
// ".." would leave the root.
func cleanKey(key string) (string, bool) {
	depth, dotted := 0, false
	for _, seg := range strings.Split(key, "/") {
		switch seg {
		case "":
		case ".":
			dotted = true
		case "..":
			dotted = true
			depth--
			if depth < 0 {
				return "", false
			}
		default:
			depth++
		}
	}
	if !dotted {
		return key, true
	}
	return path.Clean(key), true
}

func (p *Parser) malformed(identifier, reason string, cause error) error {
	err := errors.NewError(errors.ErrCodeMalformedIdentifier, reason).
		WithComponent("identifier").
		WithIdentifier(identifier).
		WithTarget(p.backend, "")
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}

// IsPathEscape reports whether err rejects an identifier whose key or
// target leaves the target root. Such identifiers are never plain paths.
func IsPathEscape(err error) bool {
	return stderrors.Is(err, ErrPathEscape)
}

var _ types.Parser = (*Parser)(nil)
