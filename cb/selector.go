package cb

import (
	"strings"

	"github.com/pkg/errors"
)

// The reserved literals which never name a concrete server. The "all"
// literal names the built-in server whose configuration applies to
// every server; the remaining two are selector keywords only.
const (
	ServerTagAll        = "all"
	ServerTagAny        = "any"
	ServerTagUnassigned = "unassigned"
)

// Kind of a server selector.
type SelectorKind int

// Valid selector kinds.
const (
	// Selects the configuration elements assigned to no server.
	SelectorUnassigned SelectorKind = iota
	// Selects the elements assigned to the built-in "all" server.
	SelectorAll
	// Selects the elements assigned to one server by tag.
	SelectorOne
	// Selects the elements assigned to multiple servers by tags.
	SelectorMultiple
	// Selects the elements regardless of the assignment.
	SelectorAny
)

// A server selector addresses the servers whose configuration an
// operation works on. Reads with the one-server or multiple-servers
// selector also match the elements assigned to the built-in "all"
// server, because those elements apply to every server. Writes
// require the all, one or multiple kind; deletes with the all kind
// touch only the elements assigned to the "all" server.
type ServerSelector struct {
	kind SelectorKind
	tags []string
}

// Returns the selector of the elements assigned to no server.
func SelectUnassigned() ServerSelector {
	return ServerSelector{kind: SelectorUnassigned}
}

// Returns the selector of the elements assigned to the built-in "all"
// server.
func SelectAll() ServerSelector {
	return ServerSelector{kind: SelectorAll}
}

// Returns the selector of the elements assigned to the server with
// the given tag.
func SelectOne(tag string) ServerSelector {
	return ServerSelector{kind: SelectorOne, tags: []string{tag}}
}

// Returns the selector of the elements assigned to any of the servers
// with the given tags.
func SelectMultiple(tags ...string) ServerSelector {
	return ServerSelector{kind: SelectorMultiple, tags: tags}
}

// Returns the selector matching the elements regardless of the server
// assignment.
func SelectAny() ServerSelector {
	return ServerSelector{kind: SelectorAny}
}

// Parses the textual form of a selector: the "all", "any" and
// "unassigned" keywords or a comma separated list of server tags.
func ParseServerSelector(text string) (ServerSelector, error) {
	switch strings.TrimSpace(text) {
	case ServerTagAll:
		return SelectAll(), nil
	case ServerTagAny:
		return SelectAny(), nil
	case ServerTagUnassigned:
		return SelectUnassigned(), nil
	}
	fields := strings.Split(text, ",")
	tags := make([]string, 0, len(fields))
	for _, field := range fields {
		tag := strings.TrimSpace(field)
		if err := ValidateServerTag(tag); err != nil {
			return ServerSelector{}, err
		}
		tags = append(tags, tag)
	}
	if len(tags) == 1 {
		return SelectOne(tags[0]), nil
	}
	return SelectMultiple(tags...), nil
}

// Returns the selector kind.
func (selector ServerSelector) Kind() SelectorKind {
	return selector.kind
}

// Returns the tags of a one-server or multiple-servers selector.
func (selector ServerSelector) Tags() []string {
	return selector.tags
}

// Returns the tags a read with this selector matches, including the
// implicit "all" tag where applicable. The second value is false when
// the selector matches regardless of the tags.
func (selector ServerSelector) ReadTags() (tags []string, filter bool) {
	switch selector.kind {
	case SelectorAll:
		return []string{ServerTagAll}, true
	case SelectorOne, SelectorMultiple:
		tags = make([]string, 0, len(selector.tags)+1)
		tags = append(tags, selector.tags...)
		tags = append(tags, ServerTagAll)
		return tags, true
	default:
		return nil, false
	}
}

// Returns the tags a write with this selector assigns the element to.
func (selector ServerSelector) WriteTags() []string {
	if selector.kind == SelectorAll {
		return []string{ServerTagAll}
	}
	return selector.tags
}

// Validates the selector for a write operation. Writing with the any
// or unassigned kind is not supported because neither names the servers
// the element would be assigned to. The named tags must be valid;
// assigning an element to the built-in "all" server requires the all
// kind rather than naming the reserved tag.
func (selector ServerSelector) CheckWrite() error {
	switch selector.kind {
	case SelectorUnassigned, SelectorAny:
		return errors.Wrapf(ErrNotImplemented, "writing with the %s server selector is not supported", selector)
	case SelectorAll:
		return nil
	}
	if len(selector.tags) == 0 {
		return errors.Wrap(ErrInvalidParameter, "a write requires at least one server tag")
	}
	for _, tag := range selector.tags {
		if err := ValidateServerTag(tag); err != nil {
			return err
		}
	}
	return nil
}

// Validates the selector for a read operation. Fetching the elements
// assigned to no server is not supported.
func (selector ServerSelector) CheckRead() error {
	if selector.kind == SelectorUnassigned {
		return errors.Wrap(ErrNotImplemented, "fetching the unassigned configuration elements is not supported")
	}
	return nil
}

// Validates the selector for a delete operation. Unlike a write, a
// delete accepts the any kind; deleting the elements assigned to no
// server is not supported.
func (selector ServerSelector) CheckDelete() error {
	if selector.kind == SelectorUnassigned {
		return errors.Wrap(ErrNotImplemented, "deleting the unassigned configuration elements is not supported")
	}
	return nil
}

// Returns the textual form of the selector.
func (selector ServerSelector) String() string {
	switch selector.kind {
	case SelectorAll:
		return ServerTagAll
	case SelectorAny:
		return ServerTagAny
	case SelectorUnassigned:
		return ServerTagUnassigned
	default:
		return strings.Join(selector.tags, ", ")
	}
}

// Validates a server tag. A tag must be a non-empty single word and
// must not collide with the reserved literals.
func ValidateServerTag(tag string) error {
	if tag == "" {
		return errors.Wrap(ErrInvalidParameter, "server tag must not be empty")
	}
	if strings.ContainsAny(tag, " \t") {
		return errors.Wrapf(ErrInvalidParameter, "server tag %s must not contain whitespace", tag)
	}
	switch strings.ToLower(tag) {
	case ServerTagAll, ServerTagAny, ServerTagUnassigned:
		return errors.Wrapf(ErrInvalidParameter, "server tag %s is reserved", tag)
	}
	return nil
}
