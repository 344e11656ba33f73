package vafs

import "strings"

// Path is the parsed form of a POSIX-style path string: segments
// with empty components and "." dropped, ".." resolved at join time, and
// an Absolute flag tracking whether the original string began with "/".
type Path struct {
	Absolute bool
	Segments []string
}

// ParsePath splits s on "/", dropping empty segments and ".", and resolves
// ".." against the segments accumulated so far.
func ParsePath(s string) Path {
	p := Path{Absolute: strings.HasPrefix(s, "/")}
	for _, seg := range strings.Split(s, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(p.Segments) > 0 {
				p.Segments = p.Segments[:len(p.Segments)-1]
			}
		default:
			p.Segments = append(p.Segments, seg)
		}
	}
	return p
}

// Join resolves other against p, segment by segment, the same way a shell
// resolves a relative `cd` argument against the current directory. An
// absolute other replaces p outright.
func (p Path) Join(other string) Path {
	rel := ParsePath(other)
	if rel.Absolute {
		return rel
	}

	out := Path{Absolute: p.Absolute, Segments: append([]string(nil), p.Segments...)}
	for _, seg := range strings.Split(other, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out.Segments) > 0 {
				out.Segments = out.Segments[:len(out.Segments)-1]
			}
		default:
			out.Segments = append(out.Segments, seg)
		}
	}
	return out
}

// String renders the path back to a POSIX-style string.
func (p Path) String() string {
	joined := strings.Join(p.Segments, "/")
	if p.Absolute {
		return "/" + joined
	}
	return joined
}

// Empty reports whether the path has no segments (root, however it got
// there).
func (p Path) Empty() bool { return len(p.Segments) == 0 }

// rawSegments splits s on "/", dropping empty components and ".", but
// keeps ".." as a literal segment instead of resolving it lexically. Used
// by Facade.Resolve, where ".." must walk actual node state (crossing
// Archive/Object/Prefix boundaries) rather than pop a string segment.
func rawSegments(s string) (absolute bool, segments []string) {
	absolute = strings.HasPrefix(s, "/")
	for _, seg := range strings.Split(s, "/") {
		if seg == "" || seg == "." {
			continue
		}
		segments = append(segments, seg)
	}
	return absolute, segments
}
