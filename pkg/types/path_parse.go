package types

import (
	"fmt"
	"strconv"
	"strings"
)

var resourceKindByName = map[string]ResourceKind{
	"sys": System,
	"cpu": CPU,
	"gpu": GPU,
	"acc": Accelerator,
	"mem": Memory,
	"pe":  ProcElement,
	"net": Network,
}

// ParseResourcePath parses a dotted path such as "sys0.cpu1.pe3", or a
// template such as "sys0.cpu0.peANY", into a ResourcePath. Each segment is a
// kind prefix (one of the resourceKindNames) followed by either a decimal
// id, "ANY", or "NONE".
func ParseResourcePath(s string) (ResourcePath, error) {
	if s == "" {
		return ResourcePath{}, &InvalidPathError{Reason: "empty path string"}
	}
	parts := strings.Split(s, ".")
	segs := make([]ResourceSegment, 0, len(parts))
	for _, part := range parts {
		kind, id, err := parseSegment(part)
		if err != nil {
			return ResourcePath{}, err
		}
		segs = append(segs, ResourceSegment{Kind: kind, ID: id})
	}
	return NewResourcePath(segs...)
}

func parseSegment(part string) (ResourceKind, int, error) {
	// Kind prefixes are ordered longest-first so "acc" doesn't shadow "a".
	names := make([]string, 0, len(resourceKindByName))
	for n := range resourceKindByName {
		names = append(names, n)
	}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if len(names[j]) > len(names[i]) {
				names[i], names[j] = names[j], names[i]
			}
		}
	}
	for _, name := range names {
		if strings.HasPrefix(part, name) {
			rest := part[len(name):]
			kind := resourceKindByName[name]
			switch rest {
			case "ANY":
				return kind, IDAny, nil
			case "NONE":
				return kind, IDNone, nil
			default:
				id, err := strconv.Atoi(rest)
				if err != nil {
					return 0, 0, &InvalidPathError{Reason: fmt.Sprintf("bad id in segment %q", part)}
				}
				return kind, id, nil
			}
		}
	}
	return 0, 0, &InvalidPathError{Reason: fmt.Sprintf("unrecognized resource kind in segment %q", part)}
}

// RewriteSystemID returns path with its leading System segment's id
// replaced by sysID, used by Agent RPC (§4.9) to translate a remote peer's
// "sysN...." path into the local instance's always-"sys0" numbering.
func RewriteSystemID(path ResourcePath, sysID int) ResourcePath {
	segs := append([]ResourceSegment(nil), path.Segments()...)
	if len(segs) > 0 && segs[0].Kind == System {
		segs[0].ID = sysID
	}
	out, _ := NewResourcePath(segs...)
	return out
}
