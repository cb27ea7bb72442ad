package engine

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	iface "FloorAuditServer/interface"
)

// ReadLinesReadFile reads a labels file, one label per line. CRLF endings
// are accepted and blank lines are dropped.
func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(b), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// ResolveNames turns a NamesConf into an ordered label table.
func ResolveNames(names iface.NamesConf) ([]string, error) {
	if names.IsFile {
		path, ok := names.Data.(string)
		if !ok {
			return nil, fmt.Errorf("names file must be a string path, got %T", names.Data)
		}
		lines, err := ReadLinesReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read labels %s: %w", path, err)
		}
		return lines, nil
	}
	switch v := names.Data.(type) {
	case nil:
		return []string{}, nil
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("label %d is %T, want string", i, item)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("names must be a slice or a file path, got %T", names.Data)
	}
}

// LabelFor maps a class index to its label, synthesizing class_<N> for
// indices the table does not cover.
func LabelFor(labels []string, classIdx int) string {
	if classIdx >= 0 && classIdx < len(labels) && labels[classIdx] != "" {
		return labels[classIdx]
	}
	return "class_" + strconv.Itoa(classIdx)
}
