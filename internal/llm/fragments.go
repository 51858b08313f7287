package llm

import (
	"sort"
	"strings"
)

// fragmentMap reassembles tool calls from streamed fragments. Both
// providers emit a call's id and name once and its argument JSON in
// pieces; every fragment carries the stream index of the content block
// it belongs to, which is the only reliable correlation key when
// several calls stream concurrently.
type fragmentMap struct {
	frags map[int]*fragment
}

type fragment struct {
	id   string
	name string
	args strings.Builder
}

func newFragmentMap() *fragmentMap {
	return &fragmentMap{frags: make(map[int]*fragment)}
}

func (m *fragmentMap) frag(index int) *fragment {
	f, ok := m.frags[index]
	if !ok {
		f = &fragment{}
		m.frags[index] = f
	}
	return f
}

// start records a call's identity at the given stream index. Empty
// values are ignored so later fragments can fill in what the first one
// carried.
func (m *fragmentMap) start(index int, id, name string) {
	f := m.frag(index)
	if id != "" {
		f.id = id
	}
	if name != "" {
		f.name = name
	}
}

// appendArgs concatenates a piece of argument JSON for the call at index.
func (m *fragmentMap) appendArgs(index int, piece string) {
	if piece == "" {
		return
	}
	m.frag(index).args.WriteString(piece)
}

func (m *fragmentMap) empty() bool {
	return len(m.frags) == 0
}

// calls returns the reassembled tool calls ordered by stream index.
// A call that streamed no argument bytes gets an empty JSON object.
func (m *fragmentMap) calls() []ToolCall {
	if len(m.frags) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(m.frags))
	for i := range m.frags {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		f := m.frags[i]
		args := f.args.String()
		if args == "" {
			args = "{}"
		}
		out = append(out, ToolCall{
			ID:        f.id,
			Index:     i,
			Name:      f.name,
			Arguments: args,
		})
	}
	return out
}
