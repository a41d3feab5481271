// Package item holds item stacks and the slot arithmetic used to pack
// dropped items into chest inventories.
package item

const (
	SingleChestSlots = 27
	DoubleChestSlots = 54

	// ChestType is the item that satisfies the required-chest policy.
	ChestType = "CHEST"
)

type Stack struct {
	Type string `json:"type"`
	// Meta is an opaque digest of everything besides type and count
	// (enchantments, name, damage). Stacks merge only when Meta matches.
	Meta     string `json:"meta,omitempty"`
	Count    int    `json:"count"`
	MaxStack int    `json:"max_stack"`
}

func (s Stack) Empty() bool { return s.Type == "" || s.Count <= 0 }

// Similar reports whether two stacks hold the same item and could merge.
func (s Stack) Similar(o Stack) bool {
	return s.Type == o.Type && s.Meta == o.Meta && s.maxStack() == o.maxStack()
}

func (s Stack) maxStack() int {
	if s.MaxStack <= 0 {
		return 1
	}
	return s.MaxStack
}

func Clone(stacks []Stack) []Stack {
	if stacks == nil {
		return nil
	}
	return append([]Stack(nil), stacks...)
}

// Consolidate merges similar stacks front to back, topping each stack up to
// its max size from later ones. Empty stacks are dropped. The input is not
// modified and the first-occurrence order is kept.
func Consolidate(stacks []Stack) []Stack {
	work := make([]Stack, 0, len(stacks))
	for _, s := range stacks {
		if !s.Empty() {
			work = append(work, s)
		}
	}
	for i := range work {
		if work[i].Count <= 0 {
			continue
		}
		for j := i + 1; j < len(work) && work[i].Count < work[i].maxStack(); j++ {
			if work[j].Count <= 0 || !work[i].Similar(work[j]) {
				continue
			}
			n := min(work[i].maxStack()-work[i].Count, work[j].Count)
			work[i].Count += n
			work[j].Count -= n
		}
	}
	out := work[:0]
	for _, s := range work {
		if s.Count > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Fill places stacks into at most capacity slots in order and returns what
// did not fit.
func Fill(stacks []Stack, capacity int) (placed, remaining []Stack) {
	if capacity < 0 {
		capacity = 0
	}
	if len(stacks) <= capacity {
		return Clone(stacks), nil
	}
	return Clone(stacks[:capacity]), Clone(stacks[capacity:])
}

// TakeOne removes a single unit of typ. It reports false when no stack of typ exists.
func TakeOne(stacks []Stack, typ string) ([]Stack, bool) {
	for i, s := range stacks {
		if s.Type != typ || s.Count <= 0 {
			continue
		}
		out := Clone(stacks)
		if s.Count > 1 {
			out[i].Count--
			return out, true
		}
		return append(out[:i], out[i+1:]...), true
	}
	return stacks, false
}

func Contains(stacks []Stack, typ string) bool {
	for _, s := range stacks {
		if s.Type == typ && s.Count > 0 {
			return true
		}
	}
	return false
}

func Total(stacks []Stack) int {
	n := 0
	for _, s := range stacks {
		if s.Count > 0 {
			n += s.Count
		}
	}
	return n
}

func Equal(a, b []Stack) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
