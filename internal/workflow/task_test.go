package workflow

import "testing"

func TestCompareTaskIDsNumericSegments(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1", "2", -1},
		{"2", "10", -1},
		{"10", "2", 1},
		{"10", "10.1", -1},
		{"10.1", "10.2", -1},
		{"10.1", "11", -1},
		{"1", "1", 0},
	}
	for _, c := range cases {
		got := CompareTaskIDs(c.a, c.b)
		if sign(got) != sign(c.want) {
			t.Errorf("CompareTaskIDs(%q, %q) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestNewTaskDepthFromID(t *testing.T) {
	cases := map[string]int{
		"1":       0,
		"1.2":     1,
		"1.2.3":   2,
		"10.1.99": 2,
	}
	for id, wantDepth := range cases {
		task := NewTask(id, "", "d", "tool")
		if task.Depth != wantDepth {
			t.Errorf("NewTask(%q).Depth = %d, want %d", id, task.Depth, wantDepth)
		}
	}
}
