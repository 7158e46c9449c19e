package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSubTasks(t *testing.T) {
	tests := []struct {
		name        string
		description string
		want        []string
	}{
		{
			name:        "dash markers",
			description: "- alpha\n- beta",
			want:        []string{"alpha", "beta"},
		},
		{
			name:        "numbered markers",
			description: "1. first\n2. second\n10. tenth",
			want:        []string{"first", "second", "tenth"},
		},
		{
			name:        "task prefix is case-insensitive",
			description: "Task one\nTASK two\ntask three",
			want:        []string{"one", "two", "three"},
		},
		{
			name:        "plain prose is a leaf",
			description: "summarize the quarterly report in one paragraph",
			want:        nil,
		},
		{
			name:        "header line ignored, bullets kept",
			description: "analyze the data:\n- load it\n- clean it\n- plot it",
			want:        []string{"load it", "clean it", "plot it"},
		},
		{
			name:        "three leading digits are data, not a marker",
			description: "123 build the index",
			want:        nil,
		},
		{
			name:        "two leading digits are a marker",
			description: "12 build the index",
			want:        []string{"build the index"},
		},
		{
			name:        "marker with nothing behind it is dropped",
			description: "- \n-\n1.\ntask",
			want:        nil,
		},
		{
			name:        "blank lines and whitespace",
			description: "\n   - indented   \n\n",
			want:        []string{"indented"},
		},
		{
			name:        "stacked markers collapse",
			description: "-1. mixed marker",
			want:        []string{"mixed marker"},
		},
		{
			name:        "task prefix nests",
			description: "task task go deeper",
			want:        []string{"task go deeper"},
		},
		{
			name:        "empty description",
			description: "",
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSubTasks(tt.description))
		})
	}
}
