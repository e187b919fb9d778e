package varjofuseclient

import (
	"bytes"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
	"github.com/function61/varjo/pkg/varjoblock"
)

func TestBlockRowsTabSeparated(t *testing.T) {
	created := time.Date(2020, 9, 8, 10, 0, 0, 0, time.Local)

	out := &bytes.Buffer{}
	writeTabSeparated(out, blockRows([]varjoblock.Block{
		{Path: "/tmp/VMwareDnD/abc", Owner: "dnd", Created: created, Waiters: 2},
		{Path: "/tmp/other", Owner: "cli", Created: created},
	}))

	assert.EqualString(t, out.String(), `/tmp/VMwareDnD/abc	dnd	`+created.Format(time.RFC3339)+`	2
/tmp/other	cli	`+created.Format(time.RFC3339)+`	0
`)
}
