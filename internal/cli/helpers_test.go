package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: mixed_groups
description: An async group on a worker lane and a sync group on the caller.
units:
  - name: A
    group: One
  - name: B
    group: Two
    sync: true
assertions:
  - type: off_caller
    units: [A]
  - type: on_caller
    units: [B]
`

const failingScenario = `name: wrong_lane
description: The last entry always runs on the caller.
units:
  - name: A
  - name: B
assertions:
  - type: off_caller
    units: [B]
`

const batchScenario = `name: batch_writes
description: Grouped batches commit together while a failing audit unit is reported.
operation_id: op-batch
units:
  - name: orders
    group: db
    writes:
      order/1: {sku: A-1, qty: 2}
  - name: stock
    group: db
    writes:
      stock/A-1: 8
  - name: audit
    fail: audit offline
assertions:
  - type: stored
    key: order/1
    value: {qty: 2, sku: A-1}
  - type: flush_error
    contains: audit offline
`

// writeFile writes content under dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs cmd with args and returns stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
