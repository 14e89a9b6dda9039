// Package node is the workflow-facing half of feishu-go: the operation
// descriptor and its parameter schema, the read-only operation Registry,
// the Result shapes a handler may return, and the Driver that runs one
// handler over every input row.
//
// The Driver has two modes. Serial mode (no batching block) runs rows one
// at a time and, unless continue-on-fail is set, stops at the first error.
// Parallel mode (batching block present) launches every row without
// waiting, sleeping between batches, then reassembles results in row order.
package node
